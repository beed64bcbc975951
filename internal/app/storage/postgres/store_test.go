package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/request"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/internal/platform/migrations"
)

func newMockTx(t *testing.T) (*Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	tx, err := New(db).Begin(context.Background(), false)
	require.NoError(t, err)
	return tx.(*Tx), mock
}

func TestGetValidatorMapsNoRowsToNotFound(t *testing.T) {
	tx, mock := newMockTx(t)
	mock.ExpectQuery(`SELECT .* FROM validators WHERE id = \$1`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "url", "weight", "approvers", "created_at", "updated_at"}))

	_, err := tx.GetValidator(context.Background(), "v1")
	require.ErrorIs(t, err, errors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetValidatorDecodesApprovers(t *testing.T) {
	tx, mock := newMockTx(t)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM validators WHERE id = \$1`).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "url", "weight", "approvers", "created_at", "updated_at"}).
			AddRow("v1", "https://v1.example", 0.75, "{bp1,bp2}", now, now))

	v, err := tx.GetValidator(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, "https://v1.example", v.URL)
	require.InDelta(t, 0.75, v.Weight, 1e-9)
	require.Equal(t, []string{"bp1", "bp2"}, v.Approvers)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateValidatorMapsUniqueViolation(t *testing.T) {
	tx, mock := newMockTx(t)
	mock.ExpectExec(`INSERT INTO validators`).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := tx.CreateValidator(context.Background(), validator.Validator{ID: "v1"})
	require.ErrorIs(t, err, errors.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateValidatorMissingRow(t *testing.T) {
	tx, mock := newMockTx(t)
	mock.ExpectExec(`UPDATE validators`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := tx.UpdateValidator(context.Background(), validator.Validator{ID: "ghost"})
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestNextRequestIDStartsAtZero(t *testing.T) {
	tx, mock := newMockTx(t)
	mock.ExpectQuery(`INSERT INTO request_sequences`).
		WithArgs("dapp").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(0))

	id, err := tx.NextRequestID(context.Background(), "dapp")
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequestHandlesNullAcceptedAt(t *testing.T) {
	tx, mock := newMockTx(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"application", "id", "payer", "validator", "accepted_by", "min_reputation", "bounty_amount",
		"bounty_symbol", "accepted", "accepted_at", "expiration_seconds", "created_at"}
	mock.ExpectQuery(`SELECT .* FROM requests WHERE application = \$1 AND id = \$2`).
		WithArgs("dapp", int64(3)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("dapp", 3, "alice", "", "", 0.5, 40, "GAS", false, nil, 3600, now))

	req, err := tx.GetRequest(context.Background(), "dapp", 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), req.ID)
	require.Equal(t, asset.New(40, "GAS"), req.Bounty)
	require.True(t, req.AcceptedAt.IsZero())
	require.Equal(t, time.Hour, req.Expiration())
}

func TestAppendCreditEntryDuplicateReference(t *testing.T) {
	tx, mock := newMockTx(t)
	mock.ExpectExec(`INSERT INTO credit_entries`).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := tx.AppendCreditEntry(context.Background(), credit.Entry{
		ID: "e1", Payer: "alice", Type: credit.EntryDeposit,
		Amount: asset.New(10, "GAS"), BalanceAfter: asset.New(10, "GAS"), Reference: "tx-1",
	})
	require.ErrorIs(t, err, errors.ErrAlreadyExists)
}

func TestListCreditEntriesWithLimitKeepsNewest(t *testing.T) {
	tx, mock := newMockTx(t)
	now := time.Now().UTC()
	cols := []string{"seq", "id", "payer", "entry_type", "amount", "symbol", "balance_after", "reference", "created_at"}
	mock.ExpectQuery(`ORDER BY seq DESC LIMIT \$2`).
		WithArgs("alice", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(2, "e2", "alice", "escrow_lock", 40, "GAS", 60, "", now).
			AddRow(3, "e3", "alice", "escrow_release", 40, "GAS", 100, "", now))

	entries, err := tx.ListCreditEntries(context.Background(), "alice", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, credit.EntryEscrowLock, entries[0].Type)
	require.Equal(t, asset.New(100, "GAS"), entries[1].BalanceAfter)
}

func TestRollbackAfterCommitIsNoop(t *testing.T) {
	tx, mock := newMockTx(t)
	mock.ExpectCommit()

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	require.NoError(t, migrations.Apply(dsn))

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	ctx := context.Background()
	app := "itest-" + time.Now().UTC().Format("150405.000000")

	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	first, err := tx.NextRequestID(ctx, app)
	require.NoError(t, err)
	second, err := tx.NextRequestID(ctx, app)
	require.NoError(t, err)
	require.Equal(t, first+1, second)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, tx.CreateRequest(ctx, request.Request{
		Application: app, ID: first, Payer: "alice", Bounty: asset.New(5, "GAS"),
		ExpirationSeconds: 60, CreatedAt: now,
	}))
	require.NoError(t, tx.Commit())

	read, err := store.Begin(ctx, true)
	require.NoError(t, err)
	defer read.Rollback()
	got, err := read.GetRequest(ctx, app, first)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Payer)
	require.False(t, got.Accepted)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/request"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
	"github.com/R3E-Network/dapp_registry/internal/errors"
)

func TestCommitPublishesAndRollbackDiscards(t *testing.T) {
	store := New()
	ctx := context.Background()

	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	require.NoError(t, tx.CreateValidator(ctx, validator.Validator{ID: "v1"}))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx, false)
	require.NoError(t, err)
	require.NoError(t, tx.CreateValidator(ctx, validator.Validator{ID: "v2"}))
	require.NoError(t, tx.Rollback())

	read, err := store.Begin(ctx, true)
	require.NoError(t, err)
	defer read.Rollback()

	list, err := read.ListValidators(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "v1", list[0].ID)
}

func TestReadOnlySnapshotIgnoresLaterCommits(t *testing.T) {
	store := New()
	ctx := context.Background()

	read, err := store.Begin(ctx, true)
	require.NoError(t, err)
	defer read.Rollback()

	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	require.NoError(t, tx.CreateValidator(ctx, validator.Validator{ID: "v1"}))
	require.NoError(t, tx.Commit())

	_, err = read.GetValidator(ctx, "v1")
	require.ErrorIs(t, err, errors.ErrNotFound)
	require.ErrorIs(t, read.CreateValidator(ctx, validator.Validator{ID: "v9"}), errors.ErrInternal)
}

func TestDuplicateAndMissingKeys(t *testing.T) {
	store := New()
	ctx := context.Background()
	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.CreateValidator(ctx, validator.Validator{ID: "v1"}))
	require.ErrorIs(t, tx.CreateValidator(ctx, validator.Validator{ID: "v1"}), errors.ErrAlreadyExists)
	require.ErrorIs(t, tx.DeleteValidator(ctx, "ghost"), errors.ErrNotFound)
	require.ErrorIs(t, tx.DeleteCreditAccount(ctx, "ghost"), errors.ErrNotFound)
	require.ErrorIs(t, tx.DeleteRequest(ctx, "dapp", 7), errors.ErrNotFound)
}

func TestGetReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.CreateValidator(ctx, validator.Validator{ID: "v1", Approvers: []string{"bp1"}}))
	v, err := tx.GetValidator(ctx, "v1")
	require.NoError(t, err)
	v.Approvers[0] = "mutated"

	again, err := tx.GetValidator(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, []string{"bp1"}, again.Approvers)
}

func TestRequestSequenceIsNeverReused(t *testing.T) {
	store := New()
	ctx := context.Background()
	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)

	first, err := tx.NextRequestID(ctx, "dapp")
	require.NoError(t, err)
	require.Equal(t, uint64(0), first)
	require.NoError(t, tx.CreateRequest(ctx, request.Request{Application: "dapp", ID: first}))
	require.NoError(t, tx.DeleteRequest(ctx, "dapp", first))

	second, err := tx.NextRequestID(ctx, "dapp")
	require.NoError(t, err)
	require.Equal(t, uint64(1), second)

	other, err := tx.NextRequestID(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, uint64(0), other)
	require.NoError(t, tx.Commit())
}

func TestCreditEntriesLimitAndReference(t *testing.T) {
	store := New()
	ctx := context.Background()
	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	defer tx.Rollback()

	for i, ref := range []string{"a", "b", "c"} {
		require.NoError(t, tx.AppendCreditEntry(ctx, credit.Entry{
			ID: ref, Payer: "alice", Type: credit.EntryDeposit, Reference: ref,
			Amount: asset.New(int64(i+1), "GAS"), CreatedAt: time.Unix(int64(i), 0),
		}))
	}

	recent, err := tx.ListCreditEntries(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "b", recent[0].ID)
	require.Equal(t, "c", recent[1].ID)

	found, err := tx.HasCreditReference(ctx, credit.EntryDeposit, "b")
	require.NoError(t, err)
	require.True(t, found)
	found, err = tx.HasCreditReference(ctx, credit.EntryRefund, "b")
	require.NoError(t, err)
	require.False(t, found)
}

func TestTransfersFilterByStatus(t *testing.T) {
	store := New()
	ctx := context.Background()
	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.CreateTransfer(ctx, transfer.Transfer{ID: "t1", Status: transfer.StatusPending}))
	require.NoError(t, tx.CreateTransfer(ctx, transfer.Transfer{ID: "t2", Status: transfer.StatusPending}))
	require.NoError(t, tx.UpdateTransfer(ctx, transfer.Transfer{ID: "t1", Status: transfer.StatusCompleted}))

	pending, err := tx.ListTransfers(ctx, transfer.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "t2", pending[0].ID)

	all, err := tx.ListTransfers(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "t1", all[0].ID)
}

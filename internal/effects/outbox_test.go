package effects

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/storage/memory"
	"github.com/R3E-Network/dapp_registry/internal/engine/events"
	"github.com/R3E-Network/dapp_registry/internal/httputil"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
	"github.com/R3E-Network/dapp_registry/pkg/testutil"
)

var quiet = logger.New(logger.LoggingConfig{Level: "error", Output: "discard"})

func schedule(t *testing.T, store *memory.Store, ts ...transfer.Transfer) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	for _, tr := range ts {
		require.NoError(t, tx.CreateTransfer(ctx, tr))
	}
	require.NoError(t, tx.Commit())
}

func pending(id, to string, amount int64) transfer.Transfer {
	return transfer.Transfer{
		ID:       id,
		From:     "dappregistry",
		To:       to,
		Quantity: asset.New(amount, "GAS"),
		Memo:     transfer.MemoRefund,
		Reason:   transfer.ReasonRefund,
		Status:   transfer.StatusPending,
	}
}

func TestOutboxDispatchRecordsOutcome(t *testing.T) {
	store := memory.New()
	service := testutil.NewMockTransferService()
	service.FailFor("bob", 1)
	buf := events.NewRingBuffer(16)
	clock := testutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	outbox := NewOutbox(store, service, clock, quiet, buf, OutboxConfig{MaxAttempts: 2})

	a, b := pending("t1", "alice", 100), pending("t2", "bob", 50)
	schedule(t, store, a, b)

	out := outbox.Dispatch(context.Background(), []transfer.Transfer{a, b})
	require.Len(t, out, 2)
	assert.Equal(t, transfer.StatusCompleted, out[0].Status)
	assert.Equal(t, transfer.StatusFailed, out[1].Status)
	assert.Equal(t, 1, out[1].Attempts)
	assert.NotEmpty(t, out[1].LastError)

	require.Len(t, service.Sent(), 1)
	assert.Equal(t, "alice", service.Sent()[0].To)

	assert.Len(t, buf.RecentByType(events.EventTransferCompleted, 10), 1)
	assert.Len(t, buf.RecentByType(events.EventTransferFailed, 10), 1)

	// A second dispatch of a completed transfer is a no-op.
	again := outbox.Dispatch(context.Background(), []transfer.Transfer{a})
	assert.Equal(t, transfer.StatusCompleted, again[0].Status)
	assert.Len(t, service.Sent(), 1)
}

func TestOutboxDrainRetriesUntilExhausted(t *testing.T) {
	store := memory.New()
	service := testutil.NewMockTransferService()
	service.FailFor("bob", 5)
	outbox := NewOutbox(store, service, nil, quiet, nil, OutboxConfig{MaxAttempts: 3})

	schedule(t, store, pending("t1", "bob", 10), pending("t2", "carol", 20))

	res, err := outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Attempted: 2, Completed: 1, Failed: 1, Outstanding: 1}, res)

	for i := 0; i < 3; i++ {
		_, err = outbox.Drain(context.Background())
		require.NoError(t, err)
	}

	tx, err := store.Begin(context.Background(), true)
	require.NoError(t, err)
	defer tx.Rollback()
	stuck, err := tx.GetTransfer(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusFailed, stuck.Status)
	assert.Equal(t, 3, stuck.Attempts)
}

func TestOutboxRecoversAfterFailure(t *testing.T) {
	store := memory.New()
	service := testutil.NewMockTransferService()
	service.FailFor("bob", 1)
	outbox := NewOutbox(store, service, nil, quiet, nil, OutboxConfig{MaxAttempts: 3})

	tr := pending("t1", "bob", 10)
	schedule(t, store, tr)
	out := outbox.Dispatch(context.Background(), []transfer.Transfer{tr})
	require.Equal(t, transfer.StatusFailed, out[0].Status)

	res, err := outbox.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Zero(t, res.Outstanding)
}

func TestOutboxStartRejectsBadSchedule(t *testing.T) {
	outbox := NewOutbox(memory.New(), NewLogService(quiet), nil, quiet, nil, OutboxConfig{RetrySchedule: "every now and then"})
	assert.Error(t, outbox.Start(context.Background()))
}

func TestOutboxStartStop(t *testing.T) {
	outbox := NewOutbox(memory.New(), NewLogService(quiet), nil, quiet, nil, OutboxConfig{})
	require.NoError(t, outbox.Start(context.Background()))
	require.NoError(t, outbox.Start(context.Background()))
	outbox.Stop()
	outbox.Stop()
}

func TestHTTPServicePostsTransfer(t *testing.T) {
	var got transferRequest
	var token atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ledger/transfer" {
			http.NotFound(w, r)
			return
		}
		token.Store(r.Header.Get(httputil.ServiceTokenHeader))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"tx_id":"abc"}`))
	}))
	defer srv.Close()

	svc := NewHTTPService(HTTPServiceConfig{BaseURL: srv.URL, Path: "/ledger/transfer", ServiceID: "registry", Secret: []byte("s3cret")})
	require.NoError(t, svc.Transfer(context.Background(), pending("t9", "alice", 250)))

	assert.Equal(t, "t9", got.ID)
	assert.Equal(t, "alice", got.To)
	assert.Equal(t, int64(250), got.Amount)
	assert.Equal(t, "GAS", got.Symbol)
	assert.Equal(t, transfer.MemoRefund, got.Memo)
	assert.NotEmpty(t, token.Load())
}

func TestHTTPServiceReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusConflict)
	}))
	defer srv.Close()

	svc := NewHTTPService(HTTPServiceConfig{BaseURL: srv.URL})
	err := svc.Transfer(context.Background(), pending("t1", "alice", 1))
	require.Error(t, err)

	var status *httputil.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusConflict, status.StatusCode)
}

package effects

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/metrics"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/chain"
	"github.com/R3E-Network/dapp_registry/internal/engine/events"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// DefaultRetrySchedule drains the outbox every minute.
const DefaultRetrySchedule = "@every 1m"

// OutboxConfig tunes the dispatcher.
type OutboxConfig struct {
	MaxAttempts   int
	RetrySchedule string
	Timeout       time.Duration
}

// Outbox sends committed transfers through a TransferService and records the
// outcome on the stored row. Failed transfers stay in the outbox and are
// retried by Drain until they reach MaxAttempts.
type Outbox struct {
	store   storage.Store
	service TransferService
	clock   chain.Clock
	log     *logger.Logger
	events  events.Publisher
	cfg     OutboxConfig

	mu   sync.Mutex // one sender at a time
	cron *cron.Cron
}

// DrainResult summarizes one outbox pass.
type DrainResult struct {
	Attempted   int
	Completed   int
	Failed      int
	Outstanding int
}

// NewOutbox creates a dispatcher. A nil publisher discards events.
func NewOutbox(store storage.Store, service TransferService, clock chain.Clock, log *logger.Logger, pub events.Publisher, cfg OutboxConfig) *Outbox {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetrySchedule == "" {
		cfg.RetrySchedule = DefaultRetrySchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("outbox")
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if clock == nil {
		clock = chain.SystemClock{}
	}
	return &Outbox{store: store, service: service, clock: clock, log: log, events: pub, cfg: cfg}
}

// Dispatch sends freshly committed transfers. Outcomes are recorded on the
// outbox rows; the returned slice reflects them.
func (o *Outbox) Dispatch(ctx context.Context, pending []transfer.Transfer) []transfer.Transfer {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]transfer.Transfer, 0, len(pending))
	for _, t := range pending {
		out = append(out, o.send(ctx, t.ID))
	}
	return out
}

// Drain retries every transfer that is not completed and still has attempts
// left.
func (o *Outbox) Drain(ctx context.Context) (DrainResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var result DrainResult
	candidates, err := o.outstanding(ctx)
	if err != nil {
		return result, err
	}
	for _, t := range candidates {
		if t.Attempts >= o.cfg.MaxAttempts {
			continue
		}
		result.Attempted++
		sent := o.send(ctx, t.ID)
		switch sent.Status {
		case transfer.StatusCompleted:
			result.Completed++
		case transfer.StatusFailed:
			result.Failed++
		}
	}

	remaining, err := o.outstanding(ctx)
	if err != nil {
		return result, err
	}
	result.Outstanding = len(remaining)
	metrics.SetOutstandingTransfers(result.Outstanding)
	return result, nil
}

// Start schedules Drain on the retry schedule.
func (o *Outbox) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cron != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(o.cfg.RetrySchedule, func() {
		res, err := o.Drain(ctx)
		if err != nil {
			o.log.WithError(err).Warn("outbox drain failed")
			return
		}
		if res.Attempted > 0 {
			o.log.WithField("attempted", res.Attempted).
				WithField("completed", res.Completed).
				WithField("failed", res.Failed).
				Info("outbox drained")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule outbox retries %q: %w", o.cfg.RetrySchedule, err)
	}
	c.Start()
	o.cron = c
	return nil
}

// Stop halts the retry schedule and waits for a running drain to finish.
func (o *Outbox) Stop() {
	o.mu.Lock()
	c := o.cron
	o.cron = nil
	o.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (o *Outbox) outstanding(ctx context.Context) ([]transfer.Transfer, error) {
	tx, err := o.store.Begin(ctx, true)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pending, err := tx.ListTransfers(ctx, transfer.StatusPending)
	if err != nil {
		return nil, err
	}
	failed, err := tx.ListTransfers(ctx, transfer.StatusFailed)
	if err != nil {
		return nil, err
	}
	return append(pending, failed...), nil
}

func (o *Outbox) load(ctx context.Context, id string) (transfer.Transfer, error) {
	tx, err := o.store.Begin(ctx, true)
	if err != nil {
		return transfer.Transfer{}, err
	}
	defer tx.Rollback()
	return tx.GetTransfer(ctx, id)
}

// send performs one attempt for the transfer with the given id. The caller
// holds o.mu.
func (o *Outbox) send(ctx context.Context, id string) transfer.Transfer {
	t, err := o.load(ctx, id)
	if err != nil {
		o.log.WithError(err).WithField("transfer_id", id).Error("load outbox transfer")
		return transfer.Transfer{ID: id, Status: transfer.StatusFailed, LastError: err.Error()}
	}
	if t.Status == transfer.StatusCompleted || t.Attempts >= o.cfg.MaxAttempts {
		return t
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Timeout)
	sendErr := o.service.Transfer(callCtx, t)
	cancel()

	t.Attempts++
	t.UpdatedAt = o.clock.Now()
	if sendErr != nil {
		t.Status = transfer.StatusFailed
		t.LastError = sendErr.Error()
	} else {
		t.Status = transfer.StatusCompleted
		t.LastError = ""
	}

	if err := o.record(ctx, t); err != nil {
		o.log.WithError(err).WithField("transfer_id", t.ID).Error("record transfer outcome")
	}
	metrics.RecordTransfer(t.Reason, t.Status)

	entry := o.log.WithContext(ctx).
		WithField("transfer_id", t.ID).
		WithField("to", t.To).
		WithField("quantity", t.Quantity.String()).
		WithField("attempts", t.Attempts)
	kind := events.EventTransferCompleted
	if sendErr != nil {
		kind = events.EventTransferFailed
	}
	builder := events.New(kind).
		Subject(t.ID).
		Actor(t.To).
		Message(t.Memo).
		Metadata("reason", t.Reason).
		Metadata("quantity", t.Quantity.String()).
		Metadata("attempts", strconv.Itoa(t.Attempts)).
		ErrorFrom(sendErr)
	if sendErr != nil {
		entry.WithError(sendErr).Warn("transfer failed; kept in outbox")
		if t.Attempts >= o.cfg.MaxAttempts {
			builder.Metadata("exhausted", "true")
		}
	} else {
		entry.Info("transfer completed")
	}
	builder.PublishTo(ctx, o.events)
	return t
}

func (o *Outbox) record(ctx context.Context, t transfer.Transfer) error {
	tx, err := o.store.Begin(context.WithoutCancel(ctx), false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.UpdateTransfer(context.WithoutCancel(ctx), t); err != nil {
		return err
	}
	return tx.Commit()
}

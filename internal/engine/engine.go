// Package engine executes registry commands. Commands are serialized by one
// process-wide lock and each runs inside a single storage transaction: a
// failing command leaves no trace. Token transfers a command schedules are
// written to the outbox inside that transaction and handed to the effect
// handler only after commit.
package engine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/application"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
	"github.com/R3E-Network/dapp_registry/internal/app/metrics"
	"github.com/R3E-Network/dapp_registry/internal/app/services/catalog"
	"github.com/R3E-Network/dapp_registry/internal/app/services/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/services/requests"
	"github.com/R3E-Network/dapp_registry/internal/app/services/validations"
	"github.com/R3E-Network/dapp_registry/internal/app/services/validators"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/chain"
	"github.com/R3E-Network/dapp_registry/internal/engine/events"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// SystemActor is the identity of the operator for system-initiated verbs.
const SystemActor = "system"

// Command verbs.
const (
	VerbRegisterValidator   = "register_validator"
	VerbDeregisterValidator = "deregister_validator"
	VerbApproveValidator    = "approve_validator"
	VerbUnapproveValidator  = "unapprove_validator"
	VerbDeposit             = "deposit"
	VerbRequest             = "request"
	VerbCancelRequest       = "cancel_request"
	VerbAcceptRequest       = "accept_request"
	VerbRefund              = "refund"
	VerbSubmitValidation    = "submit_validation"
	VerbRemoveValidation    = "remove_validation"
	VerbEndorseValidation   = "endorse_validation"
	VerbUpdateTelemetry     = "update_telemetry"
	VerbUpsertApplication   = "upsert_application"
)

// Services bundles the domain services the engine drives.
type Services struct {
	Credit      *credit.Service
	Validators  *validators.Service
	Requests    *requests.Service
	Validations *validations.Service
	Catalog     *catalog.Service
}

// EffectHandler executes committed transfers and reports their outcome.
type EffectHandler interface {
	Dispatch(ctx context.Context, pending []transfer.Transfer) []transfer.Transfer
}

// EffectHandlerFunc adapts a function to EffectHandler.
type EffectHandlerFunc func(ctx context.Context, pending []transfer.Transfer) []transfer.Transfer

func (f EffectHandlerFunc) Dispatch(ctx context.Context, pending []transfer.Transfer) []transfer.Transfer {
	return f(ctx, pending)
}

// Options configures an Engine.
type Options struct {
	// SystemAccount pays out bounties and refunds.
	SystemAccount string
	Clock         chain.Clock
	Effects       EffectHandler
	Events        events.Publisher
	Log           *logger.Logger
}

// Result is the outcome of a committed command.
type Result struct {
	Verb    string              `json:"verb"`
	Record  any                 `json:"record,omitempty"`
	Effects []transfer.Transfer `json:"effects"`
}

// Engine is the single writer over the registry state.
type Engine struct {
	mu sync.Mutex

	store         storage.Store
	svc           Services
	systemAccount string
	clock         chain.Clock
	effects       EffectHandler
	events        events.Publisher
	log           *logger.Logger
}

// New creates an engine.
func New(store storage.Store, svc Services, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = chain.SystemClock{}
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Log == nil {
		opts.Log = logger.NewDefault("engine")
	}
	return &Engine{
		store:         store,
		svc:           svc,
		systemAccount: opts.SystemAccount,
		clock:         opts.Clock,
		effects:       opts.Effects,
		events:        opts.Events,
		log:           opts.Log,
	}
}

// SystemAccount returns the account that holds escrowed funds.
func (e *Engine) SystemAccount() string { return e.systemAccount }

// Services returns the services for read paths.
func (e *Engine) Services() Services { return e.svc }

// outcome is what a command body hands back to execute.
type outcome struct {
	record    any
	transfers []transfer.Transfer
	weights   []validator.Validator
	forgotten []string
}

type command struct {
	verb        string
	actor       string
	application string
	subject     string
	run         func(ctx context.Context, tx storage.Tx) (outcome, error)
}

func (e *Engine) execute(ctx context.Context, cmd command) (Result, error) {
	start := time.Now()
	result, out, err := e.commit(ctx, cmd)
	if err != nil {
		metrics.RecordAction(cmd.verb, "error", time.Since(start))
		e.log.WithContext(ctx).
			WithError(err).
			WithField("verb", cmd.verb).
			WithField("actor", cmd.actor).
			Info("action rejected")
		e.builder(events.EventActionRejected, cmd).
			Severity(events.SeverityWarning).
			ErrorFrom(err).
			PublishTo(ctx, e.events)
		return Result{}, err
	}
	metrics.RecordAction(cmd.verb, "ok", time.Since(start))

	for _, v := range out.weights {
		metrics.SetValidatorWeight(v.ID, v.Weight)
		events.New(events.EventValidatorWeight).
			Verb(cmd.verb).
			Actor(cmd.actor).
			Subject(v.ID).
			Metadata("weight", strconv.FormatFloat(v.Weight, 'f', -1, 64)).
			PublishTo(ctx, e.events)
	}
	for _, id := range out.forgotten {
		metrics.ForgetValidator(id)
	}
	e.builder(events.EventActionCommitted, cmd).
		Metadata("effects", strconv.Itoa(len(result.Effects))).
		PublishTo(ctx, e.events)

	if len(result.Effects) > 0 && e.effects != nil {
		result.Effects = e.effects.Dispatch(context.WithoutCancel(ctx), result.Effects)
	}
	return result, nil
}

func (e *Engine) commit(ctx context.Context, cmd command) (Result, outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx, false)
	if err != nil {
		return Result{}, outcome{}, err
	}
	defer tx.Rollback()

	out, err := cmd.run(ctx, tx)
	if err != nil {
		return Result{}, outcome{}, err
	}
	scheduled, err := e.schedule(ctx, tx, out.transfers)
	if err != nil {
		return Result{}, outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, outcome{}, err
	}
	return Result{Verb: cmd.verb, Record: out.record, Effects: scheduled}, out, nil
}

// schedule completes the transfers a command produced and writes them to
// the outbox.
func (e *Engine) schedule(ctx context.Context, tx storage.Tx, pending []transfer.Transfer) ([]transfer.Transfer, error) {
	out := make([]transfer.Transfer, 0, len(pending))
	now := e.clock.Now()
	for _, t := range pending {
		t.ID = uuid.NewString()
		t.From = e.systemAccount
		t.Status = transfer.StatusPending
		t.CreatedAt = now
		t.UpdatedAt = now
		if err := tx.CreateTransfer(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (e *Engine) builder(kind events.EventType, cmd command) *events.Builder {
	return events.New(kind).
		Verb(cmd.verb).
		Actor(cmd.actor).
		Application(cmd.application).
		Subject(cmd.subject)
}

// View runs fn in a read-only transaction.
func (e *Engine) View(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := e.store.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(ctx, tx)
}

// --- Validator registry ------------------------------------------------------

// RegisterValidator registers id as a validator.
func (e *Engine) RegisterValidator(ctx context.Context, id, url string) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbRegisterValidator, actor: id, subject: id,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			v, err := e.svc.Validators.Register(ctx, tx, id, url)
			return outcome{record: v, weights: []validator.Validator{v}}, err
		},
	})
}

// DeregisterValidator removes validator id.
func (e *Engine) DeregisterValidator(ctx context.Context, id string) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbDeregisterValidator, actor: id, subject: id,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			err := e.svc.Validators.Deregister(ctx, tx, id)
			return outcome{forgotten: []string{id}}, err
		},
	})
}

// ApproveValidator records authority's approval of validator id.
func (e *Engine) ApproveValidator(ctx context.Context, authority, id string) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbApproveValidator, actor: authority, subject: id,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			v, err := e.svc.Validators.Approve(ctx, tx, authority, id)
			return outcome{record: v, weights: []validator.Validator{v}}, err
		},
	})
}

// UnapproveValidator withdraws authority's approval of validator id.
func (e *Engine) UnapproveValidator(ctx context.Context, authority, id string) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbUnapproveValidator, actor: authority, subject: id,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			v, err := e.svc.Validators.Unapprove(ctx, tx, authority, id)
			return outcome{record: v, weights: []validator.Validator{v}}, err
		},
	})
}

// --- Credit ledger -----------------------------------------------------------

// Deposit credits payer with an incoming transfer.
func (e *Engine) Deposit(ctx context.Context, payer string, amount asset.Asset, reference string) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbDeposit, actor: SystemActor, subject: payer,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			acct, err := e.svc.Credit.Deposit(ctx, tx, payer, amount, reference)
			return outcome{record: acct}, err
		},
	})
}

// Refund withdraws amount from payer's escrow and pays it out.
func (e *Engine) Refund(ctx context.Context, payer string, amount asset.Asset) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbRefund, actor: SystemActor, subject: payer,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			acct, err := e.svc.Credit.Refund(ctx, tx, payer, amount, "")
			if err != nil {
				return outcome{}, err
			}
			return outcome{
				record: acct,
				transfers: []transfer.Transfer{{
					To:       payer,
					Quantity: amount,
					Memo:     transfer.MemoRefund,
					Reason:   transfer.ReasonRefund,
				}},
			}, nil
		},
	})
}

// --- Requests ----------------------------------------------------------------

// CreateRequest escrows a bounty and opens a request.
func (e *Engine) CreateRequest(ctx context.Context, in requests.CreateInput) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbRequest, actor: in.Payer, application: in.Application,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			req, err := e.svc.Requests.Create(ctx, tx, in)
			return outcome{record: req}, err
		},
	})
}

// CancelRequest returns an open or expired request's bounty to its payer.
func (e *Engine) CancelRequest(ctx context.Context, payer, app string, id uint64) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbCancelRequest, actor: payer, application: app, subject: requests.Reference(app, id),
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			req, err := e.svc.Requests.Cancel(ctx, tx, payer, app, id)
			return outcome{record: req}, err
		},
	})
}

// AcceptRequest binds validatorID to a request.
func (e *Engine) AcceptRequest(ctx context.Context, validatorID, app string, id uint64) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbAcceptRequest, actor: validatorID, application: app, subject: requests.Reference(app, id),
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			before, err := tx.GetValidator(ctx, validatorID)
			if err != nil {
				return outcome{}, err
			}
			req, err := e.svc.Requests.Accept(ctx, tx, validatorID, app, id)
			if err != nil {
				return outcome{}, err
			}
			out := outcome{record: req}
			if after, err := tx.GetValidator(ctx, validatorID); err == nil && after.Weight != before.Weight {
				out.weights = []validator.Validator{after}
			}
			return out, nil
		},
	})
}

// --- Validations -------------------------------------------------------------

// SubmitValidation records an attestation, fulfilling a request when one is
// referenced.
func (e *Engine) SubmitValidation(ctx context.Context, in validations.SubmitInput) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbSubmitValidation, actor: in.Validator, application: in.Application, subject: in.Validator,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			v, transfers, err := e.svc.Validations.Submit(ctx, tx, in)
			return outcome{record: v, transfers: transfers}, err
		},
	})
}

// RemoveValidation deletes validatorID's attestation of app.
func (e *Engine) RemoveValidation(ctx context.Context, validatorID, app string) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbRemoveValidation, actor: validatorID, application: app, subject: validatorID,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			return outcome{}, e.svc.Validations.Remove(ctx, tx, validatorID, app)
		},
	})
}

// EndorseValidation counts authority's endorsement of an attestation.
func (e *Engine) EndorseValidation(ctx context.Context, authority, validatorID, app string) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbEndorseValidation, actor: authority, application: app, subject: validatorID,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			v, err := e.svc.Validations.Endorse(ctx, tx, authority, validatorID, app)
			return outcome{record: v}, err
		},
	})
}

// --- Catalog -----------------------------------------------------------------

// UpsertApplication creates or replaces a catalog record.
func (e *Engine) UpsertApplication(ctx context.Context, app application.Application) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbUpsertApplication, actor: app.Account, application: app.Account,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			stored, err := e.svc.Catalog.Upsert(ctx, tx, app)
			return outcome{record: stored}, err
		},
	})
}

// UpdateTelemetry records resource averages for an application action.
func (e *Engine) UpdateTelemetry(ctx context.Context, app, action string, net, cpu, ram uint32) (Result, error) {
	return e.execute(ctx, command{
		verb: VerbUpdateTelemetry, actor: SystemActor, application: app, subject: action,
		run: func(ctx context.Context, tx storage.Tx) (outcome, error) {
			stored, err := e.svc.Catalog.UpdateTelemetry(ctx, tx, app, action, net, cpu, ram)
			return outcome{record: stored}, err
		},
	})
}

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/application"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	"github.com/R3E-Network/dapp_registry/internal/app/services/requests"
	"github.com/R3E-Network/dapp_registry/internal/app/services/validations"
	"github.com/R3E-Network/dapp_registry/internal/errors"
)

// Handler runs one verb for an authenticated actor.
type Handler func(ctx context.Context, actor string, payload json.RawMessage) (Result, error)

// Dispatcher routes verbs to engine commands. The table is fixed at
// construction.
type Dispatcher struct {
	handlers map[string]Handler
}

type validatorPayload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type approvalPayload struct {
	Authority string `json:"authority"`
	ID        string `json:"id"`
}

type depositPayload struct {
	Payer     string      `json:"payer"`
	Amount    asset.Asset `json:"amount"`
	Reference string      `json:"reference"`
}

type refundPayload struct {
	Payer  string      `json:"payer"`
	Amount asset.Asset `json:"amount"`
}

type requestPayload struct {
	Payer         string      `json:"payer"`
	Application   string      `json:"application"`
	Validator     string      `json:"validator"`
	Bounty        asset.Asset `json:"bounty"`
	Expiration    int64       `json:"expiration"`
	MinReputation float64     `json:"min_reputation"`
}

type requestRefPayload struct {
	Payer       string `json:"payer"`
	Validator   string `json:"validator"`
	Application string `json:"application"`
	ID          uint64 `json:"id"`
}

type submitPayload struct {
	Validator   string `json:"validator"`
	Application string `json:"application"`
	CodeHash    string `json:"code_hash"`
	Tag         string `json:"tag"`
	Notes       string `json:"notes"`
	RequestID   *int64 `json:"request_id"`
}

type validationRefPayload struct {
	Authority   string `json:"authority"`
	Validator   string `json:"validator"`
	Application string `json:"application"`
}

type telemetryPayload struct {
	Application string `json:"application"`
	Action      string `json:"action"`
	Net         uint32 `json:"net"`
	CPU         uint32 `json:"cpu"`
	RAM         uint32 `json:"ram"`
}

// NewDispatcher builds the verb table over e.
func NewDispatcher(e *Engine) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler)}

	d.handlers[VerbRegisterValidator] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p validatorPayload
		if err := authorize(raw, &p, actor, func() string { return p.ID }); err != nil {
			return Result{}, err
		}
		return e.RegisterValidator(ctx, p.ID, p.URL)
	}
	d.handlers[VerbDeregisterValidator] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p validatorPayload
		if err := authorize(raw, &p, actor, func() string { return p.ID }); err != nil {
			return Result{}, err
		}
		return e.DeregisterValidator(ctx, p.ID)
	}
	d.handlers[VerbApproveValidator] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p approvalPayload
		if err := authorize(raw, &p, actor, func() string { return p.Authority }); err != nil {
			return Result{}, err
		}
		return e.ApproveValidator(ctx, p.Authority, p.ID)
	}
	d.handlers[VerbUnapproveValidator] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p approvalPayload
		if err := authorize(raw, &p, actor, func() string { return p.Authority }); err != nil {
			return Result{}, err
		}
		return e.UnapproveValidator(ctx, p.Authority, p.ID)
	}
	d.handlers[VerbDeposit] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p depositPayload
		if err := authorize(raw, &p, actor, system); err != nil {
			return Result{}, err
		}
		return e.Deposit(ctx, p.Payer, p.Amount, p.Reference)
	}
	d.handlers[VerbRefund] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p refundPayload
		if err := authorize(raw, &p, actor, system); err != nil {
			return Result{}, err
		}
		return e.Refund(ctx, p.Payer, p.Amount)
	}
	d.handlers[VerbRequest] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p requestPayload
		if err := authorize(raw, &p, actor, func() string { return p.Payer }); err != nil {
			return Result{}, err
		}
		return e.CreateRequest(ctx, requests.CreateInput{
			Payer:             p.Payer,
			Application:       p.Application,
			Validator:         p.Validator,
			Bounty:            p.Bounty,
			ExpirationSeconds: p.Expiration,
			MinReputation:     p.MinReputation,
		})
	}
	d.handlers[VerbCancelRequest] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p requestRefPayload
		if err := authorize(raw, &p, actor, func() string { return p.Payer }); err != nil {
			return Result{}, err
		}
		return e.CancelRequest(ctx, p.Payer, p.Application, p.ID)
	}
	d.handlers[VerbAcceptRequest] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p requestRefPayload
		if err := authorize(raw, &p, actor, func() string { return p.Validator }); err != nil {
			return Result{}, err
		}
		return e.AcceptRequest(ctx, p.Validator, p.Application, p.ID)
	}
	d.handlers[VerbSubmitValidation] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p submitPayload
		if err := authorize(raw, &p, actor, func() string { return p.Validator }); err != nil {
			return Result{}, err
		}
		requestID := validations.NoRequest
		if p.RequestID != nil {
			requestID = *p.RequestID
		}
		return e.SubmitValidation(ctx, validations.SubmitInput{
			Validator:   p.Validator,
			Application: p.Application,
			CodeHash:    p.CodeHash,
			Tag:         p.Tag,
			Notes:       p.Notes,
			RequestID:   requestID,
		})
	}
	d.handlers[VerbRemoveValidation] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p validationRefPayload
		if err := authorize(raw, &p, actor, func() string { return p.Validator }); err != nil {
			return Result{}, err
		}
		return e.RemoveValidation(ctx, p.Validator, p.Application)
	}
	d.handlers[VerbEndorseValidation] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p validationRefPayload
		if err := authorize(raw, &p, actor, func() string { return p.Authority }); err != nil {
			return Result{}, err
		}
		return e.EndorseValidation(ctx, p.Authority, p.Validator, p.Application)
	}
	d.handlers[VerbUpdateTelemetry] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p telemetryPayload
		if err := authorize(raw, &p, actor, system); err != nil {
			return Result{}, err
		}
		return e.UpdateTelemetry(ctx, p.Application, p.Action, p.Net, p.CPU, p.RAM)
	}
	d.handlers[VerbUpsertApplication] = func(ctx context.Context, actor string, raw json.RawMessage) (Result, error) {
		var p application.Application
		if err := authorize(raw, &p, actor, func() string { return p.Account }); err != nil {
			return Result{}, err
		}
		return e.UpsertApplication(ctx, p)
	}
	return d
}

// Dispatch runs verb for actor. Unknown verbs fail with NotFound.
func (d *Dispatcher) Dispatch(ctx context.Context, verb, actor string, payload json.RawMessage) (Result, error) {
	h, ok := d.handlers[verb]
	if !ok {
		return Result{}, errors.NotFound("unknown verb %q", verb)
	}
	return h(ctx, actor, payload)
}

// Verbs lists the registered verbs.
func (d *Dispatcher) Verbs() []string {
	out := make([]string, 0, len(d.handlers))
	for v := range d.handlers {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func system() string { return SystemActor }

// authorize decodes raw into dst and checks that actor is the identity the
// verb requires.
func authorize(raw json.RawMessage, dst any, actor string, required func() string) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.InvalidField("malformed payload: %v", err)
	}
	want := required()
	if actor == "" || want == "" || actor != want {
		return errors.Unauthorized("action must be authorized by %q", want)
	}
	return nil
}

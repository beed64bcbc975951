// Package requests runs the bounty request life cycle:
//
//	Open -> Accepted -> Fulfilled | Cancelled | Expired
//
// The bounty is escrowed when the request is created. Terminal transitions
// delete the request; a cancelled or expired request returns the bounty to
// the payer's credit, a fulfilled one pays it to the accepting validator.
package requests

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	domain "github.com/R3E-Network/dapp_registry/internal/app/domain/request"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/services/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/services/validators"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/chain"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// CreateInput describes a new bounty offer.
type CreateInput struct {
	Payer             string
	Application       string
	Validator         string // optional pre-assignment
	Bounty            asset.Asset
	ExpirationSeconds int64
	MinReputation     float64
}

// Service implements the request state machine.
type Service struct {
	credit     *credit.Service
	validators *validators.Service
	clock      chain.Clock
	log        *logger.Logger
}

// New constructs a request service.
func New(creditSvc *credit.Service, validatorSvc *validators.Service, clock chain.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = chain.SystemClock{}
	}
	if log == nil {
		log = logger.NewDefault("requests")
	}
	return &Service{credit: creditSvc, validators: validatorSvc, clock: clock, log: log}
}

// Create escrows the bounty and opens a request under the application's next
// id.
func (s *Service) Create(ctx context.Context, tx storage.Tx, in CreateInput) (domain.Request, error) {
	if strings.TrimSpace(in.Payer) == "" {
		return domain.Request{}, errors.InvalidField("payer is required")
	}
	if !in.Bounty.IsPositive() {
		return domain.Request{}, errors.InvalidAmount("bounty must be positive, got %d", in.Bounty.Amount)
	}
	if in.ExpirationSeconds < 0 {
		return domain.Request{}, errors.InvalidField("expiration must not be negative")
	}
	if in.ExpirationSeconds > domain.MaxExpirationSeconds {
		return domain.Request{}, errors.InvalidField("expiration exceeds %d seconds", domain.MaxExpirationSeconds)
	}
	if _, err := tx.GetApplication(ctx, in.Application); err != nil {
		return domain.Request{}, err
	}

	id, err := tx.NextRequestID(ctx, in.Application)
	if err != nil {
		return domain.Request{}, err
	}
	if _, err := s.credit.Debit(ctx, tx, in.Payer, in.Bounty, Reference(in.Application, id)); err != nil {
		return domain.Request{}, err
	}

	req := domain.Request{
		Application:       in.Application,
		ID:                id,
		Payer:             in.Payer,
		Validator:         in.Validator,
		MinReputation:     in.MinReputation,
		Bounty:            in.Bounty,
		ExpirationSeconds: in.ExpirationSeconds,
		CreatedAt:         s.clock.Now(),
	}
	if err := tx.CreateRequest(ctx, req); err != nil {
		return domain.Request{}, err
	}
	s.log.WithField("application", req.Application).
		WithField("request_id", req.ID).
		WithField("payer", req.Payer).
		WithField("bounty", req.Bounty.String()).
		Info("request opened")
	return req, nil
}

// Accept binds a validator to the request after a fresh reputation check.
func (s *Service) Accept(ctx context.Context, tx storage.Tx, validatorID, app string, id uint64) (domain.Request, error) {
	if _, err := tx.GetValidator(ctx, validatorID); err != nil {
		return domain.Request{}, err
	}
	req, err := tx.GetRequest(ctx, app, id)
	if err != nil {
		return domain.Request{}, err
	}
	if req.Validator != "" && req.Validator != validatorID {
		return domain.Request{}, errors.ValidatorMismatch("request %s#%d is assigned to %s", app, id, req.Validator)
	}
	now := s.clock.Now()
	if req.Live(now) {
		return domain.Request{}, errors.RequestStillActive("request %s#%d is held by %s until %s", app, id, req.AcceptedBy, req.Deadline().Format(time.RFC3339))
	}

	v, err := s.validators.Recompute(ctx, tx, validatorID)
	if err != nil {
		return domain.Request{}, err
	}
	if v.Weight < req.MinReputation {
		return domain.Request{}, errors.InsufficientReputation("%s has reputation %.4f, request needs %.4f", validatorID, v.Weight, req.MinReputation)
	}

	req.Accepted = true
	req.AcceptedAt = now
	req.AcceptedBy = validatorID
	if err := tx.UpdateRequest(ctx, req); err != nil {
		return domain.Request{}, err
	}
	s.log.WithField("application", app).
		WithField("request_id", id).
		WithField("validator", validatorID).
		Info("request accepted")
	return req, nil
}

// Cancel returns the bounty to the payer and deletes the request. A request
// accepted and still within its expiration cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, tx storage.Tx, payer, app string, id uint64) (domain.Request, error) {
	req, err := tx.GetRequest(ctx, app, id)
	if err != nil {
		return domain.Request{}, err
	}
	if req.Payer != payer {
		return domain.Request{}, errors.Unauthorized("request %s#%d belongs to %s", app, id, req.Payer)
	}
	if req.Live(s.clock.Now()) {
		return domain.Request{}, errors.RequestStillActive("request %s#%d is still active", app, id)
	}

	if _, err := s.credit.Credit(ctx, tx, req.Payer, req.Bounty, Reference(req.Application, req.ID)); err != nil {
		return domain.Request{}, err
	}
	if err := tx.DeleteRequest(ctx, app, id); err != nil {
		return domain.Request{}, err
	}
	s.log.WithField("application", app).
		WithField("request_id", id).
		WithField("state", string(req.StateAt(s.clock.Now()))).
		Info("request cancelled")
	return req, nil
}

// Fulfill closes an accepted, unexpired request held by validatorID and
// returns the bounty payout to schedule.
func (s *Service) Fulfill(ctx context.Context, tx storage.Tx, validatorID, app string, id uint64) (transfer.Transfer, error) {
	req, err := tx.GetRequest(ctx, app, id)
	if err != nil {
		return transfer.Transfer{}, err
	}
	if !req.Accepted {
		return transfer.Transfer{}, errors.RequestExpired("request %s#%d was never accepted", app, id)
	}
	if req.AcceptedBy != validatorID {
		return transfer.Transfer{}, errors.ValidatorMismatch("request %s#%d was accepted by %s", app, id, req.AcceptedBy)
	}
	if !s.clock.Now().Before(req.Deadline()) {
		return transfer.Transfer{}, errors.RequestExpired("request %s#%d expired", app, id)
	}

	if err := tx.DeleteRequest(ctx, app, id); err != nil {
		return transfer.Transfer{}, err
	}
	s.log.WithField("application", app).
		WithField("request_id", id).
		WithField("validator", validatorID).
		Info("request fulfilled")
	return transfer.Transfer{
		To:       req.AcceptedBy,
		Quantity: req.Bounty,
		Memo:     transfer.MemoBounty,
		Reason:   transfer.ReasonBounty,
	}, nil
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, store storage.RequestStore, app string, id uint64) (domain.Request, error) {
	return store.GetRequest(ctx, app, id)
}

// List returns the application's open requests ordered by id.
func (s *Service) List(ctx context.Context, store storage.RequestStore, app string) ([]domain.Request, error) {
	return store.ListRequests(ctx, app)
}

// OpenBounties sums open bounties per payer.
func OpenBounties(reqs []domain.Request) map[string]int64 {
	out := make(map[string]int64)
	for _, r := range reqs {
		out[r.Payer] += r.Bounty.Amount
	}
	return out
}

// Reference names a request in credit journal entries.
func Reference(app string, id uint64) string {
	return app + "#" + strconv.FormatUint(id, 10)
}

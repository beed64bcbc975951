// Package validations records validator attestations of applications. There
// is one record per (application, validator); resubmitting bumps its version
// and clears its endorsements.
package validations

import (
	"context"
	"encoding/hex"
	"strings"

	domain "github.com/R3E-Network/dapp_registry/internal/app/domain/validation"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/services/catalog"
	"github.com/R3E-Network/dapp_registry/internal/app/services/requests"
	"github.com/R3E-Network/dapp_registry/internal/app/services/validators"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/chain"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

const (
	// NoRequest submits a validation without claiming a bounty.
	NoRequest int64 = -1

	MaxTag   = 64
	MaxNotes = 1024
)

// SubmitInput is an attestation.
type SubmitInput struct {
	Validator   string
	Application string
	CodeHash    string
	Tag         string
	Notes       string
	RequestID   int64
}

// Service manages attestations.
type Service struct {
	catalog    *catalog.Service
	requests   *requests.Service
	validators *validators.Service
	clock      chain.Clock
	log        *logger.Logger
}

// New constructs a validation ledger.
func New(catalogSvc *catalog.Service, requestSvc *requests.Service, validatorSvc *validators.Service, clock chain.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = chain.SystemClock{}
	}
	if log == nil {
		log = logger.NewDefault("validations")
	}
	return &Service{catalog: catalogSvc, requests: requestSvc, validators: validatorSvc, clock: clock, log: log}
}

// Submit records an attestation. A non-negative RequestID fulfils that
// request first and returns its payout.
func (s *Service) Submit(ctx context.Context, tx storage.Tx, in SubmitInput) (domain.Validation, []transfer.Transfer, error) {
	if err := s.catalog.RequireAccount(ctx, in.Application); err != nil {
		return domain.Validation{}, nil, err
	}
	if _, err := tx.GetApplication(ctx, in.Application); err != nil {
		return domain.Validation{}, nil, err
	}
	if _, err := tx.GetValidator(ctx, in.Validator); err != nil {
		return domain.Validation{}, nil, err
	}
	codeHash, err := normalizeHash(in.CodeHash)
	if err != nil {
		return domain.Validation{}, nil, err
	}
	if len(in.Tag) > MaxTag {
		return domain.Validation{}, nil, errors.FieldTooLong("tag exceeds %d characters", MaxTag)
	}
	if len(in.Notes) > MaxNotes {
		return domain.Validation{}, nil, errors.FieldTooLong("notes exceed %d characters", MaxNotes)
	}
	if in.RequestID < NoRequest {
		return domain.Validation{}, nil, errors.InvalidAmount("request id %d is invalid; use -1 to skip the bounty", in.RequestID)
	}

	var effects []transfer.Transfer
	if in.RequestID >= 0 {
		payout, err := s.requests.Fulfill(ctx, tx, in.Validator, in.Application, uint64(in.RequestID))
		if err != nil {
			return domain.Validation{}, nil, err
		}
		effects = append(effects, payout)
	}

	now := s.clock.Now()
	v, err := tx.GetValidation(ctx, in.Application, in.Validator)
	switch {
	case err == nil:
		v.Version++
	case errors.Is(err, errors.ErrNotFound):
		v = domain.Validation{Application: in.Application, Validator: in.Validator, Version: 1}
	default:
		return domain.Validation{}, nil, err
	}
	v.CodeHash = codeHash
	v.Tag = in.Tag
	v.Notes = in.Notes
	v.Approvals = 0
	v.Endorsers = []string{}
	v.Timestamp = now
	if err := tx.PutValidation(ctx, v); err != nil {
		return domain.Validation{}, nil, err
	}
	if err := s.catalog.Stamp(ctx, tx, in.Application, codeHash, in.Validator); err != nil {
		return domain.Validation{}, nil, err
	}

	s.log.WithField("application", in.Application).
		WithField("validator", in.Validator).
		WithField("version", v.Version).
		WithField("request_id", in.RequestID).
		Info("validation submitted")
	return v, effects, nil
}

// Remove deletes the validator's attestation of the application.
func (s *Service) Remove(ctx context.Context, tx storage.Tx, validatorID, app string) error {
	if err := s.catalog.RequireAccount(ctx, validatorID); err != nil {
		return err
	}
	if err := s.catalog.RequireAccount(ctx, app); err != nil {
		return err
	}
	if err := tx.DeleteValidation(ctx, app, validatorID); err != nil {
		return err
	}
	s.log.WithField("application", app).WithField("validator", validatorID).Info("validation removed")
	return nil
}

// Endorse counts a voting authority's approval of the current version.
func (s *Service) Endorse(ctx context.Context, tx storage.Tx, authority, validatorID, app string) (domain.Validation, error) {
	ok, err := s.validators.IsAuthority(ctx, authority)
	if err != nil {
		return domain.Validation{}, err
	}
	if !ok {
		return domain.Validation{}, errors.UnauthorizedAuthority("%s is not a voting authority", authority)
	}
	v, err := tx.GetValidation(ctx, app, validatorID)
	if err != nil {
		return domain.Validation{}, err
	}
	if v.EndorsedBy(authority) {
		return domain.Validation{}, errors.DuplicateApproval("%s already endorsed version %d", authority, v.Version)
	}
	v.Endorsers = append(v.Endorsers, authority)
	v.Approvals++
	if err := tx.PutValidation(ctx, v); err != nil {
		return domain.Validation{}, err
	}
	return v, nil
}

// Get returns one attestation.
func (s *Service) Get(ctx context.Context, store storage.ValidationStore, app, validatorID string) (domain.Validation, error) {
	return store.GetValidation(ctx, app, validatorID)
}

// List returns the application's attestations ordered by validator.
func (s *Service) List(ctx context.Context, store storage.ValidationStore, app string) ([]domain.Validation, error) {
	return store.ListValidations(ctx, app)
}

func normalizeHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
	if len(h) != 64 {
		return "", errors.InvalidField("code hash must be 32 bytes of hex")
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", errors.InvalidField("code hash is not hex")
	}
	return h, nil
}

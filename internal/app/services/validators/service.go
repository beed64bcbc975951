// Package validators maintains the validator registry. A validator's weight
// is the stake-weighted fraction of authorities approving it and is
// recomputed from the stake directory on every approval change and before
// every reputation check.
package validators

import (
	"context"
	"strings"

	domain "github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/chain"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/internal/stake"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

const (
	// DefaultMaxApprovers caps the approval set of a single validator.
	DefaultMaxApprovers = 64
	// MaxURLLength bounds a validator's URL.
	MaxURLLength = 256
)

// Service manages validator records inside a caller-owned transaction.
type Service struct {
	directory    stake.Directory
	clock        chain.Clock
	log          *logger.Logger
	maxApprovers int
}

// New constructs a validator registry backed by directory.
func New(directory stake.Directory, clock chain.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = chain.SystemClock{}
	}
	if log == nil {
		log = logger.NewDefault("validators")
	}
	return &Service{directory: directory, clock: clock, log: log, maxApprovers: DefaultMaxApprovers}
}

// WithMaxApprovers overrides the approval cap; n <= 0 keeps the default.
func (s *Service) WithMaxApprovers(n int) *Service {
	if n > 0 {
		s.maxApprovers = n
	}
	return s
}

// MaxApprovers returns the approval cap.
func (s *Service) MaxApprovers() int { return s.maxApprovers }

// Register creates a validator with no approvals.
func (s *Service) Register(ctx context.Context, store storage.ValidatorStore, id, url string) (domain.Validator, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Validator{}, errors.InvalidField("validator id is required")
	}
	if len(url) > MaxURLLength {
		return domain.Validator{}, errors.FieldTooLong("url exceeds %d characters", MaxURLLength)
	}

	now := s.clock.Now()
	v := domain.Validator{
		ID:        id,
		URL:       url,
		Approvers: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateValidator(ctx, v); err != nil {
		if errors.Is(err, errors.ErrAlreadyExists) {
			return domain.Validator{}, errors.AlreadyExists("validator %s already registered", id)
		}
		return domain.Validator{}, err
	}
	s.log.WithField("validator", id).Info("validator registered")
	return v, nil
}

// Deregister removes a validator together with its approvals.
func (s *Service) Deregister(ctx context.Context, store storage.ValidatorStore, id string) error {
	if err := store.DeleteValidator(ctx, id); err != nil {
		return err
	}
	s.log.WithField("validator", id).Info("validator deregistered")
	return nil
}

// Approve adds authority to the validator's approval set.
func (s *Service) Approve(ctx context.Context, store storage.ValidatorStore, authority, id string) (domain.Validator, error) {
	if err := s.requireAuthority(ctx, authority); err != nil {
		return domain.Validator{}, err
	}
	v, err := store.GetValidator(ctx, id)
	if err != nil {
		return domain.Validator{}, err
	}
	if v.HasApprover(authority) {
		return domain.Validator{}, errors.DuplicateApproval("%s already approved %s", authority, id)
	}
	if len(v.Approvers) >= s.maxApprovers {
		return domain.Validator{}, errors.LimitExceeded("%s already has %d approvers", id, s.maxApprovers)
	}

	v.Approvers = append(v.Approvers, authority)
	v, err = s.persist(ctx, store, v)
	if err != nil {
		return domain.Validator{}, err
	}
	s.log.WithField("validator", id).
		WithField("authority", authority).
		WithField("weight", v.Weight).
		Info("validator approved")
	return v, nil
}

// Unapprove removes authority from the validator's approval set.
func (s *Service) Unapprove(ctx context.Context, store storage.ValidatorStore, authority, id string) (domain.Validator, error) {
	if err := s.requireAuthority(ctx, authority); err != nil {
		return domain.Validator{}, err
	}
	v, err := store.GetValidator(ctx, id)
	if err != nil {
		return domain.Validator{}, err
	}
	if !v.HasApprover(authority) {
		return domain.Validator{}, errors.ApprovalNotFound("%s has not approved %s", authority, id)
	}

	v.Approvers = v.WithoutApprover(authority)
	v, err = s.persist(ctx, store, v)
	if err != nil {
		return domain.Validator{}, err
	}
	s.log.WithField("validator", id).
		WithField("authority", authority).
		WithField("weight", v.Weight).
		Info("validator unapproved")
	return v, nil
}

// Recompute refreshes the stored weight from the current stake directory.
func (s *Service) Recompute(ctx context.Context, store storage.ValidatorStore, id string) (domain.Validator, error) {
	v, err := store.GetValidator(ctx, id)
	if err != nil {
		return domain.Validator{}, err
	}
	weight, err := s.Weight(ctx, v.Approvers)
	if err != nil {
		return domain.Validator{}, err
	}
	if weight == v.Weight {
		return v, nil
	}
	v.Weight = weight
	v.UpdatedAt = s.clock.Now()
	if err := store.UpdateValidator(ctx, v); err != nil {
		return domain.Validator{}, err
	}
	return v, nil
}

// Weight computes sum(weight(a) for a in approvers) / total. A non-positive
// total yields 0; approvers the directory no longer recognizes contribute 0.
func (s *Service) Weight(ctx context.Context, approvers []string) (float64, error) {
	total, err := s.directory.TotalWeight(ctx)
	if err != nil {
		return 0, errors.Internal("read total stake weight", err)
	}
	if total <= 0 {
		return 0, nil
	}
	var sum float64
	for _, a := range approvers {
		w, ok, err := s.directory.Weight(ctx, a)
		if err != nil {
			return 0, errors.Internal("read stake weight", err)
		}
		if ok {
			sum += w
		}
	}
	return sum / total, nil
}

// Get returns a validator with its weight evaluated against the current
// stake directory. The stored record is not modified.
func (s *Service) Get(ctx context.Context, store storage.ValidatorStore, id string) (domain.Validator, error) {
	v, err := store.GetValidator(ctx, id)
	if err != nil {
		return domain.Validator{}, err
	}
	if v.Weight, err = s.Weight(ctx, v.Approvers); err != nil {
		return domain.Validator{}, err
	}
	return v, nil
}

// List returns all validators ordered by id, with live weights.
func (s *Service) List(ctx context.Context, store storage.ValidatorStore) ([]domain.Validator, error) {
	vals, err := store.ListValidators(ctx)
	if err != nil {
		return nil, err
	}
	for i := range vals {
		if vals[i].Weight, err = s.Weight(ctx, vals[i].Approvers); err != nil {
			return nil, err
		}
	}
	return vals, nil
}

// IsAuthority reports whether the stake directory recognizes authority.
func (s *Service) IsAuthority(ctx context.Context, authority string) (bool, error) {
	_, ok, err := s.directory.Weight(ctx, authority)
	if err != nil {
		return false, errors.Internal("read stake weight", err)
	}
	return ok, nil
}

func (s *Service) requireAuthority(ctx context.Context, authority string) error {
	ok, err := s.IsAuthority(ctx, authority)
	if err != nil {
		return err
	}
	if !ok {
		return errors.UnauthorizedAuthority("%s is not a voting authority", authority)
	}
	return nil
}

func (s *Service) persist(ctx context.Context, store storage.ValidatorStore, v domain.Validator) (domain.Validator, error) {
	weight, err := s.Weight(ctx, v.Approvers)
	if err != nil {
		return domain.Validator{}, err
	}
	v.Weight = weight
	v.UpdatedAt = s.clock.Now()
	if err := store.UpdateValidator(ctx, v); err != nil {
		return domain.Validator{}, err
	}
	return v, nil
}

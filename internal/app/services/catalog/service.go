// Package catalog stores application metadata and per-action resource
// telemetry.
package catalog

import (
	"context"

	domain "github.com/R3E-Network/dapp_registry/internal/app/domain/application"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/chain"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// Field limits.
const (
	MaxTitle       = 32
	MaxDescription = 1024
	MaxURL         = 128
	MaxTags        = 10
	MaxTag         = 16
	MaxShortDesc   = 256
	MaxLongDesc    = 512
)

// Service manages catalogued applications.
type Service struct {
	accounts chain.AccountOracle
	clock    chain.Clock
	log      *logger.Logger
}

// New constructs a catalog service.
func New(accounts chain.AccountOracle, clock chain.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = chain.SystemClock{}
	}
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{accounts: accounts, clock: clock, log: log}
}

// Upsert creates or replaces an application record. Telemetry and validation
// stamps are owned by the registry: incoming values are ignored, and actions
// whose name survives an update keep their averages.
func (s *Service) Upsert(ctx context.Context, store storage.ApplicationStore, in domain.Application) (domain.Application, error) {
	if err := s.RequireAccount(ctx, in.Account); err != nil {
		return domain.Application{}, err
	}
	if err := Validate(in); err != nil {
		return domain.Application{}, err
	}

	existing, err := store.GetApplication(ctx, in.Account)
	found := err == nil
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return domain.Application{}, err
	}

	app := domain.Clone(in)
	app.CodeHash, app.LastValidator = "", ""
	if app.Tags == nil {
		app.Tags = []string{}
	}
	actions := make([]domain.Action, 0, len(in.Actions))
	for _, act := range in.Actions {
		res := domain.Resources{RAMPayer: act.Resources.RAMPayer}
		if found {
			if prev, ok := existing.Action(act.Name); ok {
				res.AvgNet = prev.Resources.AvgNet
				res.AvgCPUMicros = prev.Resources.AvgCPUMicros
				res.AvgRAMUsage = prev.Resources.AvgRAMUsage
			}
		}
		act.Resources = res
		actions = append(actions, act)
	}
	app.Actions = actions
	if found {
		app.CodeHash = existing.CodeHash
		app.LastValidator = existing.LastValidator
	}
	app.UpdatedAt = s.clock.Now()

	if err := store.PutApplication(ctx, app); err != nil {
		return domain.Application{}, err
	}
	s.log.WithField("application", app.Account).
		WithField("actions", len(app.Actions)).
		WithField("updated", found).
		Info("application catalogued")
	return app, nil
}

// UpdateTelemetry records averaged resource usage for one action.
func (s *Service) UpdateTelemetry(ctx context.Context, store storage.ApplicationStore, account, action string, net, cpu, ram uint32) (domain.Application, error) {
	app, err := store.GetApplication(ctx, account)
	if err != nil {
		return domain.Application{}, err
	}
	idx := -1
	for i, act := range app.Actions {
		if act.Name == action {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Application{}, errors.NotFound("action %s not declared by %s", action, account)
	}
	app.Actions[idx].Resources.AvgNet = net
	app.Actions[idx].Resources.AvgCPUMicros = cpu
	app.Actions[idx].Resources.AvgRAMUsage = ram
	if err := store.PutApplication(ctx, app); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

// Stamp records the latest validation of the application.
func (s *Service) Stamp(ctx context.Context, store storage.ApplicationStore, account, codeHash, validatorID string) error {
	app, err := store.GetApplication(ctx, account)
	if err != nil {
		return err
	}
	app.CodeHash = codeHash
	app.LastValidator = validatorID
	app.UpdatedAt = s.clock.Now()
	return store.PutApplication(ctx, app)
}

// Get returns one application.
func (s *Service) Get(ctx context.Context, store storage.ApplicationStore, account string) (domain.Application, error) {
	return store.GetApplication(ctx, account)
}

// List returns every application ordered by account.
func (s *Service) List(ctx context.Context, store storage.ApplicationStore) ([]domain.Application, error) {
	return store.ListApplications(ctx)
}

// RequireAccount fails with InvalidAccount unless the host ledger knows
// account.
func (s *Service) RequireAccount(ctx context.Context, account string) error {
	ok, err := s.accounts.Exists(ctx, account)
	if err != nil {
		return errors.Internal("check account", err)
	}
	if !ok {
		return errors.InvalidAccount("account %q does not exist", account)
	}
	return nil
}

// Validate checks field limits.
func Validate(app domain.Application) error {
	checks := []struct {
		name  string
		value string
		max   int
	}{
		{"title", app.Title, MaxTitle},
		{"description", app.Description, MaxDescription},
		{"source_code", app.SourceCode, MaxURL},
		{"website", app.Website, MaxURL},
		{"logo", app.Logo, MaxURL},
	}
	for _, c := range checks {
		if len(c.value) > c.max {
			return errors.FieldTooLong("%s exceeds %d characters", c.name, c.max)
		}
	}
	if len(app.Tags) > MaxTags {
		return errors.FieldTooLong("at most %d tags allowed", MaxTags)
	}
	for _, tag := range app.Tags {
		if len(tag) > MaxTag {
			return errors.FieldTooLong("tag %q exceeds %d characters", tag, MaxTag)
		}
	}
	for _, act := range app.Actions {
		switch act.Resources.RAMPayer {
		case domain.RAMPayerUser, domain.RAMPayerContract, domain.RAMPayerBoth:
		default:
			return errors.InvalidField("action %s: invalid ram payer %q", act.Name, act.Resources.RAMPayer)
		}
		if len(act.ShortDesc) > MaxShortDesc {
			return errors.FieldTooLong("action %s: short description exceeds %d characters", act.Name, MaxShortDesc)
		}
		if len(act.LongDesc) > MaxLongDesc {
			return errors.FieldTooLong("action %s: long description exceeds %d characters", act.Name, MaxLongDesc)
		}
	}
	return nil
}

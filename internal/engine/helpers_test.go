package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/application"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/request"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/validator"
	catalogsvc "github.com/R3E-Network/dapp_registry/internal/app/services/catalog"
	creditsvc "github.com/R3E-Network/dapp_registry/internal/app/services/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/services/requests"
	"github.com/R3E-Network/dapp_registry/internal/app/services/validations"
	"github.com/R3E-Network/dapp_registry/internal/app/services/validators"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/app/storage/memory"
	"github.com/R3E-Network/dapp_registry/internal/effects"
	"github.com/R3E-Network/dapp_registry/internal/engine/events"
	"github.com/R3E-Network/dapp_registry/internal/stake"
	"github.com/R3E-Network/dapp_registry/pkg/testutil"
)

const systemAccount = "registry"

type harness struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	clock     *testutil.MockClock
	directory *stake.Static
	accounts  *testutil.MockAccountOracle
	transfers *testutil.MockTransferService
	outbox    *effects.Outbox
	events    *events.RingBuffer
	engine    *Engine
}

func gas(n int64) asset.Asset { return asset.New(n, "GAS") }

// newHarness wires an engine over the memory store. Authorities bp1..bp3
// hold 60, 30 and 10 of 100 stake.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		store:     memory.New(),
		clock:     testutil.NewMockClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		directory: stake.NewStatic(map[string]float64{"bp1": 60, "bp2": 30, "bp3": 10}, 0),
		accounts:  testutil.NewMockAccountOracle("dapp", "other", "val1", "val2", "payer"),
		transfers: testutil.NewMockTransferService(),
		events:    events.NewRingBuffer(256),
	}

	creditSvc := creditsvc.New("GAS", h.clock, nil)
	validatorSvc := validators.New(h.directory, h.clock, nil)
	catalog := catalogsvc.New(h.accounts, h.clock, nil)
	requestSvc := requests.New(creditSvc, validatorSvc, h.clock, nil)
	validationSvc := validations.New(catalog, requestSvc, validatorSvc, h.clock, nil)

	h.outbox = effects.NewOutbox(h.store, h.transfers, h.clock, nil, h.events, effects.OutboxConfig{MaxAttempts: 3})
	h.engine = New(h.store, Services{
		Credit:      creditSvc,
		Validators:  validatorSvc,
		Requests:    requestSvc,
		Validations: validationSvc,
		Catalog:     catalog,
	}, Options{
		SystemAccount: systemAccount,
		Clock:         h.clock,
		Effects:       h.outbox,
		Events:        h.events,
	})
	return h
}

func (h *harness) catalog(account string) {
	h.t.Helper()
	_, err := h.engine.UpsertApplication(h.ctx, application.Application{Account: account, Title: account})
	require.NoError(h.t, err)
}

func (h *harness) validator(id string, approvers ...string) {
	h.t.Helper()
	_, err := h.engine.RegisterValidator(h.ctx, id, "https://"+id+".example")
	require.NoError(h.t, err)
	for _, a := range approvers {
		_, err := h.engine.ApproveValidator(h.ctx, a, id)
		require.NoError(h.t, err)
	}
}

func (h *harness) deposit(payer string, n int64) {
	h.t.Helper()
	_, err := h.engine.Deposit(h.ctx, payer, gas(n), "")
	require.NoError(h.t, err)
}

func (h *harness) openRequest(payer, app string, bounty int64, minRep float64) request.Request {
	h.t.Helper()
	res, err := h.engine.CreateRequest(h.ctx, requests.CreateInput{
		Payer:             payer,
		Application:       app,
		Bounty:            gas(bounty),
		ExpirationSeconds: 3600,
		MinReputation:     minRep,
	})
	require.NoError(h.t, err)
	return res.Record.(request.Request)
}

func (h *harness) balance(payer string) int64 {
	h.t.Helper()
	var acct credit.Account
	err := h.engine.View(h.ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		acct, err = h.engine.Services().Credit.Balance(ctx, tx, payer)
		return err
	})
	require.NoError(h.t, err)
	return acct.Balance.Amount
}

func (h *harness) request(app string, id uint64) (request.Request, error) {
	var req request.Request
	err := h.engine.View(h.ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		req, err = tx.GetRequest(ctx, app, id)
		return err
	})
	return req, err
}

func (h *harness) storedValidator(id string) validator.Validator {
	h.t.Helper()
	var v validator.Validator
	err := h.engine.View(h.ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		v, err = tx.GetValidator(ctx, id)
		return err
	})
	require.NoError(h.t, err)
	return v
}

func (h *harness) requireAudit() AuditReport {
	h.t.Helper()
	report, err := h.engine.Audit(h.ctx)
	require.NoError(h.t, err)
	require.True(h.t, report.OK(), "audit violations: %v", report.Violations)
	return report
}

func (h *harness) openBounties() (map[string]int64, error) {
	var open map[string]int64
	err := h.engine.View(h.ctx, func(ctx context.Context, tx storage.Tx) error {
		reqs, err := tx.ListRequests(ctx, "")
		open = requests.OpenBounties(reqs)
		return err
	})
	return open, err
}

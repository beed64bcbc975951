package requests

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/application"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	domain "github.com/R3E-Network/dapp_registry/internal/app/domain/request"
	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/services/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/services/validators"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/app/storage/memory"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/internal/stake"
	"github.com/R3E-Network/dapp_registry/pkg/testutil"
)

type fixture struct {
	ctx        context.Context
	tx         storage.Tx
	clock      *testutil.MockClock
	credit     *credit.Service
	validators *validators.Service
	svc        *Service
}

func gas(n int64) asset.Asset { return asset.New(n, "GAS") }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := testutil.NewMockClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	dir := stake.NewStatic(map[string]float64{"bp1": 60, "bp2": 30, "bp3": 10}, 0)
	creditSvc := credit.New("GAS", clock, nil)
	validatorSvc := validators.New(dir, clock, nil)

	tx, err := memory.New().Begin(ctx, false)
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })

	require.NoError(t, tx.PutApplication(ctx, application.Application{Account: "dapp"}))
	for _, id := range []string{"val1", "val2"} {
		_, err := validatorSvc.Register(ctx, tx, id, "")
		require.NoError(t, err)
	}
	_, err = validatorSvc.Approve(ctx, tx, "bp1", "val1")
	require.NoError(t, err)
	_, err = validatorSvc.Approve(ctx, tx, "bp2", "val2")
	require.NoError(t, err)

	return &fixture{
		ctx:        ctx,
		tx:         tx,
		clock:      clock,
		credit:     creditSvc,
		validators: validatorSvc,
		svc:        New(creditSvc, validatorSvc, clock, nil),
	}
}

func (f *fixture) deposit(t *testing.T, payer string, n int64) {
	t.Helper()
	_, err := f.credit.Deposit(f.ctx, f.tx, payer, gas(n), "")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, payer string) int64 {
	t.Helper()
	acct, err := f.credit.Balance(f.ctx, f.tx, payer)
	require.NoError(t, err)
	return acct.Balance.Amount
}

func (f *fixture) open(t *testing.T, bounty int64, minRep float64, assigned string) uint64 {
	t.Helper()
	req, err := f.svc.Create(f.ctx, f.tx, CreateInput{
		Payer:             "payer",
		Application:       "dapp",
		Validator:         assigned,
		Bounty:            gas(bounty),
		ExpirationSeconds: 3600,
		MinReputation:     minRep,
	})
	require.NoError(t, err)
	return req.ID
}

func TestCreateEscrowsBounty(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 100)

	first := f.open(t, 40, 0.5, "")
	second := f.open(t, 10, 0, "")
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(1), second)
	assert.Equal(t, int64(50), f.balance(t, "payer"))

	reqs, err := f.svc.List(f.ctx, f.tx, "dapp")
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
	assert.Equal(t, map[string]int64{"payer": 50}, OpenBounties(reqs))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 10)

	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"zero bounty", CreateInput{Payer: "payer", Application: "dapp", Bounty: gas(0)}, errors.ErrInvalidAmount},
		{"wrong symbol", CreateInput{Payer: "payer", Application: "dapp", Bounty: asset.New(1, "NEO")}, errors.ErrInvalidAmount},
		{"unknown app", CreateInput{Payer: "payer", Application: "ghost", Bounty: gas(1)}, errors.ErrNotFound},
		{"no funds", CreateInput{Payer: "stranger", Application: "dapp", Bounty: gas(1)}, errors.ErrInsufficientBalance},
		{"overdraft", CreateInput{Payer: "payer", Application: "dapp", Bounty: gas(11)}, errors.ErrInsufficientBalance},
		{"negative expiration", CreateInput{Payer: "payer", Application: "dapp", Bounty: gas(1), ExpirationSeconds: -1}, errors.ErrInvalidField},
		{"expiration overflows", CreateInput{Payer: "payer", Application: "dapp", Bounty: gas(1), ExpirationSeconds: math.MaxInt64}, errors.ErrInvalidField},
		{"expiration just over limit", CreateInput{Payer: "payer", Application: "dapp", Bounty: gas(1), ExpirationSeconds: domain.MaxExpirationSeconds + 1}, errors.ErrInvalidField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(f.ctx, f.tx, tc.in)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Equal(t, int64(10), f.balance(t, "payer"))
}

func TestAcceptChecksReputation(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 100)
	id := f.open(t, 40, 0.5, "")

	// val2 holds 0.3 of the stake.
	_, err := f.svc.Accept(f.ctx, f.tx, "val2", "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrInsufficientReputation))
	req, err := f.svc.Get(f.ctx, f.tx, "dapp", id)
	require.NoError(t, err)
	assert.False(t, req.Accepted)

	req, err = f.svc.Accept(f.ctx, f.tx, "val1", "dapp", id)
	require.NoError(t, err)
	assert.True(t, req.Accepted)
	assert.Equal(t, "val1", req.AcceptedBy)
	assert.Equal(t, f.clock.Now(), req.AcceptedAt)
}

func TestAcceptErrors(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 100)
	assigned := f.open(t, 10, 0, "val2")
	open := f.open(t, 10, 0, "")

	_, err := f.svc.Accept(f.ctx, f.tx, "ghost", "dapp", open)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = f.svc.Accept(f.ctx, f.tx, "val1", "dapp", 99)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = f.svc.Accept(f.ctx, f.tx, "val1", "dapp", assigned)
	assert.True(t, errors.Is(err, errors.ErrValidatorMismatch))

	_, err = f.svc.Accept(f.ctx, f.tx, "val1", "dapp", open)
	require.NoError(t, err)
	_, err = f.svc.Accept(f.ctx, f.tx, "val2", "dapp", open)
	assert.True(t, errors.Is(err, errors.ErrRequestStillActive))

	// Once the acceptance lapses another validator may take over.
	f.clock.Advance(time.Hour)
	req, err := f.svc.Accept(f.ctx, f.tx, "val2", "dapp", open)
	require.NoError(t, err)
	assert.Equal(t, "val2", req.AcceptedBy)
}

func TestAcceptUsesFreshWeight(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 100)
	id := f.open(t, 10, 0.5, "")

	_, err := f.validators.Unapprove(f.ctx, f.tx, "bp1", "val1")
	require.NoError(t, err)
	_, err = f.svc.Accept(f.ctx, f.tx, "val1", "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrInsufficientReputation))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 50)
	id := f.open(t, 50, 0, "")
	assert.Equal(t, int64(0), f.balance(t, "payer"))

	_, err := f.svc.Cancel(f.ctx, f.tx, "intruder", "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))

	_, err = f.svc.Cancel(f.ctx, f.tx, "payer", "dapp", id)
	require.NoError(t, err)
	assert.Equal(t, int64(50), f.balance(t, "payer"))

	_, err = f.svc.Get(f.ctx, f.tx, "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = f.svc.Cancel(f.ctx, f.tx, "payer", "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCancelAcceptedRequest(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 100)
	id := f.open(t, 40, 0, "")
	_, err := f.svc.Accept(f.ctx, f.tx, "val1", "dapp", id)
	require.NoError(t, err)

	f.clock.Advance(59 * time.Minute)
	_, err = f.svc.Cancel(f.ctx, f.tx, "payer", "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrRequestStillActive))
	assert.Equal(t, int64(60), f.balance(t, "payer"))

	f.clock.Advance(time.Minute)
	_, err = f.svc.Cancel(f.ctx, f.tx, "payer", "dapp", id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(t, "payer"))
}

func TestFulfill(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 100)
	id := f.open(t, 40, 0, "")

	_, err := f.svc.Fulfill(f.ctx, f.tx, "val1", "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrRequestExpired), "never accepted: got %v", err)

	_, err = f.svc.Accept(f.ctx, f.tx, "val1", "dapp", id)
	require.NoError(t, err)

	_, err = f.svc.Fulfill(f.ctx, f.tx, "val2", "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrValidatorMismatch))

	payout, err := f.svc.Fulfill(f.ctx, f.tx, "val1", "dapp", id)
	require.NoError(t, err)
	assert.Equal(t, "val1", payout.To)
	assert.Equal(t, gas(40), payout.Quantity)
	assert.Equal(t, transfer.MemoBounty, payout.Memo)
	assert.Equal(t, int64(60), f.balance(t, "payer"))

	_, err = f.svc.Get(f.ctx, f.tx, "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestFulfillExpired(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 100)
	id := f.open(t, 40, 0, "")
	_, err := f.svc.Accept(f.ctx, f.tx, "val1", "dapp", id)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Fulfill(f.ctx, f.tx, "val1", "dapp", id)
	assert.True(t, errors.Is(err, errors.ErrRequestExpired))
}

func TestLongestExpirationKeepsRequestLive(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "payer", 100)
	req, err := f.svc.Create(f.ctx, f.tx, CreateInput{
		Payer:             "payer",
		Application:       "dapp",
		Bounty:            gas(40),
		ExpirationSeconds: domain.MaxExpirationSeconds,
	})
	require.NoError(t, err)

	accepted, err := f.svc.Accept(f.ctx, f.tx, "val1", "dapp", req.ID)
	require.NoError(t, err)
	assert.True(t, accepted.Deadline().After(accepted.AcceptedAt))

	_, err = f.svc.Cancel(f.ctx, f.tx, "payer", "dapp", req.ID)
	assert.True(t, errors.Is(err, errors.ErrRequestStillActive), "got %v", err)
	assert.Equal(t, int64(60), f.balance(t, "payer"))

	f.clock.Advance(24 * 365 * time.Hour)
	payout, err := f.svc.Fulfill(f.ctx, f.tx, "val1", "dapp", req.ID)
	require.NoError(t, err)
	assert.Equal(t, gas(40), payout.Quantity)
}

func TestIDsAreScopedPerApplication(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tx.PutApplication(f.ctx, application.Application{Account: "other"}))
	f.deposit(t, "payer", 100)

	a := f.open(t, 10, 0, "")
	b, err := f.svc.Create(f.ctx, f.tx, CreateInput{Payer: "payer", Application: "other", Bounty: gas(10), ExpirationSeconds: 60})
	require.NoError(t, err)
	assert.Equal(t, a, b.ID)

	_, err = f.svc.Cancel(f.ctx, f.tx, "payer", "dapp", a)
	require.NoError(t, err)
	next := f.open(t, 10, 0, "")
	assert.Equal(t, a+1, next, "ids are never reused")
}

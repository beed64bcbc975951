// Package credit keeps per-payer escrow balances.
//
// Flow:
//  1. A payer transfers tokens to the system account; the transfer
//     notification becomes a Deposit.
//  2. Opening a bounty request Debits the bounty up front.
//  3. Cancelling an unaccepted or expired request Credits it back.
//  4. Refund withdraws balance back to the payer's ledger account.
//
// Every balance change appends a journal entry. An account whose balance
// reaches exactly zero through a debit or refund is deleted.
package credit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	domain "github.com/R3E-Network/dapp_registry/internal/app/domain/credit"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/chain"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// Service applies balance mutations inside a caller-owned transaction.
type Service struct {
	symbol string
	clock  chain.Clock
	log    *logger.Logger
}

// New creates a credit service accepting amounts of symbol.
func New(symbol string, clock chain.Clock, log *logger.Logger) *Service {
	if clock == nil {
		clock = chain.SystemClock{}
	}
	if log == nil {
		log = logger.NewDefault("credit")
	}
	return &Service{symbol: symbol, clock: clock, log: log}
}

// Symbol returns the accepted token symbol.
func (s *Service) Symbol() string { return s.symbol }

func (s *Service) checkAmount(amount asset.Asset) error {
	if amount.Symbol != s.symbol {
		return errors.InvalidAmount("expected %s, got %q", s.symbol, amount.Symbol)
	}
	if !amount.IsPositive() {
		return errors.InvalidAmount("amount must be positive, got %d", amount.Amount)
	}
	return nil
}

func (s *Service) account(ctx context.Context, store storage.CreditStore, payer string) (domain.Account, bool, error) {
	acct, err := store.GetCreditAccount(ctx, payer)
	if errors.Is(err, errors.ErrNotFound) {
		return domain.Account{Payer: payer, Balance: asset.Zero(s.symbol)}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, err
	}
	return acct, true, nil
}

// Deposit credits an incoming transfer. A non-empty reference is the host
// ledger's transfer id; a repeated reference fails with AlreadyExists.
func (s *Service) Deposit(ctx context.Context, store storage.CreditStore, payer string, amount asset.Asset, reference string) (domain.Account, error) {
	if err := s.checkAmount(amount); err != nil {
		return domain.Account{}, err
	}
	if reference != "" {
		seen, err := store.HasCreditReference(ctx, domain.EntryDeposit, reference)
		if err != nil {
			return domain.Account{}, err
		}
		if seen {
			return domain.Account{}, errors.AlreadyExists("deposit %s already credited", reference)
		}
	}
	acct, err := s.add(ctx, store, payer, amount, domain.EntryDeposit, reference)
	if err != nil {
		return domain.Account{}, err
	}
	s.log.WithField("payer", payer).WithField("amount", amount.String()).Debug("deposit credited")
	return acct, nil
}

// Credit returns escrowed funds to the payer, creating the account if needed.
func (s *Service) Credit(ctx context.Context, store storage.CreditStore, payer string, amount asset.Asset, reference string) (domain.Account, error) {
	if err := s.checkAmount(amount); err != nil {
		return domain.Account{}, err
	}
	return s.add(ctx, store, payer, amount, domain.EntryEscrowRelease, reference)
}

// Debit locks funds for a bounty.
func (s *Service) Debit(ctx context.Context, store storage.CreditStore, payer string, amount asset.Asset, reference string) (domain.Account, error) {
	if err := s.checkAmount(amount); err != nil {
		return domain.Account{}, err
	}
	return s.subtract(ctx, store, payer, amount, domain.EntryEscrowLock, reference)
}

// Refund withdraws funds from escrow. The caller schedules the outgoing
// transfer.
func (s *Service) Refund(ctx context.Context, store storage.CreditStore, payer string, amount asset.Asset, reference string) (domain.Account, error) {
	if err := s.checkAmount(amount); err != nil {
		return domain.Account{}, err
	}
	return s.subtract(ctx, store, payer, amount, domain.EntryRefund, reference)
}

// Balance returns the payer's balance; absent accounts hold zero.
func (s *Service) Balance(ctx context.Context, store storage.CreditStore, payer string) (domain.Account, error) {
	acct, _, err := s.account(ctx, store, payer)
	return acct, err
}

// Entries returns the payer's most recent journal entries, oldest first.
func (s *Service) Entries(ctx context.Context, store storage.CreditStore, payer string, limit int) ([]domain.Entry, error) {
	return store.ListCreditEntries(ctx, payer, limit)
}

func (s *Service) add(ctx context.Context, store storage.CreditStore, payer string, amount asset.Asset, entryType, reference string) (domain.Account, error) {
	acct, _, err := s.account(ctx, store, payer)
	if err != nil {
		return domain.Account{}, err
	}
	balance, err := acct.Balance.Add(amount)
	if err != nil {
		return domain.Account{}, err
	}

	now := s.clock.Now()
	acct.Balance = balance
	acct.UpdatedAt = now
	if err := store.PutCreditAccount(ctx, acct); err != nil {
		return domain.Account{}, err
	}
	return acct, s.journal(ctx, store, payer, entryType, amount, balance, reference, now)
}

func (s *Service) subtract(ctx context.Context, store storage.CreditStore, payer string, amount asset.Asset, entryType, reference string) (domain.Account, error) {
	acct, exists, err := s.account(ctx, store, payer)
	if err != nil {
		return domain.Account{}, err
	}
	if !exists {
		return domain.Account{}, errors.InsufficientBalance("%s has no escrow balance", payer)
	}
	cmp, err := acct.Balance.Cmp(amount)
	if err != nil {
		return domain.Account{}, err
	}
	if cmp < 0 {
		return domain.Account{}, errors.InsufficientBalance("%s holds %s, needs %s", payer, acct.Balance, amount)
	}
	balance, err := acct.Balance.Sub(amount)
	if err != nil {
		return domain.Account{}, err
	}

	now := s.clock.Now()
	acct.Balance = balance
	acct.UpdatedAt = now
	if balance.IsZero() {
		err = store.DeleteCreditAccount(ctx, payer)
	} else {
		err = store.PutCreditAccount(ctx, acct)
	}
	if err != nil {
		return domain.Account{}, err
	}
	return acct, s.journal(ctx, store, payer, entryType, amount, balance, reference, now)
}

func (s *Service) journal(ctx context.Context, store storage.CreditStore, payer, entryType string, amount, balance asset.Asset, reference string, at time.Time) error {
	return store.AppendCreditEntry(ctx, domain.Entry{
		ID:           uuid.NewString(),
		Payer:        payer,
		Type:         entryType,
		Amount:       amount,
		BalanceAfter: balance,
		Reference:    reference,
		CreatedAt:    at,
	})
}

// Totals are cumulative journal sums for one payer.
type Totals struct {
	Deposits int64
	Locks    int64
	Releases int64
	Refunds  int64
}

// Net is the balance the journal implies.
func (t Totals) Net() int64 {
	return t.Deposits - t.Locks + t.Releases - t.Refunds
}

// Escrowed is what is still held for open requests.
func (t Totals) Escrowed() int64 {
	return t.Locks - t.Releases
}

// Summarize folds the journal into per-payer totals.
func Summarize(entries []domain.Entry) map[string]Totals {
	out := make(map[string]Totals)
	for _, e := range entries {
		t := out[e.Payer]
		switch e.Type {
		case domain.EntryDeposit:
			t.Deposits += e.Amount.Amount
		case domain.EntryEscrowLock:
			t.Locks += e.Amount.Amount
		case domain.EntryEscrowRelease:
			t.Releases += e.Amount.Amount
		case domain.EntryRefund:
			t.Refunds += e.Amount.Amount
		}
		out[e.Payer] = t
	}
	return out
}

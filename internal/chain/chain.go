// Package chain holds the host ledger collaborators: account existence and
// the clock.
package chain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
)

// AccountOracle reports whether an account exists on the host ledger.
type AccountOracle interface {
	Exists(ctx context.Context, account string) (bool, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// StaticAccounts is an oracle over a fixed, mutable set of accounts.
type StaticAccounts struct {
	mu       sync.RWMutex
	accounts map[string]struct{}
}

// NewStaticAccounts builds an oracle that knows the given accounts.
func NewStaticAccounts(accounts ...string) *StaticAccounts {
	s := &StaticAccounts{accounts: make(map[string]struct{}, len(accounts))}
	for _, a := range accounts {
		s.Add(a)
	}
	return s
}

// Add registers an account.
func (s *StaticAccounts) Add(account string) {
	account = strings.TrimSpace(account)
	if account == "" {
		return
	}
	s.mu.Lock()
	s.accounts[account] = struct{}{}
	s.mu.Unlock()
}

func (s *StaticAccounts) Exists(_ context.Context, account string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[account]
	return ok, nil
}

// Permissive treats every non-empty account name as existing.
type Permissive struct{}

func (Permissive) Exists(_ context.Context, account string) (bool, error) {
	return strings.TrimSpace(account) != "", nil
}

// NeoAddresses accepts accounts that are well-formed Neo N3 addresses. Every
// valid script hash is a spendable account on Neo, so format validity is
// existence.
type NeoAddresses struct{}

func (NeoAddresses) Exists(_ context.Context, account string) (bool, error) {
	if _, err := address.StringToUint160(strings.TrimSpace(account)); err != nil {
		return false, nil
	}
	return true, nil
}

// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
)

// MockClock is a manually advanced clock.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a clock frozen at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start.UTC()}
}

// Now returns the current mock time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// MockAccountOracle knows a fixed set of accounts and can be told to fail.
type MockAccountOracle struct {
	mu       sync.RWMutex
	accounts map[string]bool
	err      error
}

// NewMockAccountOracle creates an oracle knowing the given accounts.
func NewMockAccountOracle(accounts ...string) *MockAccountOracle {
	m := &MockAccountOracle{accounts: make(map[string]bool)}
	for _, a := range accounts {
		m.accounts[a] = true
	}
	return m
}

// AddAccount registers an account.
func (m *MockAccountOracle) AddAccount(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account] = true
}

// SetError makes every lookup fail with err.
func (m *MockAccountOracle) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Exists reports whether account is known.
func (m *MockAccountOracle) Exists(_ context.Context, account string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return false, m.err
	}
	return m.accounts[account], nil
}

// MockTransferService records transfers and fails those addressed to
// accounts marked with FailFor.
type MockTransferService struct {
	mu       sync.Mutex
	sent     []transfer.Transfer
	failures map[string]int
}

// NewMockTransferService creates a transfer recorder.
func NewMockTransferService() *MockTransferService {
	return &MockTransferService{failures: make(map[string]int)}
}

// FailFor makes the next n transfers to account fail.
func (m *MockTransferService) FailFor(account string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[account] = n
}

// Transfer records t or fails it.
func (m *MockTransferService) Transfer(_ context.Context, t transfer.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.failures[t.To]; n > 0 {
		m.failures[t.To] = n - 1
		return fmt.Errorf("transfer to %s rejected", t.To)
	}
	m.sent = append(m.sent, t)
	return nil
}

// Sent returns the successful transfers in order.
func (m *MockTransferService) Sent() []transfer.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transfer.Transfer, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo sums the amounts successfully sent to account.
func (m *MockTransferService) SentTo(account string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, t := range m.sent {
		if t.To == account {
			total += t.Quantity.Amount
		}
	}
	return total
}

package credit

import (
	"time"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
)

// Journal entry types.
const (
	EntryDeposit       = "deposit"
	EntryEscrowLock    = "escrow_lock"
	EntryEscrowRelease = "escrow_release"
	EntryRefund        = "refund"
)

// Account is a payer's escrow balance held by the registry.
type Account struct {
	Payer     string      `json:"payer"`
	Balance   asset.Asset `json:"balance"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Entry is one journal row; every balance mutation appends exactly one.
type Entry struct {
	ID           string      `json:"id"`
	Payer        string      `json:"payer"`
	Type         string      `json:"type"`
	Amount       asset.Asset `json:"amount"`
	BalanceAfter asset.Asset `json:"balance_after"`
	Reference    string      `json:"reference,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

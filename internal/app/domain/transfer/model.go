package transfer

import (
	"time"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
)

// Transfer status values.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Reasons a transfer is scheduled.
const (
	ReasonBounty = "bounty"
	ReasonRefund = "refund"
)

// Memos attached to outgoing token transfers.
const (
	MemoBounty = "contract validation bounty"
	MemoRefund = "dappmetadata refund"
)

// Transfer is an outgoing token payment scheduled by a committed command and
// executed by the host afterwards.
type Transfer struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Quantity  asset.Asset `json:"quantity"`
	Memo      string      `json:"memo"`
	Reason    string      `json:"reason"`
	Status    string      `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

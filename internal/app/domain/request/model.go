package request

import (
	"math"
	"time"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
)

// State is the derived life-cycle state of a request.
type State string

const (
	StateOpen     State = "open"
	StateAccepted State = "accepted"
	StateExpired  State = "expired"
)

// Request is a bounty offered for validating an application. Ids are scoped
// to the application.
type Request struct {
	Application       string      `json:"application"`
	ID                uint64      `json:"id"`
	Payer             string      `json:"payer"`
	Validator         string      `json:"validator,omitempty"`
	AcceptedBy        string      `json:"accepted_by,omitempty"`
	MinReputation     float64     `json:"min_reputation"`
	Bounty            asset.Asset `json:"bounty"`
	Accepted          bool        `json:"accepted"`
	AcceptedAt        time.Time   `json:"accepted_at,omitempty"`
	ExpirationSeconds int64       `json:"expiration_seconds"`
	CreatedAt         time.Time   `json:"created_at"`
}

// MaxExpirationSeconds is the longest expiration whose duration fits in a
// time.Duration.
const MaxExpirationSeconds = int64(math.MaxInt64 / int64(time.Second))

// Expiration is the time an accepted request stays live.
func (r Request) Expiration() time.Duration {
	return time.Duration(r.ExpirationSeconds) * time.Second
}

// Deadline is the instant an accepted request expires.
func (r Request) Deadline() time.Time {
	return r.AcceptedAt.Add(r.Expiration())
}

// Live reports whether the request is accepted and not yet expired at now.
func (r Request) Live(now time.Time) bool {
	return r.Accepted && now.Before(r.Deadline())
}

// StateAt derives the state at now. Unaccepted requests never expire.
func (r Request) StateAt(now time.Time) State {
	switch {
	case !r.Accepted:
		return StateOpen
	case r.Live(now):
		return StateAccepted
	default:
		return StateExpired
	}
}

// Package asset models currency-typed token amounts.
package asset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/R3E-Network/dapp_registry/internal/errors"
)

// Asset is an integer amount of a token in its smallest unit.
type Asset struct {
	Amount int64  `json:"amount"`
	Symbol string `json:"symbol"`
}

// New returns an asset of the given symbol.
func New(amount int64, symbol string) Asset {
	return Asset{Amount: amount, Symbol: symbol}
}

// Zero returns the zero amount of symbol.
func Zero(symbol string) Asset {
	return Asset{Symbol: symbol}
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Asset) IsPositive() bool { return a.Amount > 0 }

// IsZero reports whether the amount is zero.
func (a Asset) IsZero() bool { return a.Amount == 0 }

// Add returns a+b. Both sides must share a symbol.
func (a Asset) Add(b Asset) (Asset, error) {
	if err := a.sameSymbol(b); err != nil {
		return Asset{}, err
	}
	if b.Amount > 0 && a.Amount > math.MaxInt64-b.Amount {
		return Asset{}, errors.InvalidAmount("addition overflows %s", a.Symbol)
	}
	if b.Amount < 0 && a.Amount < math.MinInt64-b.Amount {
		return Asset{}, errors.InvalidAmount("addition underflows %s", a.Symbol)
	}
	return Asset{Amount: a.Amount + b.Amount, Symbol: a.Symbol}, nil
}

// Sub returns a-b. Both sides must share a symbol.
func (a Asset) Sub(b Asset) (Asset, error) {
	return a.Add(Asset{Amount: -b.Amount, Symbol: b.Symbol})
}

// Cmp compares two assets of the same symbol.
func (a Asset) Cmp(b Asset) (int, error) {
	if err := a.sameSymbol(b); err != nil {
		return 0, err
	}
	switch {
	case a.Amount < b.Amount:
		return -1, nil
	case a.Amount > b.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

func (a Asset) sameSymbol(b Asset) error {
	if a.Symbol != b.Symbol {
		return errors.InvalidAmount("symbol mismatch: %q vs %q", a.Symbol, b.Symbol)
	}
	return nil
}

func (a Asset) String() string {
	return fmt.Sprintf("%d %s", a.Amount, a.Symbol)
}

// Parse reads "<decimal> <SYMBOL>" where the decimal has at most precision
// fractional digits, e.g. Parse("1.5 GAS", 8) is 150000000 GAS.
func Parse(s string, precision int) (Asset, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Asset{}, errors.InvalidAmount("malformed quantity %q", s)
	}
	amount, err := ParseAmount(parts[0], precision)
	if err != nil {
		return Asset{}, err
	}
	return Asset{Amount: amount, Symbol: parts[1]}, nil
}

// ParseAmount converts a decimal string into smallest units.
func ParseAmount(s string, precision int) (int64, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && len(frac) > precision {
		return 0, errors.InvalidAmount("%q has more than %d decimals", s, precision)
	}
	frac += strings.Repeat("0", precision-len(frac))
	value, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, errors.InvalidAmount("malformed amount %q", s)
	}
	return value, nil
}

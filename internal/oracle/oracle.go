// Package oracle converts prices between the stable pricing unit and the
// native settlement asset.
package oracle

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/roach88/packsale/internal/core"
)

// Oracle converts amounts between currencies at a queryable rate.
// Implementations must be deterministic: the exact-match checks in payment
// authorization compare against Convert output.
type Oracle interface {
	Convert(from, to core.Currency, amount int64) (int64, error)
	Rate() decimal.Decimal
}

// ErrInvalidRate is returned when constructing an oracle with a non-positive rate.
var ErrInvalidRate = errors.New("rate must be positive")

// FixedRate converts at a constant number of native units per stable cent.
// Conversions round toward zero.
type FixedRate struct {
	nativePerCent decimal.Decimal
}

// NewFixedRate returns an oracle quoting nativePerCent native units per cent.
func NewFixedRate(nativePerCent decimal.Decimal) (*FixedRate, error) {
	if !nativePerCent.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRate, nativePerCent)
	}
	return &FixedRate{nativePerCent: nativePerCent}, nil
}

// ParseFixedRate parses a decimal string such as "52631.578947".
func ParseFixedRate(s string) (*FixedRate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", s, err)
	}
	return NewFixedRate(d)
}

// Rate returns native units per stable cent.
func (o *FixedRate) Rate() decimal.Decimal {
	return o.nativePerCent
}

// Convert converts amount from one currency to another.
func (o *FixedRate) Convert(from, to core.Currency, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("convert: negative amount %d", amount)
	}
	if from == to {
		return amount, nil
	}

	d := decimal.NewFromInt(amount)
	var out decimal.Decimal
	switch {
	case from == core.StableCents && to == core.Native:
		out = d.Mul(o.nativePerCent)
	case from == core.Native && to == core.StableCents:
		out = d.DivRound(o.nativePerCent, 18)
	default:
		return 0, fmt.Errorf("convert: unsupported pair %s -> %s", from, to)
	}

	out = out.Truncate(0)
	if out.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("convert: %s %s overflows %s", d, from, to)
	}
	return out.IntPart(), nil
}

// Package money holds the rounding rules shared by every amount in the ledger.
// Amounts are decimals rounded half away from zero to two places at every
// read and write boundary.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	Zero    = decimal.Zero
	Hundred = decimal.NewFromInt(100)
)

// Round2 rounds to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Format renders a fixed two-decimal string. Two amounts are the same money
// exactly when their Format output is equal.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Equal compares two amounts after rounding both to cents.
func Equal(a, b decimal.Decimal) bool {
	return Format(a) == Format(b)
}

// Parse reads a decimal string and rounds it to cents.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Round2(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// MinorUnits converts to integer cents for gateways that bill in the
// smallest currency unit.
func MinorUnits(d decimal.Decimal) int64 {
	return Round2(d).Shift(2).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

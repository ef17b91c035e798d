package voucher

import (
	"time"

	"pawledger-be/internal/money"

	"github.com/shopspring/decimal"
)

// Check validates role, expiry and remaining usage without touching the row.
// An empty AllowedRole admits every role.
func (v *Voucher) Check(role string, now time.Time) error {
	if v.AllowedRole != "" && v.AllowedRole != role {
		return ErrVoucherRole
	}
	if v.ExpiresAt != nil && !now.Before(*v.ExpiresAt) {
		return ErrVoucherExpired
	}
	if v.UsedCount >= v.UsageLimit {
		return ErrVoucherLimitReached
	}
	return nil
}

// Discount computes the discount on base, clamped to [0, base] and rounded.
func (v *Voucher) Discount(base decimal.Decimal) (decimal.Decimal, error) {
	var d decimal.Decimal

	switch v.DiscountType {
	case DiscountPercentage:
		d = base.Mul(v.DiscountValue).Div(money.Hundred)
	case DiscountFixed:
		d = v.DiscountValue
	default:
		return decimal.Zero, ErrVoucherInvalid
	}

	if d.IsNegative() {
		return decimal.Zero, ErrVoucherInvalid
	}
	if d.GreaterThan(base) {
		d = base
	}

	return money.Round2(d), nil
}

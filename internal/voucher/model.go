package voucher

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Voucher struct {
	ID            int64
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	AllowedRole   string
	ExpiresAt     *time.Time
	UsageLimit    int
	UsedCount     int
}

// ApplyRequest describes one voucher evaluation against a base amount.
type ApplyRequest struct {
	Code       string
	BaseAmount decimal.Decimal
	Role       string
	// ForUpdate locks the voucher row; only meaningful inside a transaction.
	ForUpdate bool
}

// Application is the computed, not yet consumed, effect of a voucher.
type Application struct {
	VoucherID int64
	Code      string
	Discount  decimal.Decimal
}

package pricing

import (
	"pawledger-be/internal/apperr"
	"pawledger-be/internal/config"
	"pawledger-be/internal/validation"

	"github.com/shopspring/decimal"
)

// Config holds the shop's pricing policy.
type Config struct {
	// Subtotals at or above the threshold ship free.
	FreeShippingThreshold decimal.Decimal `validate:"gt=0"`
	FlatShippingFee       decimal.Decimal `validate:"gte=0"`
	// Prices are tax inclusive; the rate only drives the informational
	// tax breakdown.
	TaxRatePercent decimal.Decimal `validate:"gte=0,lt=100"`
	// VoucherRole is the only role allowed to redeem vouchers.
	VoucherRole string `validate:"required"`
}

func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: decimal.NewFromInt(60),
		FlatShippingFee:       decimal.NewFromInt(5),
		TaxRatePercent:        decimal.NewFromInt(9),
		VoucherRole:           "adopter",
	}
}

func ConfigFrom(c config.PricingConfig) Config {
	return Config{
		FreeShippingThreshold: c.FreeShippingThreshold,
		FlatShippingFee:       c.FlatShippingFee,
		TaxRatePercent:        c.TaxRatePercent,
		VoucherRole:           c.VoucherRole,
	}
}

var validate = validation.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperr.Wrap(ErrInvalidConfig, err)
	}
	return nil
}

// Line is one priced cart line of a quote.
type Line struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Quote is a computed, not yet committed, pricing breakdown.
type Quote struct {
	Lines       []Line          `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	VoucherID   *int64          `json:"voucher_id,omitempty"`
	VoucherCode string          `json:"voucher_code,omitempty"`
}

package pricing

import (
	"pawledger-be/internal/cart"
	"pawledger-be/internal/money"
	"pawledger-be/internal/product"

	"github.com/shopspring/decimal"
)

// Validate rejects an empty cart, unavailable products and quantities above
// the stock carried on the lines.
func Validate(lines []cart.PricedLine) error {
	if len(lines) == 0 {
		return cart.ErrCartEmpty
	}
	for _, l := range lines {
		if l.Status != product.StatusAvailable {
			return cart.ErrProductUnavailable
		}
		if l.Quantity <= 0 || l.Quantity > l.Stock {
			return cart.ErrInsufficientStock
		}
	}
	return nil
}

// Calculate prices lines without a voucher. It does not validate them.
func Calculate(cfg Config, lines []cart.PricedLine) Quote {
	q := Quote{
		Lines:    make([]Line, 0, len(lines)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}

	for _, l := range lines {
		lineTotal := money.Round2(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		q.Lines = append(q.Lines, Line{
			ProductID: l.ProductID,
			Name:      l.Name,
			Price:     money.Round2(l.Price),
			Quantity:  l.Quantity,
			LineTotal: lineTotal,
		})
		q.Subtotal = q.Subtotal.Add(lineTotal)
	}
	q.Subtotal = money.Round2(q.Subtotal)

	q.ShippingFee = ShippingFee(cfg, q.Subtotal, len(lines))
	q.TaxAmount = TaxIncluded(cfg, q.Subtotal)
	q.Total = money.Round2(q.Subtotal.Add(q.ShippingFee))

	return q
}

// ShippingFee is free from the threshold up and flat below it. An empty
// cart ships nothing.
func ShippingFee(cfg Config, subtotal decimal.Decimal, lineCount int) decimal.Decimal {
	if lineCount == 0 || subtotal.GreaterThanOrEqual(cfg.FreeShippingThreshold) {
		return decimal.Zero
	}
	return money.Round2(cfg.FlatShippingFee)
}

// TaxIncluded is the tax portion already contained in a tax-inclusive
// amount: amount * rate / (100 + rate).
func TaxIncluded(cfg Config, amount decimal.Decimal) decimal.Decimal {
	if cfg.TaxRatePercent.IsZero() {
		return decimal.Zero
	}
	return money.Round2(amount.Mul(cfg.TaxRatePercent).Div(money.Hundred.Add(cfg.TaxRatePercent)))
}

// VoucherBase is the amount a voucher discount is computed on.
func (q *Quote) VoucherBase() decimal.Decimal {
	return q.Subtotal.Add(q.ShippingFee)
}

// ApplyDiscount clamps discount to the voucher base and recomputes the total.
func (q *Quote) ApplyDiscount(discount decimal.Decimal, voucherID int64, code string) {
	base := q.VoucherBase()
	if discount.GreaterThan(base) {
		discount = base
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	id := voucherID
	q.Discount = money.Round2(discount)
	q.VoucherID = &id
	q.VoucherCode = code
	q.Total = money.Round2(base.Sub(q.Discount))
}

package refund

import (
	"fmt"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/money"
	"pawledger-be/internal/order"

	"github.com/shopspring/decimal"
)

// Allocate prices a refund of the requested lines.
//
// The order discount is spread over the items in proportion to their
// itemTotal. A line refunds requestedQty times the unit's discounted share.
// When every item is requested in full the amount is the order total, so
// shipping comes back too; partial refunds exclude shipping.
func Allocate(o *order.Order, items []order.OrderItem, reqs []ItemRequest) ([]Item, decimal.Decimal, error) {
	byID := make(map[int64]order.OrderItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	seen := make(map[int64]bool, len(reqs))
	out := make([]Item, 0, len(reqs))
	sum := decimal.Zero
	fullQty := 0

	for _, r := range reqs {
		it, ok := byID[r.OrderItemID]
		if !ok {
			return nil, decimal.Zero, apperr.Wrap(ErrUnknownItem, fmt.Errorf("order item %d", r.OrderItemID))
		}
		if seen[r.OrderItemID] {
			return nil, decimal.Zero, apperr.Wrap(ErrDuplicateItem, fmt.Errorf("order item %d", r.OrderItemID))
		}
		seen[r.OrderItemID] = true

		if r.Quantity <= 0 || r.Quantity > it.Quantity {
			return nil, decimal.Zero, apperr.Wrap(ErrQuantityExceeded,
				fmt.Errorf("order item %d: requested %d of %d", r.OrderItemID, r.Quantity, it.Quantity))
		}

		unit := unitRefundable(o, it)
		line := money.Round2(unit.Mul(decimal.NewFromInt(int64(r.Quantity))))
		out = append(out, Item{
			OrderItemID: it.ID,
			ProductID:   it.ProductID,
			Quantity:    r.Quantity,
			UnitRefund:  money.Round2(unit),
			LineRefund:  line,
		})
		sum = sum.Add(line)

		if r.Quantity == it.Quantity {
			fullQty++
		}
	}

	if fullQty == len(items) && len(reqs) == len(items) {
		return out, money.Round2(o.TotalAmount), nil
	}
	if sum.GreaterThan(o.TotalAmount) {
		sum = o.TotalAmount
	}
	return out, money.Round2(sum), nil
}

// unitRefundable is (itemTotal - item's share of the order discount) / qty,
// unrounded.
func unitRefundable(o *order.Order, it order.OrderItem) decimal.Decimal {
	if it.Quantity <= 0 {
		return decimal.Zero
	}
	net := it.ItemTotal
	if o.Subtotal.IsPositive() && o.DiscountAmount.IsPositive() {
		share := o.DiscountAmount.Mul(it.ItemTotal).Div(o.Subtotal)
		net = net.Sub(share)
	}
	if net.IsNegative() {
		net = decimal.Zero
	}
	return net.Div(decimal.NewFromInt(int64(it.Quantity)))
}

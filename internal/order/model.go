package order

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "UNPAID"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentPending           PaymentStatus = "PENDING"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

type DeliveryStatus string

const (
	DeliveryProcessing DeliveryStatus = "PROCESSING"
	DeliveryShipped    DeliveryStatus = "SHIPPED"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	// DeliveryCompleted is terminal.
	DeliveryCompleted DeliveryStatus = "COMPLETED"
)

// Order is immutable once placed apart from its payment and delivery
// status. TotalAmount = Subtotal - DiscountAmount + ShippingFee.
type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingFee    decimal.Decimal `json:"shipping_fee"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	DeliveryStatus DeliveryStatus  `json:"delivery_status"`
	VoucherID      *int64          `json:"voucher_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []OrderItem     `json:"items,omitempty"`
}

// OrderItem mirrors a locked cart line. ItemTotal = PriceEach * Quantity.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	PriceEach decimal.Decimal `json:"price_each"`
	ItemTotal decimal.Decimal `json:"item_total"`
}

// CheckoutOptions configures one checkout.
type CheckoutOptions struct {
	// Role decides voucher eligibility.
	Role        string
	VoucherCode string

	// PaymentStatus of the new order. Defaults to UNPAID.
	PaymentStatus PaymentStatus `validate:"omitempty,oneof=UNPAID PAID PENDING"`

	// ExpectedTotal, when set, must match the total recomputed from the
	// locked cart or the checkout fails with a concurrency conflict.
	ExpectedTotal *decimal.Decimal

	// Tx makes checkout participate in the caller's transaction. The
	// caller then owns commit and rollback.
	Tx *sql.Tx
}

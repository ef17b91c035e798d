package refund

import (
	"time"

	"pawledger-be/internal/paymethod"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRefunded Status = "REFUNDED"
	StatusRejected Status = "REJECTED"
	StatusFailed   Status = "FAILED"
)

// MaxRejections is how many rejected requests an order may accumulate.
// The last one closes the order for further requests.
const MaxRejections = 3

// Item is one refunded order line as computed at submission.
type Item struct {
	OrderItemID int64           `json:"order_item_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitRefund  decimal.Decimal `json:"unit_refund"`
	LineRefund  decimal.Decimal `json:"line_refund"`
}

type Request struct {
	ID               int64            `json:"id"`
	OrderID          int64            `json:"order_id"`
	UserID           int64            `json:"user_id"`
	Items            []Item           `json:"items"`
	Amount           decimal.Decimal  `json:"amount"`
	Reason           string           `json:"reason"`
	Status           Status           `json:"status"`
	PaymentMethod    paymethod.Method `json:"payment_method"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	RefundReference  string           `json:"refund_reference,omitempty"`
	DecisionNote     string           `json:"decision_note,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type ItemRequest struct {
	OrderItemID int64 `validate:"required"`
	Quantity    int   `validate:"gt=0"`
}

type SubmitParams struct {
	UserID  int64         `validate:"required"`
	OrderID int64         `validate:"required"`
	Items   []ItemRequest `validate:"required,min=1,dive"`
	Reason  string        `validate:"required,max=1000"`
	// PaymentMethod the user says they paid with, legacy spellings
	// included. Empty means the method of the order's payment.
	PaymentMethod string
}

// Summary counts an order's requests by whether they still allow a new one.
type Summary struct {
	Rejected int
	// Blocking counts requests in any state other than REJECTED.
	Blocking int
}

package payment

import (
	"time"

	"pawledger-be/internal/paymethod"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const StatusCompleted = "COMPLETED"

// Transaction is the immutable record of a completed capture. An order may
// have several; the latest by time is authoritative.
type Transaction struct {
	ID               int64            `json:"id"`
	OrderID          *int64           `json:"order_id,omitempty"`
	UserID           int64            `json:"user_id"`
	GatewayReference string           `json:"gateway_reference"`
	CaptureID        string           `json:"capture_id,omitempty"`
	Payer            string           `json:"payer,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency"`
	Status           string           `json:"status"`
	PaymentMethod    paymethod.Method `json:"payment_method"`
	CreatedAt        time.Time        `json:"created_at"`
}

// RefundReference is what a gateway refund is issued against: the capture
// when the gateway distinguishes it, the order reference otherwise.
func (t *Transaction) RefundReference() string {
	if t.CaptureID != "" {
		return t.CaptureID
	}
	return t.GatewayReference
}

type Purpose string

const (
	PurposeCheckout Purpose = "CHECKOUT"
	PurposeTopUp    Purpose = "TOPUP"
)

type PendingStatus string

const (
	PendingOpen    PendingStatus = "PENDING"
	PendingSettled PendingStatus = "SETTLED"
	PendingFailed  PendingStatus = "FAILED"
)

// PendingPayment correlates a gateway order or QR request with the user
// and the amount quoted when it was created. It lives in the database so a
// capture or callback can be matched after a restart.
type PendingPayment struct {
	ID               uuid.UUID        `json:"id"`
	UserID           int64            `json:"user_id"`
	Gateway          paymethod.Method `json:"gateway"`
	GatewayReference string           `json:"gateway_reference"`
	Purpose          Purpose          `json:"purpose"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency"`
	Role             string           `json:"-"`
	VoucherCode      string           `json:"voucher_code,omitempty"`
	Status           PendingStatus    `json:"status"`
	OrderID          *int64           `json:"order_id,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// -- gateway contracts --

type CardOrder struct {
	ID     string
	Status string
}

type Capture struct {
	ID       string
	Status   string
	Payer    string
	Amount   decimal.Decimal
	Currency string
}

// Refund statuses are normalized across gateways.
const (
	RefundCompleted = "COMPLETED"
	RefundPending   = "PENDING"
	RefundFailed    = "FAILED"
)

type GatewayRefund struct {
	ID     string
	Status string
}

type QRRequest struct {
	TxnRetrievalRef string
	QRPayload       string
}

// QRStatus is one answer of the QR status query.
type QRStatus struct {
	ResponseCode string
	TxnStatus    int
}

const (
	qrResponseOK      = "00"
	qrResponsePending = "09"
	qrTxnPaid         = 1
	qrTxnFailed       = 2
)

func (s *QRStatus) Succeeded() bool {
	return s.ResponseCode == qrResponseOK && s.TxnStatus == qrTxnPaid
}

func (s *QRStatus) Failed() bool {
	if s.TxnStatus == qrTxnFailed {
		return true
	}
	return s.ResponseCode != qrResponseOK && s.ResponseCode != qrResponsePending
}

func (s *QRStatus) Terminal() bool {
	return s.Succeeded() || s.Failed()
}

// -- service requests and results --

type CheckoutRequest struct {
	UserID      int64
	Role        string
	VoucherCode string
	// ExpectedTotal is the total the user was shown. Wallet payments fail
	// with a concurrency conflict when the cart now prices differently.
	ExpectedTotal *decimal.Decimal
}

// StartResult is handed to the client to complete payment.
type StartResult struct {
	PendingID uuid.UUID       `json:"pending_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	QRPayload string          `json:"qr_payload,omitempty"`
}

// SettleResult describes a settled payment. Order is set for checkouts,
// WalletTxnID for top-ups and wallet payments.
type SettleResult struct {
	Pending     *PendingPayment `json:"pending,omitempty"`
	OrderID     *int64          `json:"order_id,omitempty"`
	Transaction *Transaction    `json:"transaction,omitempty"`
	WalletTxnID *int64          `json:"wallet_txn_id,omitempty"`
	// Replayed is true when the payment had already been settled and
	// nothing was mutated.
	Replayed bool `json:"replayed"`
}

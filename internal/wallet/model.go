package wallet

import (
	"database/sql"
	"time"

	"pawledger-be/internal/paymethod"

	"github.com/shopspring/decimal"
)

type TxnType string

const (
	TxnTopUp   TxnType = "TOPUP"
	TxnPayment TxnType = "PAYMENT"
	TxnRefund  TxnType = "REFUND"
)

// Wallet balance is never negative and always equals the BalanceAfter of
// the wallet's latest ledger entry.
type Wallet struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is an append-only ledger entry. Amount is always positive;
// the direction follows from TxnType and the balances.
type Transaction struct {
	ID            int64            `json:"id"`
	WalletID      int64            `json:"wallet_id"`
	TxnType       TxnType          `json:"txn_type"`
	Amount        decimal.Decimal  `json:"amount"`
	BalanceBefore decimal.Decimal  `json:"balance_before"`
	BalanceAfter  decimal.Decimal  `json:"balance_after"`
	ReferenceType string           `json:"reference_type,omitempty"`
	ReferenceID   string           `json:"reference_id,omitempty"`
	PaymentMethod paymethod.Method `json:"payment_method,omitempty"`
	Description   string           `json:"description,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Meta describes why the balance moved.
type Meta struct {
	TxnType       TxnType `validate:"required,oneof=TOPUP PAYMENT REFUND"`
	ReferenceType string
	ReferenceID   string
	PaymentMethod paymethod.Method
	Description   string
}

// Options of a single credit or debit.
type Options struct {
	// Tx makes the mutation part of the caller's transaction.
	Tx *sql.Tx
}

// Limits bound wallet top-ups. The two caps reject, the two rolling
// windows only raise risk flags.
type Limits struct {
	MaxTopUpPerTransaction decimal.Decimal `validate:"gt=0"`
	MaxBalance             decimal.Decimal `validate:"gt=0"`

	RapidTopUpWindow time.Duration   `validate:"gt=0"`
	RapidTopUpCount  int             `validate:"gt=0"`
	DailyTopUpWindow time.Duration   `validate:"gt=0"`
	DailyTopUpSum    decimal.Decimal `validate:"gt=0"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxTopUpPerTransaction: decimal.NewFromInt(500),
		MaxBalance:             decimal.NewFromInt(2000),
		RapidTopUpWindow:       10 * time.Minute,
		RapidTopUpCount:        3,
		DailyTopUpWindow:       24 * time.Hour,
		DailyTopUpSum:          decimal.NewFromInt(1000),
	}
}

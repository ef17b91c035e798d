package apperr

import "errors"

// Kind classifies failures so callers can decide what to show to the user.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindVoucher           Kind = "VOUCHER_ERROR"
	KindConcurrency       Kind = "CONCURRENCY_CONFLICT"
	KindPaymentGateway    Kind = "PAYMENT_GATEWAY_ERROR"
	KindState             Kind = "STATE_ERROR"
	KindCartEmpty         Kind = "CART_EMPTY"
	KindStockConflict     Kind = "STOCK_CONFLICT"
	KindNotFound          Kind = "NOT_FOUND"
	KindInternal          Kind = "INTERNAL"
)

const genericMessage = "something went wrong, please try again"

// Error is a business failure carrying a user-displayable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a business error without changing its identity.
func Wrap(base *Error, err error) *Error {
	return &Error{Kind: base.Kind, Message: base.Message, Err: err}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind. A target without a message matches every error of
// that kind, a target with a message only matches the same sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Kind-only sentinels for errors.Is checks across packages.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrVoucher           = &Error{Kind: KindVoucher}
	ErrConcurrency       = &Error{Kind: KindConcurrency}
	ErrPaymentGateway    = &Error{Kind: KindPaymentGateway}
	ErrState             = &Error{Kind: KindState}
	ErrCartEmpty         = &Error{Kind: KindCartEmpty}
	ErrStockConflict     = &Error{Kind: KindStockConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// KindOf returns the kind of the first business error in the chain, or
// KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsBusiness reports whether err should be shown to the user as is.
func IsBusiness(err error) bool {
	return KindOf(err) != KindInternal
}

// Public returns the message safe to display. Unexpected faults collapse to
// a generic message; their detail belongs in the logs.
func Public(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		if e.Message == "" {
			return string(e.Kind)
		}
		return e.Message
	}
	return genericMessage
}

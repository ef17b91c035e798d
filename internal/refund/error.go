package refund

import "pawledger-be/internal/apperr"

var (
	// -- Validation --
	ErrInvalidRequest   = apperr.New(apperr.KindValidation, "invalid refund request")
	ErrUnknownItem      = apperr.New(apperr.KindValidation, "item is not part of this order")
	ErrDuplicateItem    = apperr.New(apperr.KindValidation, "item requested more than once")
	ErrQuantityExceeded = apperr.New(apperr.KindValidation, "refund quantity exceeds purchased quantity")

	// -- Submission --
	ErrNotOwner           = apperr.New(apperr.KindState, "order does not belong to you")
	ErrOrderNotRefundable = apperr.New(apperr.KindState, "order is not eligible for a refund")
	ErrNoPayment          = apperr.New(apperr.KindState, "order has no completed payment")
	ErrMultiplePayments   = apperr.New(apperr.KindState, "order has more than one payment, contact support")
	ErrRequestExists      = apperr.New(apperr.KindState, "a refund request already exists for this order")
	ErrRejectionLimit     = apperr.New(apperr.KindState, "refund request limit reached for this order")

	// -- Decision --
	ErrRequestNotFound = apperr.New(apperr.KindNotFound, "refund request not found")
	ErrNotPending      = apperr.New(apperr.KindState, "refund request has already been processed")
	ErrOwnerMismatch   = apperr.New(apperr.KindState, "refund requester does not own the order")
	ErrMethodMismatch  = apperr.New(apperr.KindState, "refund payment method does not match the order payment")

	// -- Settlement --
	ErrRefundFailed = apperr.New(apperr.KindPaymentGateway, "refund could not be issued by the payment provider")
)

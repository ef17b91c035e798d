package payment

import "pawledger-be/internal/apperr"

var (
	// -- Validation --
	ErrInvalidAmount   = apperr.New(apperr.KindValidation, "invalid payment amount")
	ErrUnsupportedCard = apperr.New(apperr.KindValidation, "unsupported card gateway")

	// -- Pending payments --
	ErrPendingNotFound    = apperr.New(apperr.KindNotFound, "payment not found")
	ErrAlreadySettled     = apperr.New(apperr.KindState, "payment has already been processed")
	ErrPaymentFailed      = apperr.New(apperr.KindState, "payment has failed")
	ErrPaymentPending     = apperr.New(apperr.KindState, "payment is still awaiting confirmation")
	ErrPurposeMismatch    = apperr.New(apperr.KindState, "payment does not match this operation")
	ErrTransactionMissing = apperr.New(apperr.KindNotFound, "payment transaction not found")

	// -- Races --
	ErrQuoteChanged   = apperr.New(apperr.KindConcurrency, "your cart changed since payment started, please review and try again")
	ErrAmountMismatch = apperr.New(apperr.KindConcurrency, "captured amount does not match the order total")

	// -- Gateways --
	ErrGateway           = apperr.New(apperr.KindPaymentGateway, "payment provider error, please try again later")
	ErrCaptureIncomplete = apperr.New(apperr.KindPaymentGateway, "payment was not completed")
	ErrQRPaymentFailed   = apperr.New(apperr.KindPaymentGateway, "QR payment failed")
	ErrQRTimeout         = apperr.New(apperr.KindPaymentGateway, "QR payment was not confirmed in time")
)

package wallet

import "pawledger-be/internal/apperr"

var (
	// -- Validation --
	ErrInvalidAmount = apperr.New(apperr.KindValidation, "amount must be greater than zero")
	ErrInvalidMeta   = apperr.New(apperr.KindValidation, "invalid wallet transaction details")
	ErrInvalidLimits = apperr.New(apperr.KindValidation, "invalid wallet limits")

	// -- Balance --
	ErrInsufficientFunds  = apperr.New(apperr.KindInsufficientFunds, "insufficient wallet balance")
	ErrTopUpCapExceeded   = apperr.New(apperr.KindValidation, "top-up amount exceeds the per-transaction limit")
	ErrBalanceCapExceeded = apperr.New(apperr.KindValidation, "top-up would exceed the maximum wallet balance")

	ErrWalletNotFound = apperr.New(apperr.KindNotFound, "wallet not found")
)

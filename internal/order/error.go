package order

import "pawledger-be/internal/apperr"

var (
	ErrInvalidOptions = apperr.New(apperr.KindValidation, "invalid checkout options")
	ErrOrderNotFound  = apperr.New(apperr.KindNotFound, "order not found")
	ErrNotOrderOwner  = apperr.New(apperr.KindState, "order does not belong to this user")
	ErrStockConflict  = apperr.New(apperr.KindStockConflict, "stock changed during checkout, please review your cart")
	ErrQuoteChanged   = apperr.New(apperr.KindConcurrency, "your cart changed since the price was shown, please review and try again")
)

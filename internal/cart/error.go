package cart

import "pawledger-be/internal/apperr"

var (
	// -- Validation & Input --
	ErrUserRequired    = apperr.New(apperr.KindValidation, "user ID is required")
	ErrProductRequired = apperr.New(apperr.KindValidation, "product ID is required")
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, "invalid cart quantity")

	// -- Resource State --
	ErrCartItemNotFound   = apperr.New(apperr.KindNotFound, "cart item not found")
	ErrCartEmpty          = apperr.New(apperr.KindCartEmpty, "cart is empty")
	ErrProductUnavailable = apperr.New(apperr.KindInsufficientStock, "product is no longer available")
	ErrInsufficientStock  = apperr.New(apperr.KindInsufficientStock, "insufficient stock")
)

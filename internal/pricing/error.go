package pricing

import "pawledger-be/internal/apperr"

var (
	ErrInvalidConfig      = apperr.New(apperr.KindValidation, "invalid pricing configuration")
	ErrVoucherNotEligible = apperr.New(apperr.KindVoucher, "vouchers can only be redeemed by adopters")
)

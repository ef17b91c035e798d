package voucher

import "pawledger-be/internal/apperr"

var (
	ErrVoucherNotFound     = apperr.New(apperr.KindVoucher, "voucher not found")
	ErrVoucherExpired      = apperr.New(apperr.KindVoucher, "voucher has expired")
	ErrVoucherRole         = apperr.New(apperr.KindVoucher, "voucher is not available for this account")
	ErrVoucherLimitReached = apperr.New(apperr.KindVoucher, "voucher usage limit reached")
	ErrVoucherInvalid      = apperr.New(apperr.KindVoucher, "voucher is misconfigured")
)

// Package paymethod enumerates how an order or top-up was paid and maps the
// legacy spellings still found in older rows onto that enumeration.
package paymethod

import (
	"fmt"
	"strings"

	"pawledger-be/internal/apperr"
)

type Method string

const (
	PayPal Method = "PAYPAL"
	Stripe Method = "STRIPE"
	Wallet Method = "WALLET"
	NetsQR Method = "NETS_QR"
)

// Settlement is the channel a refund for a method is paid back through.
type Settlement string

const (
	SettleGateway Settlement = "GATEWAY"
	SettleWallet  Settlement = "WALLET"
)

var ErrUnknownMethod = apperr.New(apperr.KindValidation, "unknown payment method")

// legacyCodes maps every spelling accepted from older records and clients.
// Bare numerals are the codes the first schema stored in
// transactions.payment_method.
var legacyCodes = map[string]Method{
	"1":       PayPal,
	"paypal":  PayPal,
	"card":    PayPal,
	"2":       Wallet,
	"wallet":  Wallet,
	"balance": Wallet,
	"3":       NetsQR,
	"nets":    NetsQR,
	"qr":      NetsQR,
	"netsqr":  NetsQR,
	"nets_qr": NetsQR,
	"4":       Stripe,
	"stripe":  Stripe,
}

// Normalize resolves a stored or user-supplied value to a Method.
func Normalize(raw string) (Method, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if m, ok := legacyCodes[key]; ok {
		return m, nil
	}
	return "", apperr.Wrap(ErrUnknownMethod, fmt.Errorf("value %q", raw))
}

// Settlement tells whether refunds go back through the card gateway or
// into the wallet. QR payments cannot be reversed by the QR provider, so
// they are refunded as wallet credit.
func (m Method) Settlement() Settlement {
	switch m {
	case PayPal, Stripe:
		return SettleGateway
	default:
		return SettleWallet
	}
}

func (m Method) String() string {
	return string(m)
}

// Compatible reports whether two stored values name the same method once
// normalized. Unknown values are never compatible.
func Compatible(a, b string) bool {
	ma, err := Normalize(a)
	if err != nil {
		return false
	}
	mb, err := Normalize(b)
	if err != nil {
		return false
	}
	return ma == mb
}

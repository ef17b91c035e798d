package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	errExpired := New(KindVoucher, "voucher has expired")
	errLimit := New(KindVoucher, "voucher usage limit reached")

	wrapped := fmt.Errorf("checkout: %w", errExpired)

	assert.True(t, errors.Is(wrapped, errExpired))
	assert.True(t, errors.Is(wrapped, ErrVoucher))
	assert.False(t, errors.Is(wrapped, errLimit))
	assert.False(t, errors.Is(wrapped, ErrState))
}

func TestWrap(t *testing.T) {
	base := New(KindPaymentGateway, "payment gateway unavailable")
	cause := errors.New("dial tcp: timeout")

	err := Wrap(base, cause)

	assert.True(t, errors.Is(err, base))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "payment gateway unavailable: dial tcp: timeout", err.Error())
}

func TestKindOfAndPublic(t *testing.T) {
	t.Run("Business", func(t *testing.T) {
		err := fmt.Errorf("wrap: %w", New(KindInsufficientFunds, "insufficient wallet balance"))
		assert.Equal(t, KindInsufficientFunds, KindOf(err))
		assert.True(t, IsBusiness(err))
		assert.Equal(t, "insufficient wallet balance", Public(err))
	})

	t.Run("Unexpected", func(t *testing.T) {
		err := errors.New("pq: connection reset")
		assert.Equal(t, KindInternal, KindOf(err))
		assert.False(t, IsBusiness(err))
		assert.Equal(t, genericMessage, Public(err))
	})

	t.Run("Nil", func(t *testing.T) {
		assert.Equal(t, "", Public(nil))
	})
}

package voucher

import (
	"context"
	"errors"
	"testing"
	"time"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/money"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var voucherColumns = []string{
	"id", "code", "discount_type", "discount_value", "allowed_role",
	"expiry_date", "usage_limit", "used_count",
}

func newTestStore(now time.Time) *store {
	return &store{now: func() time.Time { return now }}
}

func TestStore_Apply(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(now)
	ctx := context.Background()

	t.Run("CaseInsensitiveLookup", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM vouchers WHERE LOWER\(code\) = LOWER\(\$1\)$`).
			WithArgs("welcome10").
			WillReturnRows(sqlmock.NewRows(voucherColumns).
				AddRow(3, "WELCOME10", "percentage", "10", "adopter", now.Add(time.Hour), 100, 4))

		app, err := s.Apply(ctx, db, ApplyRequest{Code: " welcome10 ", BaseAmount: money.MustParse("100"), Role: "adopter"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), app.VoucherID)
		assert.Equal(t, "WELCOME10", app.Code)
		assert.Equal(t, "10.00", money.Format(app.Discount))
	})

	t.Run("ForUpdateLocksRow", func(t *testing.T) {
		mock.ExpectQuery(`FROM vouchers WHERE LOWER\(code\) = LOWER\(\$1\) FOR UPDATE`).
			WithArgs("FIVEOFF").
			WillReturnRows(sqlmock.NewRows(voucherColumns).
				AddRow(4, "FIVEOFF", "fixed", "5", nil, nil, 1, 0))

		app, err := s.Apply(ctx, db, ApplyRequest{Code: "FIVEOFF", BaseAmount: money.MustParse("30"), Role: "customer", ForUpdate: true})
		require.NoError(t, err)
		assert.Equal(t, "5.00", money.Format(app.Discount))
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`FROM vouchers`).
			WithArgs("NOPE").
			WillReturnRows(sqlmock.NewRows(voucherColumns))

		_, err := s.Apply(ctx, db, ApplyRequest{Code: "NOPE", BaseAmount: money.MustParse("30"), Role: "adopter"})
		assert.ErrorIs(t, err, ErrVoucherNotFound)
		assert.ErrorIs(t, err, apperr.ErrVoucher)
	})

	t.Run("EmptyCode", func(t *testing.T) {
		_, err := s.Apply(ctx, db, ApplyRequest{Code: "  ", BaseAmount: money.MustParse("30")})
		assert.ErrorIs(t, err, ErrVoucherNotFound)
	})

	t.Run("LimitReached", func(t *testing.T) {
		mock.ExpectQuery(`FROM vouchers`).
			WithArgs("USED").
			WillReturnRows(sqlmock.NewRows(voucherColumns).
				AddRow(5, "USED", "fixed", "5", "adopter", nil, 1, 1))

		_, err := s.Apply(ctx, db, ApplyRequest{Code: "USED", BaseAmount: money.MustParse("30"), Role: "adopter"})
		assert.ErrorIs(t, err, ErrVoucherLimitReached)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`FROM vouchers`).
			WillReturnError(errors.New("db down"))

		_, err := s.Apply(ctx, db, ApplyRequest{Code: "X", BaseAmount: money.MustParse("30")})
		assert.Error(t, err)
		assert.False(t, apperr.IsBusiness(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_IncrementUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore()
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE vouchers SET used_count = used_count \+ 1 WHERE id = \$1 AND used_count < usage_limit`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.IncrementUsage(ctx, db, 3))
	})

	t.Run("LimitRaced", func(t *testing.T) {
		mock.ExpectExec(`UPDATE vouchers SET used_count = used_count \+ 1`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, s.IncrementUsage(ctx, db, 3), ErrVoucherLimitReached)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectExec(`UPDATE vouchers`).
			WillReturnError(errors.New("db error"))

		assert.Error(t, s.IncrementUsage(ctx, db, 3))
	})
}

func TestStore_DecrementUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore()

	mock.ExpectExec(`UPDATE vouchers SET used_count = GREATEST\(used_count - 1, 0\) WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, s.DecrementUsage(context.Background(), db, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

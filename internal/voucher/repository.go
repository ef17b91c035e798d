package voucher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"

	"go.uber.org/zap"
)

// Store evaluates and counts voucher usage. Apply never mutates usage, so
// repeated quoting cannot exhaust a limit; Increment and Decrement run inside
// the checkout and refund transactions.
type Store interface {
	Apply(ctx context.Context, q db.DBTX, req ApplyRequest) (*Application, error)
	GetByCode(ctx context.Context, q db.DBTX, code string, forUpdate bool) (*Voucher, error)
	IncrementUsage(ctx context.Context, q db.DBTX, voucherID int64) error
	DecrementUsage(ctx context.Context, q db.DBTX, voucherID int64) error
}

type store struct {
	now func() time.Time
}

func NewStore() Store {
	return &store{now: time.Now}
}

func (s *store) GetByCode(ctx context.Context, q db.DBTX, code string, forUpdate bool) (*Voucher, error) {
	query := `
		SELECT id, code, discount_type, discount_value, allowed_role,
		       expiry_date, usage_limit, used_count
		FROM vouchers
		WHERE LOWER(code) = LOWER($1)
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var v Voucher
	var allowedRole sql.NullString
	var expires sql.NullTime

	err := q.QueryRowContext(ctx, query, strings.TrimSpace(code)).Scan(
		&v.ID,
		&v.Code,
		&v.DiscountType,
		&v.DiscountValue,
		&allowedRole,
		&expires,
		&v.UsageLimit,
		&v.UsedCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get voucher by code: %w", err)
	}

	v.AllowedRole = allowedRole.String
	if expires.Valid {
		t := expires.Time
		v.ExpiresAt = &t
	}

	return &v, nil
}

func (s *store) Apply(ctx context.Context, q db.DBTX, req ApplyRequest) (*Application, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "voucher"),
		zap.String("method", "Apply"),
		zap.String("code", req.Code),
		zap.String("role", req.Role),
	)

	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrVoucherNotFound
	}

	v, err := s.GetByCode(ctx, q, req.Code, req.ForUpdate)
	if err != nil {
		return nil, err
	}

	if err := v.Check(req.Role, s.now()); err != nil {
		log.Warn("voucher rejected", zap.Error(err))
		return nil, err
	}

	discount, err := v.Discount(req.BaseAmount)
	if err != nil {
		log.Error("voucher discount failed", zap.String("discount_type", string(v.DiscountType)), zap.Error(err))
		return nil, err
	}

	log.Debug("voucher applied", zap.String("discount", discount.StringFixed(2)))

	return &Application{VoucherID: v.ID, Code: v.Code, Discount: discount}, nil
}

// IncrementUsage consumes one use. The guard in the WHERE clause makes the
// limit hold even when two transactions race past Apply.
func (s *store) IncrementUsage(ctx context.Context, q db.DBTX, voucherID int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE vouchers
		SET used_count = used_count + 1
		WHERE id = $1 AND used_count < usage_limit
	`, voucherID)
	if err != nil {
		return fmt.Errorf("increment voucher usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVoucherLimitReached
	}

	return nil
}

// DecrementUsage releases one use, never going below zero.
func (s *store) DecrementUsage(ctx context.Context, q db.DBTX, voucherID int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE vouchers
		SET used_count = GREATEST(used_count - 1, 0)
		WHERE id = $1
	`, voucherID)
	if err != nil {
		return fmt.Errorf("decrement voucher usage: %w", err)
	}
	return nil
}

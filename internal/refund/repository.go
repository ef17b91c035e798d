package refund

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/money"
	"pawledger-be/internal/paymethod"

	"go.uber.org/zap"
)

// Repository persists refund requests. Methods run on the given q so they
// can share the engine's transaction.
type Repository interface {
	// Insert stores a PENDING request. A second open request for the same
	// order yields ErrRequestExists.
	Insert(ctx context.Context, q db.DBTX, r *Request) error
	Get(ctx context.Context, q db.DBTX, id int64, forUpdate bool) (*Request, error)
	ListForOrder(ctx context.Context, q db.DBTX, orderID int64) ([]Request, error)
	Summary(ctx context.Context, q db.DBTX, orderID int64) (Summary, error)
	// UpdateStatus moves a request out of from. A request no longer in from
	// yields ErrNotPending.
	UpdateStatus(ctx context.Context, q db.DBTX, id int64, from, to Status, refundRef, note string) error
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

const requestColumns = `
	id, order_id, user_id, items, amount, reason, status, payment_method,
	payment_reference, refund_reference, decision_note, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		r          Request
		items      []byte
		method     string
		paymentRef sql.NullString
		refundRef  sql.NullString
		note       sql.NullString
	)
	err := row.Scan(
		&r.ID,
		&r.OrderID,
		&r.UserID,
		&items,
		&r.Amount,
		&r.Reason,
		&r.Status,
		&method,
		&paymentRef,
		&refundRef,
		&note,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &r.Items); err != nil {
			return nil, fmt.Errorf("decode refund items: %w", err)
		}
	}
	// Rows written before the method enumeration keep their legacy code.
	if m, err := paymethod.Normalize(method); err == nil {
		r.PaymentMethod = m
	} else {
		r.PaymentMethod = paymethod.Method(method)
	}
	r.Amount = money.Round2(r.Amount)
	r.PaymentReference = paymentRef.String
	r.RefundReference = refundRef.String
	r.DecisionNote = note.String
	return &r, nil
}

func (repo *repository) Insert(ctx context.Context, q db.DBTX, r *Request) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "InsertRefundRequest"),
		zap.Int64("order_id", r.OrderID),
	)

	items, err := json.Marshal(r.Items)
	if err != nil {
		return fmt.Errorf("encode refund items: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		INSERT INTO refund_requests (
			order_id, user_id, items, amount, reason, status,
			payment_method, payment_reference
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`,
		r.OrderID,
		r.UserID,
		items,
		r.Amount,
		r.Reason,
		r.Status,
		r.PaymentMethod,
		nullString(r.PaymentReference),
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if db.IsUniqueViolation(err) {
		log.Warn("open refund request already exists")
		return ErrRequestExists
	}
	if err != nil {
		log.Error("failed to insert refund request", zap.Error(err))
		return fmt.Errorf("insert refund request: %w", err)
	}
	return nil
}

func (repo *repository) Get(ctx context.Context, q db.DBTX, id int64, forUpdate bool) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM refund_requests WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	r, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refund request: %w", err)
	}
	return r, nil
}

func (repo *repository) ListForOrder(ctx context.Context, q db.DBTX, orderID int64) ([]Request, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM refund_requests
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list refund requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund request: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund requests: %w", err)
	}
	return out, nil
}

func (repo *repository) Summary(ctx context.Context, q db.DBTX, orderID int64) (Summary, error) {
	var s Summary
	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'REJECTED'),
			COUNT(*) FILTER (WHERE status <> 'REJECTED')
		FROM refund_requests
		WHERE order_id = $1
	`, orderID).Scan(&s.Rejected, &s.Blocking)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize refund requests: %w", err)
	}
	return s, nil
}

func (repo *repository) UpdateStatus(ctx context.Context, q db.DBTX, id int64, from, to Status, refundRef, note string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = $1,
		    refund_reference = COALESCE($2, refund_reference),
		    decision_note = COALESCE($3, decision_note),
		    updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, to, nullString(refundRef), nullString(note), id, from)
	if err != nil {
		return fmt.Errorf("update refund request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update refund request: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

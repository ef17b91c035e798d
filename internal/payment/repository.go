package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/paymethod"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository persists captures, pending payments and provider callbacks.
// Methods taking q run on it; a nil q runs on the repository's pool.
type Repository interface {
	RecordTransaction(ctx context.Context, q db.DBTX, t *Transaction) error
	// LatestForOrder returns the authoritative transaction of an order.
	LatestForOrder(ctx context.Context, q db.DBTX, orderID int64) (*Transaction, error)
	CountForOrder(ctx context.Context, q db.DBTX, orderID int64) (int, error)
	GetByGatewayReference(ctx context.Context, q db.DBTX, method paymethod.Method, reference string) (*Transaction, error)

	CreatePending(ctx context.Context, q db.DBTX, p *PendingPayment) error
	// GetPending looks up the user's pending payment. forUpdate holds the
	// row until q's transaction ends.
	GetPending(ctx context.Context, q db.DBTX, userID int64, gateway paymethod.Method, reference string, forUpdate bool) (*PendingPayment, error)
	GetPendingByReference(ctx context.Context, q db.DBTX, gateway paymethod.Method, reference string, forUpdate bool) (*PendingPayment, error)
	// MarkPendingSettled moves a PENDING record to SETTLED. A record that
	// is no longer PENDING yields ErrAlreadySettled.
	MarkPendingSettled(ctx context.Context, q db.DBTX, id uuid.UUID, orderID *int64) error
	MarkPendingFailed(ctx context.Context, q db.DBTX, id uuid.UUID, reason string) error

	// SaveWebhook stores a callback once per (provider, event id). A
	// redelivery reports isDuplicate only once the event was processed; an
	// unprocessed event is handed back with its id so it can be retried.
	SaveWebhook(ctx context.Context, provider, eventID, reference string, payload json.RawMessage) (webhookID int64, isDuplicate bool, err error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) conn(q db.DBTX) db.DBTX {
	if q == nil {
		return r.db
	}
	return q
}

const transactionColumns = `id, order_id, user_id, gateway_reference, capture_id, payer, amount, currency, status, payment_method, created_at`

func scanTransaction(row *sql.Row) (*Transaction, error) {
	var (
		t         Transaction
		orderID   sql.NullInt64
		captureID sql.NullString
		payer     sql.NullString
		method    string
	)
	err := row.Scan(
		&t.ID,
		&orderID,
		&t.UserID,
		&t.GatewayReference,
		&captureID,
		&payer,
		&t.Amount,
		&t.Currency,
		&t.Status,
		&method,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		t.OrderID = &orderID.Int64
	}
	t.CaptureID = captureID.String
	t.Payer = payer.String

	// Older rows carry legacy codes; keep the raw value when unknown.
	if m, err := paymethod.Normalize(method); err == nil {
		t.PaymentMethod = m
	} else {
		t.PaymentMethod = paymethod.Method(method)
	}
	return &t, nil
}

func (r *repository) RecordTransaction(ctx context.Context, q db.DBTX, t *Transaction) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "RecordTransaction"),
		zap.String("gateway_reference", t.GatewayReference),
	)

	err := r.conn(q).QueryRowContext(ctx, `
		INSERT INTO transactions (order_id, user_id, gateway_reference, capture_id, payer, amount, currency, status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`,
		t.OrderID,
		t.UserID,
		t.GatewayReference,
		nullString(t.CaptureID),
		nullString(t.Payer),
		t.Amount,
		t.Currency,
		t.Status,
		t.PaymentMethod,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		log.Error("failed to record transaction", zap.Error(err))
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func (r *repository) LatestForOrder(ctx context.Context, q db.DBTX, orderID int64) (*Transaction, error) {
	t, err := scanTransaction(r.conn(q).QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionMissing
	}
	if err != nil {
		return nil, fmt.Errorf("latest transaction: %w", err)
	}
	return t, nil
}

func (r *repository) CountForOrder(ctx context.Context, q db.DBTX, orderID int64) (int, error) {
	var n int
	err := r.conn(q).QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE order_id = $1`, orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (r *repository) GetByGatewayReference(ctx context.Context, q db.DBTX, method paymethod.Method, reference string) (*Transaction, error) {
	t, err := scanTransaction(r.conn(q).QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE payment_method = $1 AND gateway_reference = $2
		ORDER BY id DESC
		LIMIT 1
	`, method, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionMissing
	}
	if err != nil {
		return nil, fmt.Errorf("transaction by reference: %w", err)
	}
	return t, nil
}

const pendingColumns = `id, user_id, gateway, gateway_reference, purpose, amount, currency, role, voucher_code, status, order_id, failure_reason, created_at, updated_at`

func scanPending(row *sql.Row) (*PendingPayment, error) {
	var (
		p       PendingPayment
		voucher sql.NullString
		orderID sql.NullInt64
		reason  sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Gateway,
		&p.GatewayReference,
		&p.Purpose,
		&p.Amount,
		&p.Currency,
		&p.Role,
		&voucher,
		&p.Status,
		&orderID,
		&reason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.VoucherCode = voucher.String
	p.FailureReason = reason.String
	if orderID.Valid {
		p.OrderID = &orderID.Int64
	}
	return &p, nil
}

func (r *repository) CreatePending(ctx context.Context, q db.DBTX, p *PendingPayment) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CreatePending"),
		zap.String("gateway", p.Gateway.String()),
		zap.String("gateway_reference", p.GatewayReference),
	)

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = PendingOpen
	}

	err := r.conn(q).QueryRowContext(ctx, `
		INSERT INTO pending_payments (id, user_id, gateway, gateway_reference, purpose, amount, currency, role, voucher_code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`,
		p.ID,
		p.UserID,
		p.Gateway,
		p.GatewayReference,
		p.Purpose,
		p.Amount,
		p.Currency,
		p.Role,
		nullString(p.VoucherCode),
		p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		log.Error("failed to create pending payment", zap.Error(err))
		return fmt.Errorf("create pending payment: %w", err)
	}
	return nil
}

func (r *repository) GetPending(ctx context.Context, q db.DBTX, userID int64, gateway paymethod.Method, reference string, forUpdate bool) (*PendingPayment, error) {
	query := `
		SELECT ` + pendingColumns + `
		FROM pending_payments
		WHERE user_id = $1 AND gateway = $2 AND gateway_reference = $3`
	if forUpdate {
		query += " FOR UPDATE"
	}

	p, err := scanPending(r.conn(q).QueryRowContext(ctx, query, userID, gateway, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending payment: %w", err)
	}
	return p, nil
}

func (r *repository) GetPendingByReference(ctx context.Context, q db.DBTX, gateway paymethod.Method, reference string, forUpdate bool) (*PendingPayment, error) {
	query := `
		SELECT ` + pendingColumns + `
		FROM pending_payments
		WHERE gateway = $1 AND gateway_reference = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}

	p, err := scanPending(r.conn(q).QueryRowContext(ctx, query, gateway, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending payment: %w", err)
	}
	return p, nil
}

func (r *repository) MarkPendingSettled(ctx context.Context, q db.DBTX, id uuid.UUID, orderID *int64) error {
	res, err := r.conn(q).ExecContext(ctx, `
		UPDATE pending_payments
		SET status = $1, order_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, PendingSettled, orderID, id, PendingOpen)
	if err != nil {
		return fmt.Errorf("settle pending payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadySettled
	}
	return nil
}

func (r *repository) MarkPendingFailed(ctx context.Context, q db.DBTX, id uuid.UUID, reason string) error {
	_, err := r.conn(q).ExecContext(ctx, `
		UPDATE pending_payments
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, PendingFailed, reason, id, PendingOpen)
	if err != nil {
		return fmt.Errorf("fail pending payment: %w", err)
	}
	return nil
}

func (r *repository) SaveWebhook(ctx context.Context, provider, eventID, reference string, payload json.RawMessage) (int64, bool, error) {
	const q = `
	INSERT INTO payment_webhooks (provider, event_id, reference, payload)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET payload = EXCLUDED.payload, reference = EXCLUDED.reference
	WHERE payment_webhooks.processed_at IS NULL
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(ctx, q, provider, eventID, reference, []byte(payload)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("save webhook: %w", err)
	}
	return id, false, nil
}

func (r *repository) MarkWebhookProcessed(ctx context.Context, webhookID int64) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE payment_webhooks
	SET processed_at = NOW(), process_error = NULL
	WHERE id = $1;
	`, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`, webhookID, reason)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

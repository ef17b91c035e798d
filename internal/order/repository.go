package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"

	"go.uber.org/zap"
)

// Repository persists orders. Every method takes the DBTX to run on so it
// can take part in the checkout and refund transactions.
type Repository interface {
	InsertOrder(ctx context.Context, q db.DBTX, o *Order) error
	InsertDeliveryTracking(ctx context.Context, q db.DBTX, orderID int64, status DeliveryStatus, note string) error
	InsertItems(ctx context.Context, q db.DBTX, orderID int64, items []OrderItem) error
	DecrementStock(ctx context.Context, q db.DBTX, productID int64, quantity int) error

	GetOrder(ctx context.Context, q db.DBTX, orderID int64, forUpdate bool) (*Order, error)
	ListItems(ctx context.Context, q db.DBTX, orderID int64) ([]OrderItem, error)
	UpdatePaymentStatus(ctx context.Context, q db.DBTX, orderID int64, status PaymentStatus) error
	UpdateDeliveryStatus(ctx context.Context, q db.DBTX, orderID int64, status DeliveryStatus, note string) error
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) InsertOrder(ctx context.Context, q db.DBTX, o *Order) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO orders (
			user_id, subtotal, discount_amount, shipping_fee, tax_amount,
			total_amount, payment_status, delivery_status, voucher_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`,
		o.UserID,
		o.Subtotal,
		o.DiscountAmount,
		o.ShippingFee,
		o.TaxAmount,
		o.TotalAmount,
		o.PaymentStatus,
		o.DeliveryStatus,
		o.VoucherID,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *repository) InsertDeliveryTracking(ctx context.Context, q db.DBTX, orderID int64, status DeliveryStatus, note string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO delivery_tracking (order_id, status, note)
		VALUES ($1, $2, $3)
	`, orderID, status, note)
	if err != nil {
		return fmt.Errorf("insert delivery tracking: %w", err)
	}
	return nil
}

// InsertItems writes all items in one statement and fills in their ids.
// Items are keyed by product since a cart holds one line per product.
func (r *repository) InsertItems(ctx context.Context, q db.DBTX, orderID int64, items []OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*5)
	for i, it := range items {
		n := i * 5
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5))
		args = append(args, orderID, it.ProductID, it.Quantity, it.PriceEach, it.ItemTotal)
	}

	rows, err := q.QueryContext(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, price_each, item_total)
		VALUES `+strings.Join(placeholders, ", ")+`
		RETURNING id, product_id
	`, args...)
	if err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]int64, len(items))
	for rows.Next() {
		var id, productID int64
		if err := rows.Scan(&id, &productID); err != nil {
			return fmt.Errorf("scan order item id: %w", err)
		}
		ids[productID] = id
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range items {
		items[i].OrderID = orderID
		items[i].ID = ids[items[i].ProductID]
	}
	return nil
}

// DecrementStock takes quantity off a product. The stock guard in the WHERE
// clause turns a shortfall into ErrStockConflict instead of negative stock.
func (r *repository) DecrementStock(ctx context.Context, q db.DBTX, productID int64, quantity int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1
		WHERE id = $2 AND stock >= $1
	`, quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		logger.FromCtx(ctx).Warn("stock guard rejected decrement",
			zap.String("layer", "repository"),
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity),
		)
		return ErrStockConflict
	}
	return nil
}

const orderColumns = `
	id, user_id, subtotal, discount_amount, shipping_fee, tax_amount,
	total_amount, payment_status, delivery_status, voucher_id,
	created_at, updated_at
`

func (r *repository) GetOrder(ctx context.Context, q db.DBTX, orderID int64, forUpdate bool) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var o Order
	var voucherID sql.NullInt64
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&o.ID,
		&o.UserID,
		&o.Subtotal,
		&o.DiscountAmount,
		&o.ShippingFee,
		&o.TaxAmount,
		&o.TotalAmount,
		&o.PaymentStatus,
		&o.DeliveryStatus,
		&voucherID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	if voucherID.Valid {
		id := voucherID.Int64
		o.VoucherID = &id
	}
	return &o, nil
}

func (r *repository) ListItems(ctx context.Context, q db.DBTX, orderID int64) ([]OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, COALESCE(p.name, ''),
		       oi.quantity, oi.price_each, oi.item_total
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(
			&it.ID,
			&it.OrderID,
			&it.ProductID,
			&it.Name,
			&it.Quantity,
			&it.PriceEach,
			&it.ItemTotal,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) UpdatePaymentStatus(ctx context.Context, q db.DBTX, orderID int64, status PaymentStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, orderID)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return requireOne(res)
}

// UpdateDeliveryStatus sets the current status and appends it to the
// tracking history.
func (r *repository) UpdateDeliveryStatus(ctx context.Context, q db.DBTX, orderID int64, status DeliveryStatus, note string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET delivery_status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, orderID)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if err := requireOne(res); err != nil {
		return err
	}
	return r.InsertDeliveryTracking(ctx, q, orderID, status, note)
}

func requireOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	GetItem(ctx context.Context, userID, productID int64) (*CartItem, error)
	CreateItem(ctx context.Context, params AddToCartParams) (*CartItem, error)
	UpdateItemQuantity(ctx context.Context, userID, productID int64, quantity int) (*CartItem, error)
	RemoveItem(ctx context.Context, params RemoveFromCartParams) error

	// ListPriced joins the cart with current product data. With lock set the
	// cart and product rows are held FOR UPDATE until q's transaction ends.
	// A nil q runs on the repository's own pool.
	ListPriced(ctx context.Context, q db.DBTX, userID int64, lock bool) ([]PricedLine, error)
	// Clear deletes every line of the user's cart and returns how many went.
	Clear(ctx context.Context, q db.DBTX, userID int64) (int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const cartItemColumns = `id, user_id, product_id, quantity, created_at, updated_at`

func (r *repository) conn(q db.DBTX) db.DBTX {
	if q == nil {
		return r.db
	}
	return q
}

func scanItem(row *sql.Row) (*CartItem, error) {
	var item CartItem
	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) GetItem(ctx context.Context, userID, productID int64) (*CartItem, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx, `
		SELECT `+cartItemColumns+`
		FROM cart
		WHERE user_id = $1 AND product_id = $2
	`, userID, productID))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart item: %w", err)
	}
	return item, nil
}

func (r *repository) CreateItem(ctx context.Context, params AddToCartParams) (*CartItem, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CreateCartItem"),
		zap.Int64("user_id", params.UserID),
		zap.Int64("product_id", params.ProductID),
	)

	item, err := scanItem(r.db.QueryRowContext(ctx, `
		INSERT INTO cart (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING `+cartItemColumns,
		params.UserID, params.ProductID, params.Quantity,
	))
	if err != nil {
		log.Error("failed to create cart item", zap.Error(err))
		return nil, fmt.Errorf("create cart item: %w", err)
	}

	log.Info("success create cart item", zap.Int64("cart_item_id", item.ID))
	return item, nil
}

func (r *repository) UpdateItemQuantity(ctx context.Context, userID, productID int64, quantity int) (*CartItem, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx, `
		UPDATE cart
		SET quantity = $1, updated_at = NOW()
		WHERE user_id = $2 AND product_id = $3
		RETURNING `+cartItemColumns,
		quantity, userID, productID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update cart item: %w", err)
	}
	return item, nil
}

func (r *repository) RemoveItem(ctx context.Context, params RemoveFromCartParams) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM cart
		WHERE user_id = $1 AND product_id = $2
	`, params.UserID, params.ProductID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrCartItemNotFound
	}

	return nil
}

func (r *repository) ListPriced(ctx context.Context, q db.DBTX, userID int64, lock bool) ([]PricedLine, error) {
	// Ordering by product id keeps lock acquisition order stable across
	// concurrent checkouts touching the same products.
	query := `
		SELECT c.product_id, p.name, p.price, c.quantity, p.stock, p.status
		FROM cart c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.product_id
	`
	if lock {
		query += " FOR UPDATE OF c, p"
	}

	rows, err := r.conn(q).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list priced cart lines: %w", err)
	}
	defer rows.Close()

	var lines []PricedLine
	for rows.Next() {
		var l PricedLine
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Price, &l.Quantity, &l.Stock, &l.Status); err != nil {
			return nil, fmt.Errorf("scan priced cart line: %w", err)
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repository) Clear(ctx context.Context, q db.DBTX, userID int64) (int64, error) {
	res, err := r.conn(q).ExecContext(ctx, `DELETE FROM cart WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	return res.RowsAffected()
}

package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pawledger-be/internal/apperr"
)

var ErrProductNotFound = apperr.New(apperr.KindNotFound, "product not found")

// Repository is the read side of the catalog needed by the cart. Catalog
// CRUD lives elsewhere.
type Repository interface {
	GetForCart(ctx context.Context, productID int64) (*Product, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetForCart(ctx context.Context, productID int64) (*Product, error) {
	var p Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock, status
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Status)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product for cart: %w", err)
	}

	return &p, nil
}

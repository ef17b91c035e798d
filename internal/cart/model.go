package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PricedLine is a cart line joined with the product's current price, stock
// and status.
type PricedLine struct {
	ProductID int64
	Name      string
	Price     decimal.Decimal
	Quantity  int
	Stock     int
	Status    string
}

type AddToCartParams struct {
	UserID    int64
	ProductID int64
	Quantity  int
}

type UpdateCartParams struct {
	UserID    int64
	ProductID int64
	Quantity  int
}

type RemoveFromCartParams struct {
	UserID    int64
	ProductID int64
}

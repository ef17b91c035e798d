package product

import "github.com/shopspring/decimal"

const (
	StatusAvailable   = "available"
	StatusUnavailable = "unavailable"
)

type Product struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Status string          `json:"status"`
}

func (p *Product) Available() bool {
	return p.Status == StatusAvailable
}

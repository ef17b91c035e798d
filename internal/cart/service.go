package cart

import (
	"context"

	"pawledger-be/internal/logger"
	"pawledger-be/internal/product"

	"go.uber.org/zap"
)

// Service defines the business logic for carts.
type Service interface {
	AddToCart(ctx context.Context, params AddToCartParams) (*CartItem, error)
	UpdateQuantity(ctx context.Context, params UpdateCartParams) (*CartItem, error)
	RemoveFromCart(ctx context.Context, params RemoveFromCartParams) error
	GetCart(ctx context.Context, userID int64) ([]PricedLine, error)
}

type service struct {
	repo        Repository
	productRepo product.Repository
}

func NewService(repo Repository, productRepo product.Repository) Service {
	return &service{repo: repo, productRepo: productRepo}
}

// AddToCart adds quantity of a product to the cart, merging with an existing
// line. The merged quantity may not exceed current stock.
func (s *service) AddToCart(ctx context.Context, params AddToCartParams) (*CartItem, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "AddToCart"),
		zap.Int64("user_id", params.UserID),
		zap.Int64("product_id", params.ProductID),
	)

	if params.UserID <= 0 {
		return nil, ErrUserRequired
	}
	if params.ProductID <= 0 {
		return nil, ErrProductRequired
	}
	if params.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.productRepo.GetForCart(ctx, params.ProductID)
	if err != nil {
		return nil, err
	}
	if !p.Available() {
		return nil, ErrProductUnavailable
	}

	existing, err := s.repo.GetItem(ctx, params.UserID, params.ProductID)
	if err != nil {
		log.Error("failed to load cart item", zap.Error(err))
		return nil, err
	}

	finalQty := params.Quantity
	if existing != nil {
		finalQty += existing.Quantity
	}

	if p.Stock < finalQty {
		log.Warn("insufficient stock",
			zap.Int("requested", finalQty),
			zap.Int("stock", p.Stock),
		)
		return nil, ErrInsufficientStock
	}

	if existing == nil {
		return s.repo.CreateItem(ctx, params)
	}
	return s.repo.UpdateItemQuantity(ctx, params.UserID, params.ProductID, finalQty)
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line.
func (s *service) UpdateQuantity(ctx context.Context, params UpdateCartParams) (*CartItem, error) {
	if params.UserID <= 0 {
		return nil, ErrUserRequired
	}
	if params.ProductID <= 0 {
		return nil, ErrProductRequired
	}

	if params.Quantity <= 0 {
		err := s.repo.RemoveItem(ctx, RemoveFromCartParams{
			UserID:    params.UserID,
			ProductID: params.ProductID,
		})
		return nil, err
	}

	p, err := s.productRepo.GetForCart(ctx, params.ProductID)
	if err != nil {
		return nil, err
	}
	if !p.Available() {
		return nil, ErrProductUnavailable
	}
	if p.Stock < params.Quantity {
		return nil, ErrInsufficientStock
	}

	return s.repo.UpdateItemQuantity(ctx, params.UserID, params.ProductID, params.Quantity)
}

func (s *service) RemoveFromCart(ctx context.Context, params RemoveFromCartParams) error {
	if params.UserID <= 0 {
		return ErrUserRequired
	}
	if params.ProductID <= 0 {
		return ErrProductRequired
	}
	return s.repo.RemoveItem(ctx, params)
}

func (s *service) GetCart(ctx context.Context, userID int64) ([]PricedLine, error) {
	if userID <= 0 {
		return nil, ErrUserRequired
	}
	return s.repo.ListPriced(ctx, nil, userID, false)
}

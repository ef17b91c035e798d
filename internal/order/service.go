package order

import (
	"context"
	"database/sql"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/cart"
	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/metrics"
	"pawledger-be/internal/money"
	"pawledger-be/internal/pricing"
	"pawledger-be/internal/validation"
	"pawledger-be/internal/voucher"

	"go.uber.org/zap"
)

var validate = validation.New()

// Service turns carts into orders.
type Service interface {
	// Checkout converts the user's cart into an order in one transaction.
	// Nothing of a failed checkout is observable.
	Checkout(ctx context.Context, userID int64, opts CheckoutOptions) (*Order, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*Order, error)
}

type service struct {
	db       *sql.DB
	repo     Repository
	carts    cart.Repository
	pricing  pricing.Engine
	vouchers voucher.Store
	metrics  *metrics.Ledger
}

func NewService(
	db *sql.DB,
	repo Repository,
	carts cart.Repository,
	engine pricing.Engine,
	vouchers voucher.Store,
	m *metrics.Ledger,
) Service {
	return &service{
		db:       db,
		repo:     repo,
		carts:    carts,
		pricing:  engine,
		vouchers: vouchers,
		metrics:  metrics.Or(m),
	}
}

func (s *service) Checkout(ctx context.Context, userID int64, opts CheckoutOptions) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "Checkout"),
		zap.Int64("user_id", userID),
		zap.Bool("participant", opts.Tx != nil),
	)

	if err := validate.Struct(opts); err != nil {
		return nil, apperr.Wrap(ErrInvalidOptions, err)
	}
	if opts.PaymentStatus == "" {
		opts.PaymentStatus = PaymentUnpaid
	}

	timer := metrics.StartTimer()
	var placed *Order
	err := db.RunInTx(ctx, s.db, opts.Tx, func(tx *sql.Tx) error {
		// 1. lock cart lines with their products
		lines, err := s.carts.ListPriced(ctx, tx, userID, true)
		if err != nil {
			return err
		}

		// 2-3. re-validate against locked stock and recompute; the voucher
		// row stays locked until commit
		quote, err := s.pricing.QuoteLines(ctx, tx, lines, opts.Role, opts.VoucherCode, true)
		if err != nil {
			return err
		}

		if opts.ExpectedTotal != nil && money.Format(*opts.ExpectedTotal) != money.Format(quote.Total) {
			log.Warn("quote total changed",
				zap.String("expected", money.Format(*opts.ExpectedTotal)),
				zap.String("actual", money.Format(quote.Total)),
			)
			return ErrQuoteChanged
		}

		// 4. order and initial tracking row
		o := &Order{
			UserID:         userID,
			Subtotal:       quote.Subtotal,
			DiscountAmount: quote.Discount,
			ShippingFee:    quote.ShippingFee,
			TaxAmount:      quote.TaxAmount,
			TotalAmount:    quote.Total,
			PaymentStatus:  opts.PaymentStatus,
			DeliveryStatus: DeliveryProcessing,
			VoucherID:      quote.VoucherID,
		}
		if err := s.repo.InsertOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := s.repo.InsertDeliveryTracking(ctx, tx, o.ID, DeliveryProcessing, "order placed"); err != nil {
			return err
		}

		// 5. items mirror the locked lines
		o.Items = itemsFromQuote(quote)
		if err := s.repo.InsertItems(ctx, tx, o.ID, o.Items); err != nil {
			return err
		}

		// 6. all-or-nothing stock decrements
		for _, it := range o.Items {
			if err := s.repo.DecrementStock(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}

		// 7. empty the cart
		if _, err := s.carts.Clear(ctx, tx, userID); err != nil {
			return err
		}

		// 8. consume the voucher
		if quote.VoucherID != nil {
			if err := s.vouchers.IncrementUsage(ctx, tx, *quote.VoucherID); err != nil {
				return err
			}
		}

		placed = o
		return nil
	})
	if err != nil {
		s.metrics.CheckoutFailures.Inc()
		if apperr.IsBusiness(err) {
			log.Warn("checkout rejected", zap.Error(err))
		} else {
			log.Error("checkout failed", zap.Error(err))
		}
		return nil, err
	}

	fields := []zap.Field{
		zap.Int64("order_id", placed.ID),
		zap.String("total", money.Format(placed.TotalAmount)),
		zap.String("payment_status", string(placed.PaymentStatus)),
		zap.Duration("took", timer.Duration()),
	}
	// The owner of an outer transaction reports the order once it commits.
	if opts.Tx != nil {
		log.Debug("order staged in caller transaction", fields...)
		return placed, nil
	}

	s.metrics.Checkouts.Inc()
	log.Info("order placed", fields...)

	return placed, nil
}

func itemsFromQuote(q *pricing.Quote) []OrderItem {
	items := make([]OrderItem, 0, len(q.Lines))
	for _, l := range q.Lines {
		items = append(items, OrderItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			PriceEach: l.Price,
			ItemTotal: l.LineTotal,
		})
	}
	return items
}

func (s *service) GetOrder(ctx context.Context, userID, orderID int64) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, s.db, orderID, false)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOrderOwner
	}

	o.Items, err = s.repo.ListItems(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

package pricing

import (
	"context"
	"database/sql"
	"strings"

	"pawledger-be/internal/cart"
	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/voucher"

	"go.uber.org/zap"
)

// Engine computes quotes for a user's cart.
type Engine interface {
	// BuildQuote prices the current cart. The voucher, if any, is resolved
	// but not consumed.
	BuildQuote(ctx context.Context, userID int64, role, voucherCode string) (*Quote, error)

	// QuoteLines validates and prices lines already read by the caller,
	// evaluating the voucher on q. Checkout passes its transaction and
	// lockVoucher so the voucher row stays locked until commit.
	QuoteLines(ctx context.Context, q db.DBTX, lines []cart.PricedLine, role, voucherCode string, lockVoucher bool) (*Quote, error)

	Config() Config
}

type engine struct {
	db       *sql.DB
	carts    cart.Repository
	vouchers voucher.Store
	cfg      Config
}

func NewEngine(db *sql.DB, carts cart.Repository, vouchers voucher.Store, cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &engine{db: db, carts: carts, vouchers: vouchers, cfg: cfg}, nil
}

func (e *engine) Config() Config {
	return e.cfg
}

func (e *engine) BuildQuote(ctx context.Context, userID int64, role, voucherCode string) (*Quote, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "pricing"),
		zap.String("method", "BuildQuote"),
		zap.Int64("user_id", userID),
	)

	lines, err := e.carts.ListPriced(ctx, e.db, userID, false)
	if err != nil {
		log.Error("failed to read cart", zap.Error(err))
		return nil, err
	}

	return e.QuoteLines(ctx, e.db, lines, role, voucherCode, false)
}

func (e *engine) QuoteLines(ctx context.Context, q db.DBTX, lines []cart.PricedLine, role, voucherCode string, lockVoucher bool) (*Quote, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "pricing"),
		zap.String("method", "QuoteLines"),
	)

	if err := Validate(lines); err != nil {
		log.Warn("cart rejected", zap.Error(err))
		return nil, err
	}

	quote := Calculate(e.cfg, lines)

	code := strings.TrimSpace(voucherCode)
	if code == "" {
		return &quote, nil
	}

	if role != e.cfg.VoucherRole {
		log.Warn("voucher not allowed for role", zap.String("role", role))
		return nil, ErrVoucherNotEligible
	}

	app, err := e.vouchers.Apply(ctx, q, voucher.ApplyRequest{
		Code:       code,
		BaseAmount: quote.VoucherBase(),
		Role:       role,
		ForUpdate:  lockVoucher,
	})
	if err != nil {
		return nil, err
	}

	quote.ApplyDiscount(app.Discount, app.VoucherID, app.Code)

	log.Debug("quote built",
		zap.String("subtotal", quote.Subtotal.StringFixed(2)),
		zap.String("discount", quote.Discount.StringFixed(2)),
		zap.String("total", quote.Total.StringFixed(2)),
	)

	return &quote, nil
}

package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/metrics"
	"pawledger-be/internal/money"
	"pawledger-be/internal/order"
	"pawledger-be/internal/paymethod"
	"pawledger-be/internal/pricing"
	"pawledger-be/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service settles card, QR and wallet payments into orders and wallet
// credits.
type Service interface {
	StartCardCheckout(ctx context.Context, method paymethod.Method, req CheckoutRequest) (*StartResult, error)
	// CaptureCardCheckout captures the gateway order and places the order.
	// Capturing an already settled payment returns the earlier result.
	CaptureCardCheckout(ctx context.Context, userID int64, method paymethod.Method, reference string) (*SettleResult, error)
	// PayWithWallet places the order and debits the wallet atomically.
	PayWithWallet(ctx context.Context, req CheckoutRequest) (*SettleResult, error)

	StartQRCheckout(ctx context.Context, req CheckoutRequest) (*StartResult, error)
	StartQRTopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*StartResult, error)
	// AwaitQRPayment polls the QR provider until a terminal status, then
	// settles. A timeout leaves the payment pending for a later callback.
	AwaitQRPayment(ctx context.Context, userID int64, reference string) (*SettleResult, error)
	// SettleQR re-checks a QR payment with the provider and settles it.
	// It is driven by provider callbacks.
	SettleQR(ctx context.Context, reference string) (*SettleResult, error)

	StartCardTopUp(ctx context.Context, method paymethod.Method, userID int64, amount decimal.Decimal) (*StartResult, error)
	CaptureCardTopUp(ctx context.Context, userID int64, method paymethod.Method, reference string) (*SettleResult, error)

	PaymentStatus(ctx context.Context, userID int64, gateway paymethod.Method, reference string) (*PendingPayment, error)
}

// Deps are the collaborators of the payment service.
type Deps struct {
	DB       *sql.DB
	Repo     Repository
	Orders   order.Service
	Pricing  pricing.Engine
	Wallet   wallet.Ledger
	Guard    *wallet.Guard
	Cards    CardGateways
	QR       QRGateway
	Poller   *Poller
	Metrics  *metrics.Ledger
	Currency string
}

type service struct {
	db       *sql.DB
	repo     Repository
	orders   order.Service
	pricing  pricing.Engine
	wallet   wallet.Ledger
	guard    *wallet.Guard
	cards    CardGateways
	qr       QRGateway
	poller   *Poller
	metrics  *metrics.Ledger
	currency string
}

func NewService(d Deps) Service {
	if d.Currency == "" {
		d.Currency = "SGD"
	}
	return &service{
		db:       d.DB,
		repo:     d.Repo,
		orders:   d.Orders,
		pricing:  d.Pricing,
		wallet:   d.Wallet,
		guard:    d.Guard,
		cards:    d.Cards,
		qr:       d.QR,
		poller:   d.Poller,
		metrics:  metrics.Or(d.Metrics),
		currency: d.Currency,
	}
}

// errReplay aborts a settlement transaction that found the payment already
// settled by a concurrent caller.
var errReplay = errors.New("payment already settled")

// -- card checkout --

func (s *service) StartCardCheckout(ctx context.Context, method paymethod.Method, req CheckoutRequest) (*StartResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "StartCardCheckout"),
		zap.Int64("user_id", req.UserID),
		zap.String("gateway", method.String()),
	)

	gateway, err := s.cards.For(method)
	if err != nil {
		return nil, err
	}

	quote, err := s.pricing.BuildQuote(ctx, req.UserID, req.Role, req.VoucherCode)
	if err != nil {
		return nil, err
	}
	if !quote.Total.IsPositive() {
		return nil, apperr.Wrap(ErrInvalidAmount, fmt.Errorf("card payment of %s", money.Format(quote.Total)))
	}

	gwOrder, err := gateway.CreateOrder(ctx, quote.Total, s.currency)
	if err != nil {
		log.Error("gateway order creation failed", zap.Error(err))
		return nil, err
	}

	p := &PendingPayment{
		UserID:           req.UserID,
		Gateway:          method,
		GatewayReference: gwOrder.ID,
		Purpose:          PurposeCheckout,
		Amount:           quote.Total,
		Currency:         s.currency,
		Role:             req.Role,
		VoucherCode:      quote.VoucherCode,
	}
	if err := s.repo.CreatePending(ctx, nil, p); err != nil {
		return nil, err
	}

	log.Info("card checkout started",
		zap.String("reference", gwOrder.ID),
		zap.String("amount", money.Format(quote.Total)),
	)
	return &StartResult{PendingID: p.ID, Reference: gwOrder.ID, Amount: quote.Total, Currency: s.currency}, nil
}

func (s *service) CaptureCardCheckout(ctx context.Context, userID int64, method paymethod.Method, reference string) (*SettleResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CaptureCardCheckout"),
		zap.Int64("user_id", userID),
		zap.String("reference", reference),
	)

	gateway, err := s.cards.For(method)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.GetPending(ctx, nil, userID, method, reference, false)
	if err != nil {
		return nil, err
	}
	if res, done, err := s.precheck(ctx, p, PurposeCheckout); done {
		return res, err
	}

	// Stale quote: nothing is captured when the cart changed.
	quote, err := s.pricing.BuildQuote(ctx, userID, p.Role, p.VoucherCode)
	if err != nil {
		return nil, err
	}
	if money.Format(quote.Total) != money.Format(p.Amount) {
		log.Warn("quote changed before capture",
			zap.String("expected", money.Format(p.Amount)),
			zap.String("actual", money.Format(quote.Total)),
		)
		return nil, ErrQuoteChanged
	}

	capture, err := s.capture(ctx, gateway, p)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, p, capture)
}

// capture captures the gateway order and checks the captured amount. The
// pending record is failed when the provider did not take the full amount.
func (s *service) capture(ctx context.Context, gateway CardGateway, p *PendingPayment) (*Capture, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "capture"),
		zap.String("reference", p.GatewayReference),
	)

	capture, err := gateway.CaptureOrder(ctx, p.GatewayReference)
	if err != nil {
		log.Error("capture failed", zap.Error(err))
		return nil, err
	}

	if capture.Status != StatusCompleted {
		s.fail(ctx, p, "capture status "+capture.Status)
		return nil, apperr.Wrap(ErrCaptureIncomplete, fmt.Errorf("status %s", capture.Status))
	}
	if !money.Equal(capture.Amount, p.Amount) {
		log.Error("captured amount differs from quoted amount",
			zap.String("expected", money.Format(p.Amount)),
			zap.String("captured", money.Format(capture.Amount)),
		)
		s.fail(ctx, p, "captured "+money.Format(capture.Amount))
		return nil, ErrAmountMismatch
	}
	if capture.Currency == "" {
		capture.Currency = p.Currency
	}
	return capture, nil
}

// -- wallet checkout --

func (s *service) PayWithWallet(ctx context.Context, req CheckoutRequest) (*SettleResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "PayWithWallet"),
		zap.Int64("user_id", req.UserID),
	)

	var res *SettleResult
	err := db.RunInTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		placed, err := s.orders.Checkout(ctx, req.UserID, order.CheckoutOptions{
			Role:          req.Role,
			VoucherCode:   req.VoucherCode,
			PaymentStatus: order.PaymentPaid,
			ExpectedTotal: req.ExpectedTotal,
			Tx:            tx,
		})
		if err != nil {
			return err
		}

		reference := fmt.Sprintf("WALLET-%d", placed.ID)
		res = &SettleResult{OrderID: &placed.ID}

		// Fully discounted orders do not touch the wallet.
		if placed.TotalAmount.IsPositive() {
			entry, err := s.wallet.Debit(ctx, req.UserID, placed.TotalAmount, wallet.Meta{
				TxnType:       wallet.TxnPayment,
				ReferenceType: "order",
				ReferenceID:   fmt.Sprint(placed.ID),
				PaymentMethod: paymethod.Wallet,
				Description:   "order payment",
			}, wallet.Options{Tx: tx})
			if err != nil {
				return err
			}
			res.WalletTxnID = &entry.ID
		}

		t := &Transaction{
			OrderID:          &placed.ID,
			UserID:           req.UserID,
			GatewayReference: reference,
			Payer:            "wallet",
			Amount:           placed.TotalAmount,
			Currency:         s.currency,
			Status:           StatusCompleted,
			PaymentMethod:    paymethod.Wallet,
		}
		if err := s.repo.RecordTransaction(ctx, tx, t); err != nil {
			return err
		}
		res.Transaction = t
		return nil
	})
	if err != nil {
		if apperr.IsBusiness(err) {
			log.Warn("wallet payment rejected", zap.Error(err))
		} else {
			log.Error("wallet payment failed", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.Checkouts.Inc()
	log.Info("order paid from wallet", zap.Int64("order_id", *res.OrderID))
	return res, nil
}

// -- QR --

func (s *service) StartQRCheckout(ctx context.Context, req CheckoutRequest) (*StartResult, error) {
	quote, err := s.pricing.BuildQuote(ctx, req.UserID, req.Role, req.VoucherCode)
	if err != nil {
		return nil, err
	}
	if !quote.Total.IsPositive() {
		return nil, apperr.Wrap(ErrInvalidAmount, fmt.Errorf("qr payment of %s", money.Format(quote.Total)))
	}

	return s.startQR(ctx, &PendingPayment{
		UserID:      req.UserID,
		Purpose:     PurposeCheckout,
		Amount:      quote.Total,
		Role:        req.Role,
		VoucherCode: quote.VoucherCode,
	})
}

func (s *service) StartQRTopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*StartResult, error) {
	amount = money.Round2(amount)
	if err := s.guard.CheckTopUp(ctx, s.db, userID, amount); err != nil {
		return nil, err
	}

	return s.startQR(ctx, &PendingPayment{
		UserID:  userID,
		Purpose: PurposeTopUp,
		Amount:  amount,
	})
}

func (s *service) startQR(ctx context.Context, p *PendingPayment) (*StartResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "StartQR"),
		zap.Int64("user_id", p.UserID),
		zap.String("purpose", string(p.Purpose)),
	)

	qr, err := s.qr.RequestQR(ctx, p.Amount, uuid.NewString())
	if err != nil {
		log.Error("qr request failed", zap.Error(err))
		return nil, err
	}

	p.Gateway = paymethod.NetsQR
	p.GatewayReference = qr.TxnRetrievalRef
	p.Currency = s.currency
	if err := s.repo.CreatePending(ctx, nil, p); err != nil {
		return nil, err
	}

	log.Info("qr payment started",
		zap.String("reference", qr.TxnRetrievalRef),
		zap.String("amount", money.Format(p.Amount)),
	)
	return &StartResult{
		PendingID: p.ID,
		Reference: qr.TxnRetrievalRef,
		Amount:    p.Amount,
		Currency:  s.currency,
		QRPayload: qr.QRPayload,
	}, nil
}

func (s *service) AwaitQRPayment(ctx context.Context, userID int64, reference string) (*SettleResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "AwaitQRPayment"),
		zap.Int64("user_id", userID),
		zap.String("reference", reference),
	)

	p, err := s.repo.GetPending(ctx, nil, userID, paymethod.NetsQR, reference, false)
	if err != nil {
		return nil, err
	}
	if res, done, err := s.precheck(ctx, p, p.Purpose); done {
		return res, err
	}

	// No transaction is held while polling.
	status, err := s.poller.Await(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrQRTimeout) {
			log.Warn("qr payment still pending after polling")
		}
		return nil, err
	}

	return s.settleQRStatus(ctx, p, status)
}

func (s *service) SettleQR(ctx context.Context, reference string) (*SettleResult, error) {
	p, err := s.repo.GetPendingByReference(ctx, nil, paymethod.NetsQR, reference, false)
	if err != nil {
		return nil, err
	}
	if res, done, err := s.precheck(ctx, p, p.Purpose); done {
		return res, err
	}

	// Callbacks are not trusted on their own; the provider is asked again.
	status, err := s.qr.QueryStatus(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !status.Terminal() {
		return nil, ErrPaymentPending
	}
	return s.settleQRStatus(ctx, p, status)
}

func (s *service) settleQRStatus(ctx context.Context, p *PendingPayment, status *QRStatus) (*SettleResult, error) {
	if !status.Succeeded() {
		s.fail(ctx, p, fmt.Sprintf("qr response %s status %d", status.ResponseCode, status.TxnStatus))
		return nil, ErrQRPaymentFailed
	}

	return s.settle(ctx, p, &Capture{
		Status:   StatusCompleted,
		Payer:    paymethod.NetsQR.String(),
		Amount:   p.Amount,
		Currency: p.Currency,
	})
}

// -- card top-up --

func (s *service) StartCardTopUp(ctx context.Context, method paymethod.Method, userID int64, amount decimal.Decimal) (*StartResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "StartCardTopUp"),
		zap.Int64("user_id", userID),
		zap.String("gateway", method.String()),
	)

	gateway, err := s.cards.For(method)
	if err != nil {
		return nil, err
	}

	amount = money.Round2(amount)
	if err := s.guard.CheckTopUp(ctx, s.db, userID, amount); err != nil {
		return nil, err
	}

	gwOrder, err := gateway.CreateOrder(ctx, amount, s.currency)
	if err != nil {
		log.Error("gateway order creation failed", zap.Error(err))
		return nil, err
	}

	p := &PendingPayment{
		UserID:           userID,
		Gateway:          method,
		GatewayReference: gwOrder.ID,
		Purpose:          PurposeTopUp,
		Amount:           amount,
		Currency:         s.currency,
	}
	if err := s.repo.CreatePending(ctx, nil, p); err != nil {
		return nil, err
	}

	log.Info("card top-up started", zap.String("reference", gwOrder.ID), zap.String("amount", money.Format(amount)))
	return &StartResult{PendingID: p.ID, Reference: gwOrder.ID, Amount: amount, Currency: s.currency}, nil
}

func (s *service) CaptureCardTopUp(ctx context.Context, userID int64, method paymethod.Method, reference string) (*SettleResult, error) {
	gateway, err := s.cards.For(method)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.GetPending(ctx, nil, userID, method, reference, false)
	if err != nil {
		return nil, err
	}
	if res, done, err := s.precheck(ctx, p, PurposeTopUp); done {
		return res, err
	}

	// The balance may have grown since the top-up started.
	if err := s.guard.CheckTopUp(ctx, s.db, userID, p.Amount); err != nil {
		return nil, err
	}

	capture, err := s.capture(ctx, gateway, p)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, p, capture)
}

// -- settlement --

// precheck resolves payments that must not reach the gateway again. done
// is true when the caller should return res and err as they are.
func (s *service) precheck(ctx context.Context, p *PendingPayment, purpose Purpose) (res *SettleResult, done bool, err error) {
	if p.Purpose != purpose {
		return nil, true, ErrPurposeMismatch
	}
	switch p.Status {
	case PendingSettled:
		replayed, rerr := s.replay(ctx, p)
		return replayed, true, rerr
	case PendingFailed:
		return nil, true, ErrPaymentFailed
	}
	return nil, false, nil
}

// replay returns the result of an earlier settlement without mutating
// anything.
func (s *service) replay(ctx context.Context, p *PendingPayment) (*SettleResult, error) {
	t, err := s.repo.GetByGatewayReference(ctx, nil, p.Gateway, p.GatewayReference)
	if err != nil {
		return nil, err
	}
	logger.FromCtx(ctx).Info("payment already settled, replaying",
		zap.String("layer", "service"),
		zap.String("reference", p.GatewayReference),
	)
	return &SettleResult{Pending: p, OrderID: p.OrderID, Transaction: t, Replayed: true}, nil
}

// settle books a confirmed payment in one transaction: the order or wallet
// credit, the transaction record and the pending record's transition.
func (s *service) settle(ctx context.Context, p *PendingPayment, capture *Capture) (*SettleResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "settle"),
		zap.Int64("user_id", p.UserID),
		zap.String("reference", p.GatewayReference),
		zap.String("purpose", string(p.Purpose)),
	)

	res := &SettleResult{}
	err := db.RunInTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		locked, err := s.repo.GetPendingByReference(ctx, tx, p.Gateway, p.GatewayReference, true)
		if err != nil {
			return err
		}
		switch locked.Status {
		case PendingSettled:
			return errReplay
		case PendingFailed:
			return ErrPaymentFailed
		}

		t := &Transaction{
			UserID:           locked.UserID,
			GatewayReference: locked.GatewayReference,
			CaptureID:        capture.ID,
			Payer:            capture.Payer,
			Amount:           capture.Amount,
			Currency:         capture.Currency,
			Status:           StatusCompleted,
			PaymentMethod:    locked.Gateway,
		}

		switch locked.Purpose {
		case PurposeCheckout:
			placed, err := s.orders.Checkout(ctx, locked.UserID, order.CheckoutOptions{
				Role:          locked.Role,
				VoucherCode:   locked.VoucherCode,
				PaymentStatus: order.PaymentPaid,
				ExpectedTotal: &locked.Amount,
				Tx:            tx,
			})
			if err != nil {
				return err
			}
			t.OrderID = &placed.ID
			res.OrderID = &placed.ID

		case PurposeTopUp:
			if err := s.guard.CheckTopUp(ctx, tx, locked.UserID, locked.Amount); err != nil {
				return err
			}
			entry, err := s.wallet.Credit(ctx, locked.UserID, locked.Amount, wallet.Meta{
				TxnType:       wallet.TxnTopUp,
				ReferenceType: "payment",
				ReferenceID:   locked.GatewayReference,
				PaymentMethod: locked.Gateway,
				Description:   "wallet top-up",
			}, wallet.Options{Tx: tx})
			if err != nil {
				return err
			}
			res.WalletTxnID = &entry.ID

		default:
			return ErrPurposeMismatch
		}

		if err := s.repo.RecordTransaction(ctx, tx, t); err != nil {
			return err
		}
		if err := s.repo.MarkPendingSettled(ctx, tx, locked.ID, res.OrderID); err != nil {
			return err
		}

		locked.Status = PendingSettled
		locked.OrderID = res.OrderID
		res.Pending = locked
		res.Transaction = t
		return nil
	})

	if errors.Is(err, errReplay) {
		return s.replay(ctx, p)
	}
	if err != nil {
		// The provider holds the money; the failed record is what
		// reconciliation works from.
		log.Error("confirmed payment could not be settled", zap.Error(err))
		s.fail(ctx, p, err.Error())
		return nil, err
	}

	if p.Purpose == PurposeTopUp {
		s.guard.ObserveTopUp(ctx, s.db, p.UserID)
	} else {
		s.metrics.Checkouts.Inc()
	}

	log.Info("payment settled", zap.String("amount", money.Format(capture.Amount)))
	return res, nil
}

func (s *service) fail(ctx context.Context, p *PendingPayment, reason string) {
	if err := s.repo.MarkPendingFailed(ctx, nil, p.ID, reason); err != nil {
		logger.FromCtx(ctx).Error("failed to mark payment failed",
			zap.String("layer", "service"),
			zap.String("reference", p.GatewayReference),
			zap.Error(err),
		)
	}
}

func (s *service) PaymentStatus(ctx context.Context, userID int64, gateway paymethod.Method, reference string) (*PendingPayment, error) {
	return s.repo.GetPending(ctx, nil, userID, gateway, reference, false)
}

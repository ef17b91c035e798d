package refund

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/metrics"
	"pawledger-be/internal/money"
	"pawledger-be/internal/order"
	"pawledger-be/internal/payment"
	"pawledger-be/internal/paymethod"
	"pawledger-be/internal/risk"
	"pawledger-be/internal/validation"
	"pawledger-be/internal/voucher"
	"pawledger-be/internal/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var validate = validation.New()

// Engine runs the refund request lifecycle. Rows are locked request first,
// then order, then voucher, then wallet.
type Engine interface {
	SubmitRequest(ctx context.Context, p SubmitParams) (*Request, error)
	// Approve settles a PENDING request through the wallet or the card
	// gateway the order was paid with.
	Approve(ctx context.Context, requestID int64, note string) (*Request, error)
	Reject(ctx context.Context, requestID int64, note string) (*Request, error)

	GetRequest(ctx context.Context, userID, requestID int64) (*Request, error)
	ListForOrder(ctx context.Context, userID, orderID int64) ([]Request, error)
}

type Deps struct {
	DB       *sql.DB
	Repo     Repository
	Orders   order.Repository
	Payments payment.Repository
	Wallet   wallet.Ledger
	Vouchers voucher.Store
	Cards    payment.CardGateways
	Flagger  risk.Flagger
	Metrics  *metrics.Ledger
	Currency string
}

type engine struct {
	db       *sql.DB
	repo     Repository
	orders   order.Repository
	payments payment.Repository
	wallet   wallet.Ledger
	vouchers voucher.Store
	cards    payment.CardGateways
	flagger  risk.Flagger
	metrics  *metrics.Ledger
	currency string
}

func NewEngine(d Deps) Engine {
	if d.Currency == "" {
		d.Currency = "SGD"
	}
	return &engine{
		db:       d.DB,
		repo:     d.Repo,
		orders:   d.Orders,
		payments: d.Payments,
		wallet:   d.Wallet,
		vouchers: d.Vouchers,
		cards:    d.Cards,
		flagger:  d.Flagger,
		metrics:  metrics.Or(d.Metrics),
		currency: d.Currency,
	}
}

func (e *engine) SubmitRequest(ctx context.Context, p SubmitParams) (*Request, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "refund"),
		zap.String("method", "SubmitRequest"),
		zap.Int64("user_id", p.UserID),
		zap.Int64("order_id", p.OrderID),
	)

	if err := validate.Struct(p); err != nil {
		return nil, apperr.Wrap(ErrInvalidRequest, err)
	}

	var req *Request
	err := db.RunInTx(ctx, e.db, nil, func(tx *sql.Tx) error {
		o, err := e.orders.GetOrder(ctx, tx, p.OrderID, true)
		if err != nil {
			return err
		}
		if o.UserID != p.UserID {
			return ErrNotOwner
		}
		if o.PaymentStatus != order.PaymentPaid {
			return apperr.Wrap(ErrOrderNotRefundable, fmt.Errorf("payment status %s", o.PaymentStatus))
		}

		n, err := e.payments.CountForOrder(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		switch {
		case n == 0:
			return ErrNoPayment
		case n > 1:
			return ErrMultiplePayments
		}
		txn, err := e.payments.LatestForOrder(ctx, tx, o.ID)
		if err != nil {
			return err
		}

		sum, err := e.repo.Summary(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if sum.Rejected >= MaxRejections {
			return ErrRejectionLimit
		}
		if sum.Blocking > 0 {
			return ErrRequestExists
		}

		items, err := e.orders.ListItems(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		lines, amount, err := Allocate(o, items, p.Items)
		if err != nil {
			return err
		}

		method := txn.PaymentMethod
		if p.PaymentMethod != "" {
			if method, err = paymethod.Normalize(p.PaymentMethod); err != nil {
				return err
			}
		}

		req = &Request{
			OrderID:          o.ID,
			UserID:           p.UserID,
			Items:            lines,
			Amount:           amount,
			Reason:           p.Reason,
			Status:           StatusPending,
			PaymentMethod:    method,
			PaymentReference: txn.RefundReference(),
		}
		return e.repo.Insert(ctx, tx, req)
	})
	if err != nil {
		if apperr.IsBusiness(err) {
			log.Warn("refund request refused", zap.Error(err))
		} else {
			log.Error("refund request failed", zap.Error(err))
		}
		return nil, err
	}

	log.Info("refund requested",
		zap.Int64("refund_id", req.ID),
		zap.String("amount", money.Format(req.Amount)),
		zap.String("payment_method", req.PaymentMethod.String()),
	)
	return req, nil
}

// settlement is what Approve did inside its transaction.
type settlement struct {
	req        *Request
	orderTotal decimal.Decimal
	gatewayErr error
}

func (e *engine) Approve(ctx context.Context, requestID int64, note string) (*Request, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "refund"),
		zap.String("method", "Approve"),
		zap.Int64("refund_id", requestID),
	)

	var out settlement
	err := db.RunInTx(ctx, e.db, nil, func(tx *sql.Tx) error {
		r, err := e.repo.Get(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return apperr.Wrap(ErrNotPending, fmt.Errorf("status %s", r.Status))
		}

		o, err := e.orders.GetOrder(ctx, tx, r.OrderID, true)
		if err != nil {
			return err
		}
		if o.UserID != r.UserID {
			return ErrOwnerMismatch
		}

		txn, err := e.payments.LatestForOrder(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if !paymethod.Compatible(r.PaymentMethod.String(), txn.PaymentMethod.String()) {
			return apperr.Wrap(ErrMethodMismatch,
				fmt.Errorf("requested %s, paid with %s", r.PaymentMethod, txn.PaymentMethod))
		}

		out.req = r
		out.orderTotal = o.TotalAmount

		var next Status
		var ref string
		if txn.PaymentMethod.Settlement() == paymethod.SettleWallet {
			next, ref, err = e.refundToWallet(ctx, tx, r, o)
		} else {
			currency := txn.Currency
			if currency == "" {
				currency = e.currency
			}
			next, ref, err = e.refundToGateway(ctx, r, txn.PaymentMethod, currency)
			if err != nil {
				// Commit the FAILED status so the request cannot be retried
				// against a provider that may have partially acted.
				out.gatewayErr = err
				r.Status = StatusFailed
				r.DecisionNote = err.Error()
				return e.repo.UpdateStatus(ctx, tx, r.ID, StatusPending, StatusFailed, "", r.DecisionNote)
			}
			if o.VoucherID != nil {
				err = e.vouchers.DecrementUsage(ctx, tx, *o.VoucherID)
			}
		}
		if err != nil {
			return err
		}

		if err := e.repo.UpdateStatus(ctx, tx, r.ID, StatusPending, next, ref, note); err != nil {
			return err
		}
		r.Status = next
		r.RefundReference = ref
		if note != "" {
			r.DecisionNote = note
		}

		paid := order.PaymentPartiallyRefunded
		if r.Amount.GreaterThanOrEqual(o.TotalAmount) {
			paid = order.PaymentRefunded
		}
		return e.orders.UpdatePaymentStatus(ctx, tx, o.ID, paid)
	})
	if err != nil {
		if apperr.IsBusiness(err) {
			log.Warn("refund approval refused", zap.Error(err))
		} else {
			log.Error("refund approval failed", zap.Error(err))
		}
		return nil, err
	}

	if out.gatewayErr != nil {
		e.metrics.RefundsFailed.Inc()
		log.Error("gateway refund failed", zap.Error(out.gatewayErr))
		e.raise(ctx, risk.Flag{
			UserID:    out.req.UserID,
			EventType: risk.EventRefundGatewayFail,
			Reason:    "gateway refund failed",
			Details: map[string]any{
				"refund_id": out.req.ID,
				"order_id":  out.req.OrderID,
				"amount":    money.Format(out.req.Amount),
				"method":    out.req.PaymentMethod.String(),
			},
		})
		return nil, apperr.Wrap(ErrRefundFailed, out.gatewayErr)
	}

	e.metrics.RefundsSettled.Inc()
	log.Info("refund settled",
		zap.String("status", string(out.req.Status)),
		zap.String("amount", money.Format(out.req.Amount)),
		zap.String("order_total", money.Format(out.orderTotal)),
		zap.String("refund_reference", out.req.RefundReference),
	)
	return out.req, nil
}

// refundToWallet credits the requester inside tx. QR payments land here
// too since the QR provider cannot reverse them.
func (e *engine) refundToWallet(ctx context.Context, tx *sql.Tx, r *Request, o *order.Order) (Status, string, error) {
	if o.VoucherID != nil {
		if err := e.vouchers.DecrementUsage(ctx, tx, *o.VoucherID); err != nil {
			return "", "", err
		}
	}
	if !r.Amount.IsPositive() {
		return StatusRefunded, "", nil
	}

	entry, err := e.wallet.Credit(ctx, r.UserID, r.Amount, wallet.Meta{
		TxnType:       wallet.TxnRefund,
		ReferenceType: "refund",
		ReferenceID:   strconv.FormatInt(r.ID, 10),
		PaymentMethod: r.PaymentMethod,
		Description:   fmt.Sprintf("Refund for order #%d", r.OrderID),
	}, wallet.Options{Tx: tx})
	if err != nil {
		return "", "", err
	}
	return StatusRefunded, "WALLET-" + strconv.FormatInt(entry.ID, 10), nil
}

// refundToGateway asks the card provider to refund. Any error it returns
// is a provider-side failure.
func (e *engine) refundToGateway(ctx context.Context, r *Request, method paymethod.Method, currency string) (Status, string, error) {
	if !r.Amount.IsPositive() {
		return StatusRefunded, "", nil
	}
	if r.PaymentReference == "" {
		return "", "", fmt.Errorf("no payment reference on refund %d", r.ID)
	}
	gateway, err := e.cards.For(method)
	if err != nil {
		return "", "", err
	}

	res, err := gateway.RefundOrder(ctx, r.PaymentReference, r.Amount, currency, "refund-"+strconv.FormatInt(r.ID, 10))
	if err != nil {
		return "", "", err
	}
	switch {
	case res.ID == "":
		return "", "", fmt.Errorf("provider returned no refund reference")
	case res.Status == payment.RefundFailed:
		return "", "", fmt.Errorf("provider refund %s failed", res.ID)
	case res.Status == payment.RefundCompleted:
		return StatusRefunded, res.ID, nil
	default:
		return StatusApproved, res.ID, nil
	}
}

func (e *engine) Reject(ctx context.Context, requestID int64, note string) (*Request, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "refund"),
		zap.String("method", "Reject"),
		zap.Int64("refund_id", requestID),
	)

	var (
		r         *Request
		exhausted bool
	)
	err := db.RunInTx(ctx, e.db, nil, func(tx *sql.Tx) error {
		var err error
		r, err = e.repo.Get(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return apperr.Wrap(ErrNotPending, fmt.Errorf("status %s", r.Status))
		}

		if err := e.repo.UpdateStatus(ctx, tx, r.ID, StatusPending, StatusRejected, "", note); err != nil {
			return err
		}
		r.Status = StatusRejected
		if note != "" {
			r.DecisionNote = note
		}

		sum, err := e.repo.Summary(ctx, tx, r.OrderID)
		if err != nil {
			return err
		}
		if sum.Rejected != MaxRejections {
			return nil
		}
		exhausted = true
		return e.orders.UpdateDeliveryStatus(ctx, tx, r.OrderID, order.DeliveryCompleted, "refund attempts exhausted")
	})
	if err != nil {
		if apperr.IsBusiness(err) {
			log.Warn("refund rejection refused", zap.Error(err))
		} else {
			log.Error("refund rejection failed", zap.Error(err))
		}
		return nil, err
	}

	log.Info("refund rejected", zap.Int64("order_id", r.OrderID), zap.Bool("attempts_exhausted", exhausted))
	if exhausted {
		e.raise(ctx, risk.Flag{
			UserID:    r.UserID,
			EventType: risk.EventRefundRejections,
			Reason:    fmt.Sprintf("%d refund requests rejected", MaxRejections),
			Details:   map[string]any{"order_id": r.OrderID},
		})
	}
	return r, nil
}

func (e *engine) GetRequest(ctx context.Context, userID, requestID int64) (*Request, error) {
	r, err := e.repo.Get(ctx, e.db, requestID, false)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, ErrRequestNotFound
	}
	return r, nil
}

func (e *engine) ListForOrder(ctx context.Context, userID, orderID int64) ([]Request, error) {
	o, err := e.orders.GetOrder(ctx, e.db, orderID, false)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOwner
	}
	return e.repo.ListForOrder(ctx, e.db, orderID)
}

// raise records a risk flag. Flags never fail the operation that raised them.
func (e *engine) raise(ctx context.Context, f risk.Flag) {
	if e.flagger == nil {
		return
	}
	if err := e.flagger.Raise(ctx, f); err != nil {
		logger.FromCtx(ctx).Warn("risk flag not recorded",
			zap.String("event_type", string(f.EventType)),
			zap.Error(err),
		)
	}
}

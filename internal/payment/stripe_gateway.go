package payment

import (
	"context"
	"strings"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/money"
	"pawledger-be/internal/paymethod"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"go.uber.org/zap"
)

// stripeGateway maps the card contract onto manually captured
// PaymentIntents: create authorizes, capture settles.
type stripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) CardGateway {
	return newStripeGateway(secretKey, nil)
}

// newStripeGateway accepts custom backends so tests can point the client at
// a local server.
func newStripeGateway(secretKey string, backends *stripe.Backends) CardGateway {
	if secretKey == "" {
		logger.L().Warn("Stripe secret key is empty")
	}
	return &stripeGateway{api: client.New(secretKey, backends)}
}

func (s *stripeGateway) Method() paymethod.Method {
	return paymethod.Stripe
}

func (s *stripeGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (*CardOrder, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "StripeCreatePaymentIntent"),
		zap.String("amount", money.Format(amount)),
	)

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(money.MinorUnits(amount)),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		log.Error("stripe payment intent failed", zap.Error(err))
		return nil, apperr.Wrap(ErrGateway, err)
	}

	log.Info("stripe payment intent created", zap.String("payment_intent", pi.ID), zap.String("status", string(pi.Status)))
	return &CardOrder{ID: pi.ID, Status: string(pi.Status)}, nil
}

func (s *stripeGateway) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "StripeCapture"),
		zap.String("payment_intent", orderID),
	)

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + orderID)

	pi, err := s.api.PaymentIntents.Capture(orderID, params)
	if err != nil {
		log.Error("stripe capture failed", zap.Error(err))
		return nil, apperr.Wrap(ErrGateway, err)
	}

	status := string(pi.Status)
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		status = StatusCompleted
	}

	capture := &Capture{
		ID:       pi.ID,
		Status:   status,
		Amount:   money.FromMinorUnits(pi.AmountReceived),
		Currency: strings.ToUpper(string(pi.Currency)),
	}
	if pi.Customer != nil {
		capture.Payer = pi.Customer.ID
	}
	if capture.Payer == "" {
		capture.Payer = pi.ReceiptEmail
	}

	log.Info("stripe payment captured", zap.String("status", status), zap.String("amount", money.Format(capture.Amount)))
	return capture, nil
}

func (s *stripeGateway) RefundOrder(ctx context.Context, reference string, amount decimal.Decimal, currency, idempotencyKey string) (*GatewayRefund, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "StripeRefund"),
		zap.String("payment_intent", reference),
		zap.String("amount", money.Format(amount)),
	)

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(reference),
		Amount:        stripe.Int64(money.MinorUnits(amount)),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	r, err := s.api.Refunds.New(params)
	if err != nil {
		log.Error("stripe refund failed", zap.Error(err))
		return nil, apperr.Wrap(ErrGateway, err)
	}

	var status string
	switch r.Status {
	case stripe.RefundStatusSucceeded:
		status = RefundCompleted
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		status = RefundPending
	default:
		status = RefundFailed
	}

	log.Info("stripe refund issued", zap.String("refund_id", r.ID), zap.String("status", status))
	return &GatewayRefund{ID: r.ID, Status: status}, nil
}

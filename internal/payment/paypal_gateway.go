package payment

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/money"
	"pawledger-be/internal/paymethod"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type paypalGateway struct {
	http         *httpClient
	clientID     string
	clientSecret string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewPayPalGateway(baseURL, clientID, clientSecret string, rps float64) CardGateway {
	if clientID == "" || clientSecret == "" {
		logger.L().Warn("PayPal credentials are empty")
	}
	return &paypalGateway{
		http:         newHTTPClient("paypal", strings.TrimRight(baseURL, "/"), rps),
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

func (p *paypalGateway) Method() paymethod.Method {
	return paymethod.PayPal
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken returns a cached client-credentials token, refreshing it a
// minute before expiry.
func (p *paypalGateway) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Authorization", "Basic "+basicAuth(p.clientID, p.clientSecret))

	form := url.Values{"grant_type": {"client_credentials"}}

	var tok paypalToken
	if err := p.http.do(ctx, http.MethodPost, "/v1/oauth2/token", header, strings.NewReader(form.Encode()), &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", apperr.Wrap(ErrGateway, fmt.Errorf("paypal: empty access token"))
	}

	p.token = tok.AccessToken
	p.tokenExpiry = p.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return p.token, nil
}

func (p *paypalGateway) authHeader(ctx context.Context, requestID string) (http.Header, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if requestID != "" {
		h.Set("PayPal-Request-Id", requestID)
	}
	return h, nil
}

func (p *paypalGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (*CardOrder, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "PayPalCreateOrder"),
		zap.String("amount", money.Format(amount)),
	)

	header, err := p.authHeader(ctx, uuid.NewString())
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": paypalAmount{CurrencyCode: currency, Value: money.Format(amount)},
		}},
	}

	var res struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.http.do(ctx, http.MethodPost, "/v2/checkout/orders", header, body, &res); err != nil {
		return nil, err
	}

	log.Info("paypal order created", zap.String("paypal_order_id", res.ID), zap.String("status", res.Status))
	return &CardOrder{ID: res.ID, Status: res.Status}, nil
}

func (p *paypalGateway) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "PayPalCaptureOrder"),
		zap.String("paypal_order_id", orderID),
	)

	// Capturing twice with the same request id returns the first result.
	header, err := p.authHeader(ctx, "capture-"+orderID)
	if err != nil {
		return nil, err
	}

	var res struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Payer  struct {
			EmailAddress string `json:"email_address"`
			PayerID      string `json:"payer_id"`
		} `json:"payer"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string       `json:"id"`
					Status string       `json:"status"`
					Amount paypalAmount `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := p.http.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", header, map[string]any{}, &res); err != nil {
		return nil, err
	}

	capture := &Capture{Status: res.Status, Payer: res.Payer.EmailAddress}
	if capture.Payer == "" {
		capture.Payer = res.Payer.PayerID
	}
	if len(res.PurchaseUnits) > 0 && len(res.PurchaseUnits[0].Payments.Captures) > 0 {
		c := res.PurchaseUnits[0].Payments.Captures[0]
		amount, err := money.Parse(c.Amount.Value)
		if err != nil {
			return nil, apperr.Wrap(ErrGateway, err)
		}
		capture.ID = c.ID
		capture.Amount = amount
		capture.Currency = c.Amount.CurrencyCode
	}

	log.Info("paypal order captured",
		zap.String("status", capture.Status),
		zap.String("capture_id", capture.ID),
		zap.String("amount", money.Format(capture.Amount)),
	)
	return capture, nil
}

func (p *paypalGateway) RefundOrder(ctx context.Context, reference string, amount decimal.Decimal, currency, idempotencyKey string) (*GatewayRefund, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "PayPalRefund"),
		zap.String("capture_id", reference),
		zap.String("amount", money.Format(amount)),
	)

	header, err := p.authHeader(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"amount": paypalAmount{CurrencyCode: currency, Value: money.Format(amount)},
	}

	var res struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.http.do(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(reference)+"/refund", header, body, &res); err != nil {
		return nil, err
	}

	status := normalizePayPalRefund(res.Status)
	log.Info("paypal refund issued", zap.String("refund_id", res.ID), zap.String("status", status))
	return &GatewayRefund{ID: res.ID, Status: status}, nil
}

func normalizePayPalRefund(status string) string {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return RefundCompleted
	case "PENDING":
		return RefundPending
	default:
		return RefundFailed
	}
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

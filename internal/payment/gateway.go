package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/paymethod"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CardGateway is the opaque create / capture / refund contract of a card
// provider.
type CardGateway interface {
	Method() paymethod.Method
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (*CardOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*Capture, error)
	// RefundOrder refunds amount against reference. idempotencyKey makes a
	// resubmitted refund a no-op at the provider.
	RefundOrder(ctx context.Context, reference string, amount decimal.Decimal, currency, idempotencyKey string) (*GatewayRefund, error)
}

// QRGateway is the request / query contract of the QR provider.
type QRGateway interface {
	RequestQR(ctx context.Context, amount decimal.Decimal, reference string) (*QRRequest, error)
	QueryStatus(ctx context.Context, txnRetrievalRef string) (*QRStatus, error)
}

// CardGateways resolves the gateway a stored transaction was paid through.
type CardGateways map[paymethod.Method]CardGateway

func NewCardGateways(gateways ...CardGateway) CardGateways {
	out := make(CardGateways, len(gateways))
	for _, g := range gateways {
		out[g.Method()] = g
	}
	return out
}

func (c CardGateways) For(m paymethod.Method) (CardGateway, error) {
	g, ok := c[m]
	if !ok {
		return nil, apperr.Wrap(ErrUnsupportedCard, fmt.Errorf("method %s", m))
	}
	return g, nil
}

// httpClient is the JSON-over-HTTP plumbing shared by the REST gateways.
// Every call waits on the limiter so a burst of checkouts cannot trip the
// provider's rate limits.
type httpClient struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPClient(name, baseURL string, rps float64) *httpClient {
	if rps <= 0 {
		rps = 5
	}
	return &httpClient{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// do sends body (JSON-encoded unless it is already an io.Reader) and decodes
// a 2xx response into out. Non-2xx answers become ErrGateway.
func (c *httpClient) do(ctx context.Context, method, path string, header http.Header, body any, out any) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("gateway", c.name),
		zap.String("method", method),
		zap.String("path", path),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			log.Error("failed to marshal gateway request", zap.Error(err))
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		log.Error("failed creating request", zap.Error(err))
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" && reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Error("gateway request failed", zap.Error(err))
		return apperr.Wrap(ErrGateway, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("failed to read response body", zap.Error(err))
		return apperr.Wrap(ErrGateway, fmt.Errorf("read %s response: %w", c.name, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error("gateway returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", respBody),
		)
		return apperr.Wrap(ErrGateway, fmt.Errorf("%s: http %d", c.name, resp.StatusCode))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		log.Error("failed decoding gateway response", zap.Error(err))
		return apperr.Wrap(ErrGateway, fmt.Errorf("decode %s response: %w", c.name, err))
	}
	return nil
}

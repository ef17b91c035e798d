package payment

import (
	"context"
	"fmt"
	"time"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/metrics"

	"go.uber.org/zap"
)

// Poller queries the QR provider until the payment reaches a terminal state
// or the attempt budget runs out.
type Poller struct {
	gateway     QRGateway
	interval    time.Duration
	maxAttempts int
	metrics     *metrics.Ledger
}

func NewPoller(gateway QRGateway, interval time.Duration, maxAttempts int, m *metrics.Ledger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 40
	}
	return &Poller{gateway: gateway, interval: interval, maxAttempts: maxAttempts, metrics: metrics.Or(m)}
}

// Await returns the first terminal status. Query errors are logged and
// retried on the next tick. A cancelled context stops polling with the
// context's error; an exhausted budget returns ErrQRTimeout.
func (p *Poller) Await(ctx context.Context, txnRetrievalRef string) (*QRStatus, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "poller"),
		zap.String("method", "Await"),
		zap.String("txn_retrieval_ref", txnRetrievalRef),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		p.metrics.QRPollAttempts.Inc()

		status, err := p.gateway.QueryStatus(ctx, txnRetrievalRef)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("qr status query failed", zap.Int("attempt", attempt), zap.Error(err))
		case status.Terminal():
			log.Info("qr payment reached terminal state",
				zap.Int("attempt", attempt),
				zap.String("response_code", status.ResponseCode),
				zap.Int("txn_status", status.TxnStatus),
			)
			return status, nil
		}

		if attempt >= p.maxAttempts {
			log.Warn("qr polling exhausted", zap.Int("attempts", attempt))
			return nil, apperr.Wrap(ErrQRTimeout, fmt.Errorf("no terminal status after %d attempts", attempt))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

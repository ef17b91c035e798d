package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pawledger-be/internal/cart"
	"pawledger-be/internal/config"
	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/metrics"
	"pawledger-be/internal/middleware"
	"pawledger-be/internal/order"
	"pawledger-be/internal/payment"
	"pawledger-be/internal/payment/webhook"
	"pawledger-be/internal/pricing"
	"pawledger-be/internal/product"
	"pawledger-be/internal/refund"
	"pawledger-be/internal/risk"
	"pawledger-be/internal/voucher"
	"pawledger-be/internal/wallet"

	"go.uber.org/zap"
)

const (
	qrWebhookPath   = "/webhooks/nets-qr"
	shutdownTimeout = 15 * time.Second
)

// app holds the wired services. Only the QR webhook is served over HTTP;
// the rest are entry points for the API layer that embeds them.
type app struct {
	Carts    cart.Service
	Pricing  pricing.Engine
	Orders   order.Service
	Wallet   wallet.Ledger
	Payments payment.Service
	Refunds  refund.Engine
	Flags    risk.Flagger
	Webhook  *webhook.Handler
	Metrics  *metrics.Ledger
}

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv, cfg.LogLevel)
	defer logger.Sync()
	log := logger.L()

	conn := db.InitDB(cfg)
	defer conn.Close()

	a, err := newApp(cfg, conn)
	if err != nil {
		log.Fatal("failed to wire services", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewLimiter(cfg.InternalSecretKey, "/webhooks/")
	go limiter.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           routes(a, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("card_gateway", cfg.Gateways.CardGateway))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newApp(cfg *config.Config, conn *sql.DB) (*app, error) {
	m := metrics.Default

	flagger := risk.NewFlagger(conn)
	vouchers := voucher.NewStore()
	products := product.NewRepository(conn)
	carts := cart.NewRepository(conn)

	engine, err := pricing.NewEngine(conn, carts, vouchers, pricing.ConfigFrom(cfg.Pricing))
	if err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}

	orderRepo := order.NewRepository()
	orders := order.NewService(conn, orderRepo, carts, engine, vouchers, m)

	ledger := wallet.NewLedger(conn, m)
	guard, err := wallet.NewGuard(wallet.Limits{
		MaxTopUpPerTransaction: cfg.Wallet.MaxTopUpPerTransaction,
		MaxBalance:             cfg.Wallet.MaxBalance,
		RapidTopUpWindow:       cfg.Wallet.RapidTopUpWindow,
		RapidTopUpCount:        cfg.Wallet.RapidTopUpCount,
		DailyTopUpWindow:       cfg.Wallet.DailyTopUpWindow,
		DailyTopUpSum:          cfg.Wallet.DailyTopUpSum,
	}, flagger)
	if err != nil {
		return nil, fmt.Errorf("wallet limits: %w", err)
	}

	cards, err := cardGateways(cfg.Gateways)
	if err != nil {
		return nil, err
	}
	qr := payment.NewNetsQRGateway(cfg.Gateways.QRBaseURL, cfg.Gateways.QRAPIKey, cfg.Gateways.RequestsPerSecond)

	paymentRepo := payment.NewRepository(conn)
	payments := payment.NewService(payment.Deps{
		DB:       conn,
		Repo:     paymentRepo,
		Orders:   orders,
		Pricing:  engine,
		Wallet:   ledger,
		Guard:    guard,
		Cards:    cards,
		QR:       qr,
		Poller:   payment.NewPoller(qr, cfg.Polling.Interval, cfg.Polling.MaxAttempts, m),
		Metrics:  m,
		Currency: cfg.Currency,
	})

	refunds := refund.NewEngine(refund.Deps{
		DB:       conn,
		Repo:     refund.NewRepository(),
		Orders:   orderRepo,
		Payments: paymentRepo,
		Wallet:   ledger,
		Vouchers: vouchers,
		Cards:    cards,
		Flagger:  flagger,
		Metrics:  m,
		Currency: cfg.Currency,
	})

	return &app{
		Carts:    cart.NewService(carts, products),
		Pricing:  engine,
		Orders:   orders,
		Wallet:   ledger,
		Payments: payments,
		Refunds:  refunds,
		Flags:    flagger,
		Webhook:  webhook.NewWebhookHandler(payments, paymentRepo, cfg.Gateways.QRWebhookToken),
		Metrics:  m,
	}, nil
}

// cardGateways builds the configured card provider. Refunds of orders paid
// through the other provider fail with an unsupported-gateway error.
func cardGateways(cfg config.GatewayConfig) (payment.CardGateways, error) {
	switch cfg.CardGateway {
	case "paypal":
		return payment.NewCardGateways(payment.NewPayPalGateway(
			cfg.PayPalBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.RequestsPerSecond,
		)), nil
	case "stripe":
		return payment.NewCardGateways(payment.NewStripeGateway(cfg.StripeSecretKey)), nil
	default:
		return nil, fmt.Errorf("unknown card gateway %q", cfg.CardGateway)
	}
}

func routes(a *app, limiter *middleware.Limiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(qrWebhookPath, a.Webhook.QRWebhookHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Metrics.Snapshot())
	})

	return logger.RequestIDMiddleware(logger.LoggingMiddleware(limiter.Middleware(mux)))
}

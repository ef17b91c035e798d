package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"pawledger-be/internal/validation"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DBHost     string `validate:"required"`
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string `validate:"oneof=disable require verify-ca verify-full"`
	// DBMaxOpenConns caps the pool. Every checkout, wallet mutation and
	// refund decision holds one connection for its whole transaction.
	DBMaxOpenConns int    `validate:"gt=0"`
	AppPort        string `validate:"required"`
	AppEnv         string
	LogLevel       string

	Currency string `validate:"required,len=3"`

	// InternalSecretKey lets trusted services past the strict rate tier.
	InternalSecretKey string

	Pricing  PricingConfig
	Wallet   WalletConfig
	Gateways GatewayConfig
	Polling  PollingConfig
}

// PricingConfig mirrors pricing.Config; kept separate so the config package
// has no domain imports.
type PricingConfig struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	TaxRatePercent        decimal.Decimal
	VoucherRole           string `validate:"required"`
}

type WalletConfig struct {
	MaxTopUpPerTransaction decimal.Decimal `validate:"gt=0"`
	MaxBalance             decimal.Decimal `validate:"gt=0"`
	RapidTopUpWindow       time.Duration   `validate:"gt=0"`
	RapidTopUpCount        int             `validate:"gt=0"`
	DailyTopUpWindow       time.Duration   `validate:"gt=0"`
	DailyTopUpSum          decimal.Decimal
}

type GatewayConfig struct {
	CardGateway        string `validate:"oneof=paypal stripe"`
	PayPalBaseURL      string `validate:"required_if=CardGateway paypal"`
	PayPalClientID     string
	PayPalClientSecret string
	StripeSecretKey    string `validate:"required_if=CardGateway stripe"`
	QRBaseURL          string `validate:"required"`
	QRAPIKey           string
	QRWebhookToken     string
	RequestsPerSecond  float64 `validate:"gt=0"`
}

type PollingConfig struct {
	Interval    time.Duration `validate:"gt=0"`
	MaxAttempts int           `validate:"gt=0"`
}

var validate = validation.New()

// LoadConfig loads the environment and exits when it is unusable.
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Environment variables not loaded properly: %v", err)
	}
	return cfg
}

// Load reads .env (when present) and the process environment, applying the
// documented defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     envOr("DB_PORT", "5432"),
		DBSSLMode:  envOr("DB_SSLMODE", "disable"),
		AppPort:    envOr("APP_PORT", "8080"),
		AppEnv:     envOr("APP_ENV", "development"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
		Currency:   envOr("CURRENCY", "SGD"),

		InternalSecretKey: os.Getenv("INTERNAL_SECRET_KEY"),
		Gateways: GatewayConfig{
			CardGateway:        envOr("CARD_GATEWAY", "paypal"),
			PayPalBaseURL:      envOr("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			PayPalClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
			PayPalClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
			StripeSecretKey:    os.Getenv("STRIPE_SECRET_KEY"),
			QRBaseURL:          envOr("NETS_QR_BASE_URL", "https://uat-api.nets.com.sg"),
			QRAPIKey:           os.Getenv("NETS_QR_API_KEY"),
			QRWebhookToken:     os.Getenv("NETS_QR_WEBHOOK_TOKEN"),
		},
		Pricing: PricingConfig{
			VoucherRole: envOr("VOUCHER_ROLE", "adopter"),
		},
	}

	var err error
	if cfg.Pricing.FreeShippingThreshold, err = envDecimal("FREE_SHIPPING_THRESHOLD", "60"); err != nil {
		return nil, err
	}
	if cfg.Pricing.FlatShippingFee, err = envDecimal("FLAT_SHIPPING_FEE", "5"); err != nil {
		return nil, err
	}
	if cfg.Pricing.TaxRatePercent, err = envDecimal("TAX_RATE_PERCENT", "9"); err != nil {
		return nil, err
	}

	if cfg.Wallet.MaxTopUpPerTransaction, err = envDecimal("WALLET_MAX_TOPUP", "500"); err != nil {
		return nil, err
	}
	if cfg.Wallet.MaxBalance, err = envDecimal("WALLET_MAX_BALANCE", "2000"); err != nil {
		return nil, err
	}
	if cfg.Wallet.DailyTopUpSum, err = envDecimal("WALLET_DAILY_TOPUP_SUM", "1000"); err != nil {
		return nil, err
	}
	if cfg.Wallet.RapidTopUpWindow, err = envDuration("WALLET_RAPID_TOPUP_WINDOW", "10m"); err != nil {
		return nil, err
	}
	if cfg.Wallet.DailyTopUpWindow, err = envDuration("WALLET_DAILY_TOPUP_WINDOW", "24h"); err != nil {
		return nil, err
	}
	if cfg.Wallet.RapidTopUpCount, err = envInt("WALLET_RAPID_TOPUP_COUNT", "3"); err != nil {
		return nil, err
	}

	if cfg.DBMaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", "25"); err != nil {
		return nil, err
	}

	if cfg.Polling.Interval, err = envDuration("QR_POLL_INTERVAL", "3s"); err != nil {
		return nil, err
	}
	if cfg.Polling.MaxAttempts, err = envInt("QR_POLL_MAX_ATTEMPTS", "40"); err != nil {
		return nil, err
	}

	rps, err := strconv.ParseFloat(envOr("GATEWAY_RPS", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("GATEWAY_RPS: %w", err)
	}
	cfg.Gateways.RequestsPerSecond = rps

	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDecimal(key, def string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(envOr(key, def))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func envDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOr(key, def))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key, def string) (int, error) {
	n, err := strconv.Atoi(envOr(key, def))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

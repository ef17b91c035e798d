package payment

import (
	"context"
	"testing"
	"time"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/db"
	"pawledger-be/internal/metrics"
	"pawledger-be/internal/money"
	"pawledger-be/internal/order"
	"pawledger-be/internal/paymethod"
	"pawledger-be/internal/pricing"
	"pawledger-be/internal/wallet"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// -- mocks --

type MockRepository struct {
	mock.Mock
	Repository
}

func (m *MockRepository) RecordTransaction(ctx context.Context, q db.DBTX, t *Transaction) error {
	return m.Called(ctx, q, t).Error(0)
}

func (m *MockRepository) GetByGatewayReference(ctx context.Context, q db.DBTX, method paymethod.Method, reference string) (*Transaction, error) {
	args := m.Called(ctx, q, method, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Transaction), args.Error(1)
}

func (m *MockRepository) CreatePending(ctx context.Context, q db.DBTX, p *PendingPayment) error {
	return m.Called(ctx, q, p).Error(0)
}

func (m *MockRepository) GetPending(ctx context.Context, q db.DBTX, userID int64, gateway paymethod.Method, reference string, forUpdate bool) (*PendingPayment, error) {
	args := m.Called(ctx, q, userID, gateway, reference, forUpdate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PendingPayment), args.Error(1)
}

func (m *MockRepository) GetPendingByReference(ctx context.Context, q db.DBTX, gateway paymethod.Method, reference string, forUpdate bool) (*PendingPayment, error) {
	args := m.Called(ctx, q, gateway, reference, forUpdate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PendingPayment), args.Error(1)
}

func (m *MockRepository) MarkPendingSettled(ctx context.Context, q db.DBTX, id uuid.UUID, orderID *int64) error {
	return m.Called(ctx, q, id, orderID).Error(0)
}

func (m *MockRepository) MarkPendingFailed(ctx context.Context, q db.DBTX, id uuid.UUID, reason string) error {
	return m.Called(ctx, q, id, reason).Error(0)
}

type MockOrderService struct {
	mock.Mock
	order.Service
}

func (m *MockOrderService) Checkout(ctx context.Context, userID int64, opts order.CheckoutOptions) (*order.Order, error) {
	args := m.Called(ctx, userID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockPricingEngine struct {
	mock.Mock
	pricing.Engine
}

func (m *MockPricingEngine) BuildQuote(ctx context.Context, userID int64, role, voucherCode string) (*pricing.Quote, error) {
	args := m.Called(ctx, userID, role, voucherCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pricing.Quote), args.Error(1)
}

type MockLedger struct {
	mock.Mock
	wallet.Ledger
}

func (m *MockLedger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, meta wallet.Meta, opts wallet.Options) (*wallet.Transaction, error) {
	args := m.Called(ctx, userID, amount, meta, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Transaction), args.Error(1)
}

func (m *MockLedger) Debit(ctx context.Context, userID int64, amount decimal.Decimal, meta wallet.Meta, opts wallet.Options) (*wallet.Transaction, error) {
	args := m.Called(ctx, userID, amount, meta, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Transaction), args.Error(1)
}

type MockCardGateway struct {
	mock.Mock
}

func (m *MockCardGateway) Method() paymethod.Method {
	return paymethod.PayPal
}

func (m *MockCardGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (*CardOrder, error) {
	args := m.Called(ctx, amount, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CardOrder), args.Error(1)
}

func (m *MockCardGateway) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Capture), args.Error(1)
}

func (m *MockCardGateway) RefundOrder(ctx context.Context, reference string, amount decimal.Decimal, currency, idempotencyKey string) (*GatewayRefund, error) {
	args := m.Called(ctx, reference, amount, currency, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GatewayRefund), args.Error(1)
}

// -- fixtures --

type fixture struct {
	sql     sqlmock.Sqlmock
	repo    *MockRepository
	orders  *MockOrderService
	pricing *MockPricingEngine
	ledger  *MockLedger
	card    *MockCardGateway
	qr      *MockQRGateway
	metrics *metrics.Ledger
	svc     Service
}

func newFixture(t *testing.T) *fixture {
	conn, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	guard, err := wallet.NewGuard(wallet.DefaultLimits(), nil)
	require.NoError(t, err)

	f := &fixture{
		sql:     sqlMock,
		repo:    new(MockRepository),
		orders:  new(MockOrderService),
		pricing: new(MockPricingEngine),
		ledger:  new(MockLedger),
		card:    new(MockCardGateway),
		qr:      new(MockQRGateway),
		metrics: &metrics.Ledger{},
	}
	f.svc = NewService(Deps{
		DB:       conn,
		Repo:     f.repo,
		Orders:   f.orders,
		Pricing:  f.pricing,
		Wallet:   f.ledger,
		Guard:    guard,
		Cards:    NewCardGateways(f.card),
		QR:       f.qr,
		Poller:   NewPoller(f.qr, time.Millisecond, 3, nil),
		Metrics:  f.metrics,
		Currency: "SGD",
	})
	return f
}

const (
	balanceQuery      = `SELECT COALESCE\(\(SELECT balance FROM wallets WHERE user_id = \$1\), 0\)`
	lockedWalletQuery = `SELECT id, user_id, balance, created_at, updated_at FROM wallets WHERE user_id = \$1 FOR UPDATE`
	statsQuery        = `SELECT COUNT\(\*\), COALESCE\(SUM\(wt.amount\), 0\) FROM wallet_transactions wt`
)

func (f *fixture) expectBalance(balance string) {
	f.sql.ExpectQuery(balanceQuery).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(balance))
}

// expectLockedBalance is the cap check inside a settlement transaction,
// which reads the wallet row under FOR UPDATE.
func (f *fixture) expectLockedBalance(balance string) {
	f.sql.ExpectQuery(lockedWalletQuery).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "created_at", "updated_at"}).
			AddRow(int64(3), int64(1), balance, time.Now(), time.Now()))
}

func (f *fixture) expectTopUpStats() {
	for range 2 {
		f.sql.ExpectQuery(statsQuery).
			WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(1, "50.00"))
	}
}

var pendingID = uuid.MustParse("6f1c7a52-3d1e-4b8e-9a55-2f1f0c9d7e11")

func cardPending(status PendingStatus) *PendingPayment {
	return &PendingPayment{
		ID:               pendingID,
		UserID:           1,
		Gateway:          paymethod.PayPal,
		GatewayReference: "PP-1",
		Purpose:          PurposeCheckout,
		Amount:           money.MustParse("90"),
		Currency:         "SGD",
		Role:             "adopter",
		VoucherCode:      "PAW10",
		Status:           status,
	}
}

func qrTopUpPending() *PendingPayment {
	return &PendingPayment{
		ID:               pendingID,
		UserID:           1,
		Gateway:          paymethod.NetsQR,
		GatewayReference: "TRR-1",
		Purpose:          PurposeTopUp,
		Amount:           money.MustParse("50"),
		Currency:         "SGD",
		Status:           PendingOpen,
	}
}

func amountIs(s string) any {
	return mock.MatchedBy(func(d decimal.Decimal) bool { return money.Format(d) == s })
}

var inTx = mock.AnythingOfType("*sql.Tx")

// -- card checkout --

func TestService_StartCardCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesPending", func(t *testing.T) {
		f := newFixture(t)
		f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "paw10").
			Return(&pricing.Quote{Total: money.MustParse("90"), VoucherCode: "PAW10"}, nil)
		f.card.On("CreateOrder", ctx, amountIs("90.00"), "SGD").Return(&CardOrder{ID: "PP-1"}, nil)
		f.repo.On("CreatePending", ctx, nil, mock.MatchedBy(func(p *PendingPayment) bool {
			return p.Purpose == PurposeCheckout && p.GatewayReference == "PP-1" &&
				p.VoucherCode == "PAW10" && money.Format(p.Amount) == "90.00"
		})).Return(nil)

		res, err := f.svc.StartCardCheckout(ctx, paymethod.PayPal, CheckoutRequest{UserID: 1, Role: "adopter", VoucherCode: "paw10"})
		require.NoError(t, err)
		assert.Equal(t, "PP-1", res.Reference)
		assert.Equal(t, "90.00", money.Format(res.Amount))
		f.repo.AssertExpectations(t)
	})

	t.Run("ZeroTotalRejected", func(t *testing.T) {
		f := newFixture(t)
		f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "FREE").
			Return(&pricing.Quote{Total: money.Zero}, nil)

		_, err := f.svc.StartCardCheckout(ctx, paymethod.PayPal, CheckoutRequest{UserID: 1, Role: "adopter", VoucherCode: "FREE"})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		f.card.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UnsupportedGateway", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.StartCardCheckout(ctx, paymethod.Stripe, CheckoutRequest{UserID: 1})
		assert.ErrorIs(t, err, ErrUnsupportedCard)
	})
}

func TestService_CaptureCardCheckout(t *testing.T) {
	ctx := context.Background()
	completed := &Capture{ID: "CAP-1", Status: StatusCompleted, Payer: "buyer@example.com", Amount: money.MustParse("90"), Currency: "SGD"}

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(cardPending(PendingOpen), nil)
		f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "PAW10").Return(&pricing.Quote{Total: money.MustParse("90")}, nil)
		f.card.On("CaptureOrder", ctx, "PP-1").Return(completed, nil)

		f.sql.ExpectBegin()
		f.repo.On("GetPendingByReference", ctx, inTx, paymethod.PayPal, "PP-1", true).Return(cardPending(PendingOpen), nil)
		f.orders.On("Checkout", ctx, int64(1), mock.MatchedBy(func(o order.CheckoutOptions) bool {
			return o.Tx != nil && o.PaymentStatus == order.PaymentPaid &&
				o.VoucherCode == "PAW10" && money.Format(*o.ExpectedTotal) == "90.00"
		})).Return(&order.Order{ID: 11, TotalAmount: money.MustParse("90")}, nil)
		f.repo.On("RecordTransaction", ctx, inTx, mock.MatchedBy(func(tx *Transaction) bool {
			return *tx.OrderID == 11 && tx.CaptureID == "CAP-1" && tx.GatewayReference == "PP-1" &&
				tx.PaymentMethod == paymethod.PayPal && tx.Payer == "buyer@example.com"
		})).Return(nil)
		f.repo.On("MarkPendingSettled", ctx, inTx, pendingID, mock.MatchedBy(func(id *int64) bool {
			return id != nil && *id == 11
		})).Return(nil)
		f.sql.ExpectCommit()

		res, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		require.NoError(t, err)
		assert.False(t, res.Replayed)
		assert.Equal(t, int64(11), *res.OrderID)
		assert.Equal(t, PendingSettled, res.Pending.Status)
		f.repo.AssertExpectations(t)
		f.orders.AssertExpectations(t)
		assert.NoError(t, f.sql.ExpectationsWereMet())
		assert.Equal(t, uint64(1), f.metrics.Checkouts.Load())
	})

	t.Run("AlreadySettledReplays", func(t *testing.T) {
		f := newFixture(t)
		settled := cardPending(PendingSettled)
		orderID := int64(11)
		settled.OrderID = &orderID
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(settled, nil)
		f.repo.On("GetByGatewayReference", ctx, nil, paymethod.PayPal, "PP-1").Return(&Transaction{ID: 5, OrderID: &orderID}, nil)

		res, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.Equal(t, int64(5), res.Transaction.ID)
		f.card.AssertNotCalled(t, "CaptureOrder", mock.Anything, mock.Anything)
		f.orders.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("FailedPayment", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(cardPending(PendingFailed), nil)

		_, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		assert.ErrorIs(t, err, ErrPaymentFailed)
	})

	t.Run("TopUpReferenceRejected", func(t *testing.T) {
		f := newFixture(t)
		p := cardPending(PendingOpen)
		p.Purpose = PurposeTopUp
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(p, nil)

		_, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		assert.ErrorIs(t, err, ErrPurposeMismatch)
	})

	t.Run("StaleQuoteIsNotCaptured", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(cardPending(PendingOpen), nil)
		f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "PAW10").Return(&pricing.Quote{Total: money.MustParse("95")}, nil)

		_, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		assert.ErrorIs(t, err, ErrQuoteChanged)
		assert.ErrorIs(t, err, apperr.ErrConcurrency)
		f.card.AssertNotCalled(t, "CaptureOrder", mock.Anything, mock.Anything)
	})

	t.Run("CapturedAmountMismatch", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(cardPending(PendingOpen), nil)
		f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "PAW10").Return(&pricing.Quote{Total: money.MustParse("90")}, nil)
		f.card.On("CaptureOrder", ctx, "PP-1").Return(&Capture{Status: StatusCompleted, Amount: money.MustParse("80")}, nil)
		f.repo.On("MarkPendingFailed", ctx, nil, pendingID, "captured 80.00").Return(nil)

		_, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		assert.ErrorIs(t, err, ErrAmountMismatch)
		f.repo.AssertExpectations(t)
	})

	t.Run("CaptureNotCompleted", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(cardPending(PendingOpen), nil)
		f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "PAW10").Return(&pricing.Quote{Total: money.MustParse("90")}, nil)
		f.card.On("CaptureOrder", ctx, "PP-1").Return(&Capture{Status: "DECLINED"}, nil)
		f.repo.On("MarkPendingFailed", ctx, nil, pendingID, "capture status DECLINED").Return(nil)

		_, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		assert.ErrorIs(t, err, ErrCaptureIncomplete)
		assert.ErrorIs(t, err, apperr.ErrPaymentGateway)
	})

	t.Run("SettlementFailureRollsBack", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(cardPending(PendingOpen), nil)
		f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "PAW10").Return(&pricing.Quote{Total: money.MustParse("90")}, nil)
		f.card.On("CaptureOrder", ctx, "PP-1").Return(completed, nil)

		f.sql.ExpectBegin()
		f.repo.On("GetPendingByReference", ctx, inTx, paymethod.PayPal, "PP-1", true).Return(cardPending(PendingOpen), nil)
		f.orders.On("Checkout", ctx, int64(1), mock.Anything).Return(nil, order.ErrStockConflict)
		f.sql.ExpectRollback()
		f.repo.On("MarkPendingFailed", ctx, nil, pendingID, mock.Anything).Return(nil)

		_, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		assert.ErrorIs(t, err, order.ErrStockConflict)
		f.repo.AssertNotCalled(t, "RecordTransaction", mock.Anything, mock.Anything, mock.Anything)
		f.repo.AssertExpectations(t)
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("ConcurrentSettlementReplays", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(cardPending(PendingOpen), nil)
		f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "PAW10").Return(&pricing.Quote{Total: money.MustParse("90")}, nil)
		f.card.On("CaptureOrder", ctx, "PP-1").Return(completed, nil)

		f.sql.ExpectBegin()
		f.repo.On("GetPendingByReference", ctx, inTx, paymethod.PayPal, "PP-1", true).Return(cardPending(PendingSettled), nil)
		f.sql.ExpectRollback()
		f.repo.On("GetByGatewayReference", ctx, nil, paymethod.PayPal, "PP-1").Return(&Transaction{ID: 5}, nil)

		res, err := f.svc.CaptureCardCheckout(ctx, 1, paymethod.PayPal, "PP-1")
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		f.orders.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "MarkPendingFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

// -- wallet checkout --

func TestService_PayWithWallet(t *testing.T) {
	ctx := context.Background()
	req := CheckoutRequest{UserID: 1, Role: "adopter"}

	t.Run("DebitsInSameTransaction", func(t *testing.T) {
		f := newFixture(t)
		f.sql.ExpectBegin()
		f.orders.On("Checkout", ctx, int64(1), mock.MatchedBy(func(o order.CheckoutOptions) bool {
			return o.Tx != nil && o.PaymentStatus == order.PaymentPaid
		})).Return(&order.Order{ID: 12, TotalAmount: money.MustParse("50")}, nil)
		f.ledger.On("Debit", ctx, int64(1), amountIs("50.00"), mock.MatchedBy(func(m wallet.Meta) bool {
			return m.TxnType == wallet.TxnPayment && m.ReferenceID == "12" && m.PaymentMethod == paymethod.Wallet
		}), mock.MatchedBy(func(o wallet.Options) bool { return o.Tx != nil })).
			Return(&wallet.Transaction{ID: 77}, nil)
		f.repo.On("RecordTransaction", ctx, inTx, mock.MatchedBy(func(tx *Transaction) bool {
			return tx.GatewayReference == "WALLET-12" && tx.PaymentMethod == paymethod.Wallet && *tx.OrderID == 12
		})).Return(nil)
		f.sql.ExpectCommit()

		res, err := f.svc.PayWithWallet(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(12), *res.OrderID)
		assert.Equal(t, int64(77), *res.WalletTxnID)
		assert.NoError(t, f.sql.ExpectationsWereMet())
		assert.Equal(t, uint64(1), f.metrics.Checkouts.Load())
	})

	t.Run("InsufficientFundsLeavesNothing", func(t *testing.T) {
		f := newFixture(t)
		f.sql.ExpectBegin()
		f.orders.On("Checkout", ctx, int64(1), mock.Anything).Return(&order.Order{ID: 12, TotalAmount: money.MustParse("50")}, nil)
		f.ledger.On("Debit", ctx, int64(1), mock.Anything, mock.Anything, mock.Anything).Return(nil, wallet.ErrInsufficientFunds)
		f.sql.ExpectRollback()

		_, err := f.svc.PayWithWallet(ctx, req)
		assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
		f.repo.AssertNotCalled(t, "RecordTransaction", mock.Anything, mock.Anything, mock.Anything)
		assert.NoError(t, f.sql.ExpectationsWereMet())
		assert.Zero(t, f.metrics.Checkouts.Load())
	})

	t.Run("FullyDiscountedSkipsWallet", func(t *testing.T) {
		f := newFixture(t)
		f.sql.ExpectBegin()
		f.orders.On("Checkout", ctx, int64(1), mock.Anything).Return(&order.Order{ID: 13, TotalAmount: money.Zero}, nil)
		f.repo.On("RecordTransaction", ctx, inTx, mock.Anything).Return(nil)
		f.sql.ExpectCommit()

		res, err := f.svc.PayWithWallet(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, res.WalletTxnID)
		f.ledger.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("StaleTotal", func(t *testing.T) {
		f := newFixture(t)
		shown := money.MustParse("45")
		f.sql.ExpectBegin()
		f.orders.On("Checkout", ctx, int64(1), mock.MatchedBy(func(o order.CheckoutOptions) bool {
			return o.ExpectedTotal != nil && money.Equal(*o.ExpectedTotal, shown)
		})).Return(nil, order.ErrQuoteChanged)
		f.sql.ExpectRollback()

		_, err := f.svc.PayWithWallet(ctx, CheckoutRequest{UserID: 1, ExpectedTotal: &shown})
		assert.ErrorIs(t, err, apperr.ErrConcurrency)
	})
}

// -- QR --

func TestService_StartQRTopUp(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		f.expectBalance("100.00")
		f.qr.On("RequestQR", ctx, amountIs("50.00"), mock.AnythingOfType("string")).
			Return(&QRRequest{TxnRetrievalRef: "TRR-1", QRPayload: "png"}, nil)
		f.repo.On("CreatePending", ctx, nil, mock.MatchedBy(func(p *PendingPayment) bool {
			return p.Purpose == PurposeTopUp && p.Gateway == paymethod.NetsQR && p.GatewayReference == "TRR-1"
		})).Return(nil)

		res, err := f.svc.StartQRTopUp(ctx, 1, money.MustParse("50"))
		require.NoError(t, err)
		assert.Equal(t, "png", res.QRPayload)
		assert.Equal(t, "TRR-1", res.Reference)
	})

	t.Run("CapRejectsBeforeGateway", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.StartQRTopUp(ctx, 1, money.MustParse("600"))
		assert.ErrorIs(t, err, wallet.ErrTopUpCapExceeded)
		f.qr.AssertNotCalled(t, "RequestQR", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("BalanceCap", func(t *testing.T) {
		f := newFixture(t)
		f.expectBalance("1990.00")

		_, err := f.svc.StartQRTopUp(ctx, 1, money.MustParse("20"))
		assert.ErrorIs(t, err, wallet.ErrBalanceCapExceeded)
	})
}

func TestService_StartQRCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.pricing.On("BuildQuote", ctx, int64(1), "adopter", "").Return(&pricing.Quote{Total: money.MustParse("35")}, nil)
	f.qr.On("RequestQR", ctx, amountIs("35.00"), mock.AnythingOfType("string")).
		Return(&QRRequest{TxnRetrievalRef: "TRR-2", QRPayload: "png"}, nil)
	f.repo.On("CreatePending", ctx, nil, mock.MatchedBy(func(p *PendingPayment) bool {
		return p.Purpose == PurposeCheckout && p.Role == "adopter" && p.Currency == "SGD"
	})).Return(nil)

	res, err := f.svc.StartQRCheckout(ctx, CheckoutRequest{UserID: 1, Role: "adopter"})
	require.NoError(t, err)
	assert.Equal(t, "TRR-2", res.Reference)
}

func TestService_AwaitQRPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("TopUpCredited", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.NetsQR, "TRR-1", false).Return(qrTopUpPending(), nil)
		f.qr.On("QueryStatus", ctx, "TRR-1").Return(qrPending, nil).Once()
		f.qr.On("QueryStatus", ctx, "TRR-1").Return(qrPaid, nil).Once()

		f.sql.ExpectBegin()
		f.repo.On("GetPendingByReference", ctx, inTx, paymethod.NetsQR, "TRR-1", true).Return(qrTopUpPending(), nil)
		f.expectLockedBalance("100.00")
		f.ledger.On("Credit", ctx, int64(1), amountIs("50.00"), mock.MatchedBy(func(m wallet.Meta) bool {
			return m.TxnType == wallet.TxnTopUp && m.PaymentMethod == paymethod.NetsQR && m.ReferenceID == "TRR-1"
		}), mock.MatchedBy(func(o wallet.Options) bool { return o.Tx != nil })).
			Return(&wallet.Transaction{ID: 88}, nil)
		f.repo.On("RecordTransaction", ctx, inTx, mock.MatchedBy(func(tx *Transaction) bool {
			return tx.OrderID == nil && tx.PaymentMethod == paymethod.NetsQR && tx.Payer == "NETS_QR"
		})).Return(nil)
		f.repo.On("MarkPendingSettled", ctx, inTx, pendingID, mock.MatchedBy(func(id *int64) bool { return id == nil })).Return(nil)
		f.sql.ExpectCommit()
		f.expectTopUpStats()

		res, err := f.svc.AwaitQRPayment(ctx, 1, "TRR-1")
		require.NoError(t, err)
		assert.Equal(t, int64(88), *res.WalletTxnID)
		assert.Nil(t, res.OrderID)
		assert.NoError(t, f.sql.ExpectationsWereMet())
		assert.Zero(t, f.metrics.Checkouts.Load())
	})

	t.Run("FailedStatus", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.NetsQR, "TRR-1", false).Return(qrTopUpPending(), nil)
		f.qr.On("QueryStatus", ctx, "TRR-1").Return(qrFailed, nil)
		f.repo.On("MarkPendingFailed", ctx, nil, pendingID, mock.Anything).Return(nil)

		_, err := f.svc.AwaitQRPayment(ctx, 1, "TRR-1")
		assert.ErrorIs(t, err, ErrQRPaymentFailed)
		f.ledger.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("TimeoutStaysPending", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.NetsQR, "TRR-1", false).Return(qrTopUpPending(), nil)
		f.qr.On("QueryStatus", ctx, "TRR-1").Return(qrPending, nil)

		_, err := f.svc.AwaitQRPayment(ctx, 1, "TRR-1")
		assert.ErrorIs(t, err, ErrQRTimeout)
		f.repo.AssertNotCalled(t, "MarkPendingFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Cancelled", func(t *testing.T) {
		f := newFixture(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		f.repo.On("GetPending", cctx, nil, int64(1), paymethod.NetsQR, "TRR-1", false).Return(qrTopUpPending(), nil)
		f.qr.On("QueryStatus", cctx, "TRR-1").Return(nil, context.Canceled)

		_, err := f.svc.AwaitQRPayment(cctx, 1, "TRR-1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestService_SettleQR(t *testing.T) {
	ctx := context.Background()

	t.Run("StillPending", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPendingByReference", ctx, nil, paymethod.NetsQR, "TRR-1", false).Return(qrTopUpPending(), nil)
		f.qr.On("QueryStatus", ctx, "TRR-1").Return(qrPending, nil)

		_, err := f.svc.SettleQR(ctx, "TRR-1")
		assert.ErrorIs(t, err, ErrPaymentPending)
	})

	t.Run("UnknownReference", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPendingByReference", ctx, nil, paymethod.NetsQR, "TRR-9", false).Return(nil, ErrPendingNotFound)

		_, err := f.svc.SettleQR(ctx, "TRR-9")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

// -- card top-up --

func TestService_CardTopUp(t *testing.T) {
	ctx := context.Background()

	topUp := func() *PendingPayment {
		p := cardPending(PendingOpen)
		p.Purpose = PurposeTopUp
		p.Amount = money.MustParse("50")
		p.Role = ""
		p.VoucherCode = ""
		return p
	}

	t.Run("Start", func(t *testing.T) {
		f := newFixture(t)
		f.expectBalance("0")
		f.card.On("CreateOrder", ctx, amountIs("50.00"), "SGD").Return(&CardOrder{ID: "PP-1"}, nil)
		f.repo.On("CreatePending", ctx, nil, mock.MatchedBy(func(p *PendingPayment) bool {
			return p.Purpose == PurposeTopUp && p.Gateway == paymethod.PayPal
		})).Return(nil)

		res, err := f.svc.StartCardTopUp(ctx, paymethod.PayPal, 1, money.MustParse("50.004"))
		require.NoError(t, err)
		assert.Equal(t, "50.00", money.Format(res.Amount))
	})

	t.Run("CaptureCredits", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(topUp(), nil)
		f.expectBalance("0")
		f.card.On("CaptureOrder", ctx, "PP-1").
			Return(&Capture{ID: "CAP-9", Status: StatusCompleted, Amount: money.MustParse("50"), Currency: "SGD"}, nil)

		f.sql.ExpectBegin()
		f.repo.On("GetPendingByReference", ctx, inTx, paymethod.PayPal, "PP-1", true).Return(topUp(), nil)
		f.expectLockedBalance("0")
		f.ledger.On("Credit", ctx, int64(1), amountIs("50.00"), mock.Anything, mock.Anything).Return(&wallet.Transaction{ID: 90}, nil)
		f.repo.On("RecordTransaction", ctx, inTx, mock.MatchedBy(func(tx *Transaction) bool { return tx.CaptureID == "CAP-9" })).Return(nil)
		f.repo.On("MarkPendingSettled", ctx, inTx, pendingID, mock.Anything).Return(nil)
		f.sql.ExpectCommit()
		f.expectTopUpStats()

		res, err := f.svc.CaptureCardTopUp(ctx, 1, paymethod.PayPal, "PP-1")
		require.NoError(t, err)
		assert.Equal(t, int64(90), *res.WalletTxnID)
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("CapReachedBeforeCapture", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetPending", ctx, nil, int64(1), paymethod.PayPal, "PP-1", false).Return(topUp(), nil)
		f.expectBalance("1990.00")

		_, err := f.svc.CaptureCardTopUp(ctx, 1, paymethod.PayPal, "PP-1")
		assert.ErrorIs(t, err, wallet.ErrBalanceCapExceeded)
		f.card.AssertNotCalled(t, "CaptureOrder", mock.Anything, mock.Anything)
	})
}

func TestService_PaymentStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.repo.On("GetPending", ctx, nil, int64(1), paymethod.NetsQR, "TRR-1", false).Return(qrTopUpPending(), nil)

	p, err := f.svc.PaymentStatus(ctx, 1, paymethod.NetsQR, "TRR-1")
	require.NoError(t, err)
	assert.Equal(t, PendingOpen, p.Status)
}

package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/db"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/money"
	"pawledger-be/internal/risk"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Guard applies top-up limits around the ledger. The ledger itself knows
// nothing about them.
type Guard struct {
	limits  Limits
	flagger risk.Flagger
	now     func() time.Time
}

func NewGuard(limits Limits, flagger risk.Flagger) (*Guard, error) {
	if err := validate.Struct(limits); err != nil {
		return nil, apperr.Wrap(ErrInvalidLimits, err)
	}
	return &Guard{limits: limits, flagger: flagger, now: time.Now}, nil
}

func (g *Guard) Limits() Limits {
	return g.limits
}

// CheckTopUp enforces the hard caps against the balance read on q. Callers
// run it before contacting a gateway and again inside the settlement
// transaction; when q is a transaction the wallet row is locked first, so the
// check holds until the credit commits.
func (g *Guard) CheckTopUp(ctx context.Context, q db.DBTX, userID int64, amount decimal.Decimal) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "wallet"),
		zap.String("method", "CheckTopUp"),
		zap.Int64("user_id", userID),
		zap.String("amount", money.Format(amount)),
	)

	amount = money.Round2(amount)
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(g.limits.MaxTopUpPerTransaction) {
		log.Warn("top-up above per-transaction cap")
		return ErrTopUpCapExceeded
	}

	balance, err := capBalance(ctx, q, userID)
	if err != nil {
		return err
	}

	if balance.Add(amount).GreaterThan(g.limits.MaxBalance) {
		log.Warn("top-up above balance cap", zap.String("balance", money.Format(balance)))
		return ErrBalanceCapExceeded
	}
	return nil
}

// ObserveTopUp runs the rolling-window heuristics after a committed top-up
// and raises a risk flag for each one exceeded. It never fails the top-up;
// at most one flag per event type is raised per window.
func (g *Guard) ObserveTopUp(ctx context.Context, q db.DBTX, userID int64) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "wallet"),
		zap.String("method", "ObserveTopUp"),
		zap.Int64("user_id", userID),
	)

	now := g.now()

	count, _, err := topUpStats(ctx, q, userID, now.Add(-g.limits.RapidTopUpWindow))
	if err != nil {
		log.Error("failed to read rapid top-up stats", zap.Error(err))
	} else if count > g.limits.RapidTopUpCount {
		g.raise(ctx, log, risk.Flag{
			UserID:    userID,
			EventType: risk.EventRapidTopUps,
			Reason:    fmt.Sprintf("%d top-ups within %s", count, g.limits.RapidTopUpWindow),
			Details: map[string]any{
				"count":  count,
				"limit":  g.limits.RapidTopUpCount,
				"window": g.limits.RapidTopUpWindow.String(),
			},
		}, now.Add(-g.limits.RapidTopUpWindow))
	}

	_, sum, err := topUpStats(ctx, q, userID, now.Add(-g.limits.DailyTopUpWindow))
	if err != nil {
		log.Error("failed to read top-up volume", zap.Error(err))
	} else if sum.GreaterThan(g.limits.DailyTopUpSum) {
		g.raise(ctx, log, risk.Flag{
			UserID:    userID,
			EventType: risk.EventTopUpVolume,
			Reason:    fmt.Sprintf("top-ups of %s within %s", money.Format(sum), g.limits.DailyTopUpWindow),
			Details: map[string]any{
				"sum":    money.Format(sum),
				"limit":  money.Format(g.limits.DailyTopUpSum),
				"window": g.limits.DailyTopUpWindow.String(),
			},
		}, now.Add(-g.limits.DailyTopUpWindow))
	}
}

func (g *Guard) raise(ctx context.Context, log *zap.Logger, flag risk.Flag, since time.Time) {
	if g.flagger == nil {
		return
	}

	raised, err := g.flagger.RaisedSince(ctx, flag.UserID, flag.EventType, since)
	if err != nil {
		log.Error("failed to check recent risk flags", zap.Error(err))
	}
	if raised {
		log.Debug("risk flag already raised in window", zap.String("event_type", string(flag.EventType)))
		return
	}

	if err := g.flagger.Raise(ctx, flag); err != nil {
		log.Error("failed to raise risk flag", zap.Error(err))
	}
}

func capBalance(ctx context.Context, q db.DBTX, userID int64) (decimal.Decimal, error) {
	if tx, ok := q.(*sql.Tx); ok {
		w, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return decimal.Zero, err
		}
		return w.Balance, nil
	}

	var balance decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT balance FROM wallets WHERE user_id = $1), 0)`, userID,
	).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read wallet balance: %w", err)
	}
	return balance, nil
}

func topUpStats(ctx context.Context, q db.DBTX, userID int64, since time.Time) (int, decimal.Decimal, error) {
	var count int
	var sum decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(wt.amount), 0)
		FROM wallet_transactions wt
		JOIN wallets w ON w.id = wt.wallet_id
		WHERE w.user_id = $1 AND wt.txn_type = $2 AND wt.created_at >= $3
	`, userID, TxnTopUp, since).Scan(&count, &sum)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return count, sum, nil
}

package wallet

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
	"pawledger-be/internal/validation"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var validate = validation.New()

// Ledger owns wallet balances and their append-only transaction log.
type Ledger interface {
	// EnsureWallet returns the user's wallet, creating an empty one first.
	EnsureWallet(ctx context.Context, userID int64) (*Wallet, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, meta Meta, opts Options) (*Transaction, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal, meta Meta, opts Options) (*Transaction, error)

	GetWallet(ctx context.Context, userID int64) (*Wallet, error)
	// ListTransactions returns the newest entries first.
	ListTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error)
}

type ledger struct {
	db      *sql.DB
	metrics *metrics.Ledger
}

func NewLedger(db *sql.DB, m *metrics.Ledger) Ledger {
	return &ledger{db: db, metrics: metrics.Or(m)}
}

const walletColumns = `id, user_id, balance, created_at, updated_at`

func scanWallet(row *sql.Row) (*Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Balance = money.Round2(w.Balance)
	return &w, nil
}

func (l *ledger) EnsureWallet(ctx context.Context, userID int64) (*Wallet, error) {
	if err := ensureRow(ctx, l.db, userID); err != nil {
		return nil, err
	}
	return l.GetWallet(ctx, userID)
}

func ensureRow(ctx context.Context, q db.DBTX, userID int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}
	return nil
}

func (l *ledger) GetWallet(ctx context.Context, userID int64) (*Wallet, error) {
	w, err := scanWallet(l.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// lockWallet returns the user's wallet row locked for update, creating it
// when missing.
func lockWallet(ctx context.Context, tx *sql.Tx, userID int64) (*Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`

	w, err := scanWallet(tx.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		if err := ensureRow(ctx, tx, userID); err != nil {
			return nil, err
		}
		w, err = scanWallet(tx.QueryRowContext(ctx, query, userID))
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

func (l *ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, meta Meta, opts Options) (*Transaction, error) {
	txn, err := l.updateBalance(ctx, userID, amount, false, meta, opts)
	if err == nil {
		l.metrics.WalletCredits.Inc()
	}
	return txn, err
}

func (l *ledger) Debit(ctx context.Context, userID int64, amount decimal.Decimal, meta Meta, opts Options) (*Transaction, error) {
	txn, err := l.updateBalance(ctx, userID, amount, true, meta, opts)
	if err == nil {
		l.metrics.WalletDebits.Inc()
	}
	return txn, err
}

// updateBalance applies one signed movement: lock, compute, reject a
// negative result, persist the balance, append the ledger entry.
func (l *ledger) updateBalance(ctx context.Context, userID int64, amount decimal.Decimal, debit bool, meta Meta, opts Options) (*Transaction, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "wallet"),
		zap.String("method", "updateBalance"),
		zap.Int64("user_id", userID),
		zap.String("txn_type", string(meta.TxnType)),
		zap.Bool("debit", debit),
	)

	amount = money.Round2(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := validate.Struct(meta); err != nil {
		return nil, apperr.Wrap(ErrInvalidMeta, err)
	}

	delta := amount
	if debit {
		delta = amount.Neg()
	}

	var entry *Transaction
	err := db.RunInTx(ctx, l.db, opts.Tx, func(tx *sql.Tx) error {
		w, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}

		newBalance := money.Round2(w.Balance.Add(delta))
		if newBalance.IsNegative() {
			log.Warn("insufficient funds",
				zap.String("balance", money.Format(w.Balance)),
				zap.String("amount", money.Format(amount)),
			)
			return ErrInsufficientFunds
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE wallets
			SET balance = $1, updated_at = NOW()
			WHERE id = $2
		`, newBalance, w.ID); err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}

		entry = &Transaction{
			WalletID:      w.ID,
			TxnType:       meta.TxnType,
			Amount:        amount,
			BalanceBefore: w.Balance,
			BalanceAfter:  newBalance,
			ReferenceType: meta.ReferenceType,
			ReferenceID:   meta.ReferenceID,
			PaymentMethod: meta.PaymentMethod,
			Description:   meta.Description,
		}
		return appendEntry(ctx, tx, entry)
	})
	if err != nil {
		if !apperr.IsBusiness(err) {
			log.Error("wallet update failed", zap.Error(err))
		}
		return nil, err
	}

	log.Info("wallet updated",
		zap.Int64("wallet_txn_id", entry.ID),
		zap.String("amount", money.Format(amount)),
		zap.String("balance_after", money.Format(entry.BalanceAfter)),
	)
	return entry, nil
}

func appendEntry(ctx context.Context, tx *sql.Tx, e *Transaction) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO wallet_transactions (
			wallet_id, txn_type, amount, balance_before, balance_after,
			reference_type, reference_id, payment_method, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`,
		e.WalletID,
		e.TxnType,
		e.Amount,
		e.BalanceBefore,
		e.BalanceAfter,
		nullString(e.ReferenceType),
		nullString(e.ReferenceID),
		nullString(string(e.PaymentMethod)),
		nullString(e.Description),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append wallet transaction: %w", err)
	}
	return nil
}

func (l *ledger) ListTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT wt.id, wt.wallet_id, wt.txn_type, wt.amount, wt.balance_before,
		       wt.balance_after, COALESCE(wt.reference_type, ''),
		       COALESCE(wt.reference_id, ''), COALESCE(wt.payment_method, ''),
		       COALESCE(wt.description, ''), wt.created_at
		FROM wallet_transactions wt
		JOIN wallets w ON w.id = wt.wallet_id
		WHERE w.user_id = $1
		ORDER BY wt.created_at DESC, wt.id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID,
			&t.WalletID,
			&t.TxnType,
			&t.Amount,
			&t.BalanceBefore,
			&t.BalanceAfter,
			&t.ReferenceType,
			&t.ReferenceID,
			&t.PaymentMethod,
			&t.Description,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

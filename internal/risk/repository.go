package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pawledger-be/internal/logger"

	"go.uber.org/zap"
)

// Flagger records anomaly events.
type Flagger interface {
	// Raise stores the flag. Failures are logged and returned but callers
	// treat them as non-fatal.
	Raise(ctx context.Context, flag Flag) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]Flag, error)
	// RaisedSince reports whether the user already has a flag of this type
	// created at or after since. Heuristics use it to avoid flag storms.
	RaisedSince(ctx context.Context, userID int64, eventType EventType, since time.Time) (bool, error)
}

type repository struct {
	db *sql.DB
}

func NewFlagger(db *sql.DB) Flagger {
	return &repository{db: db}
}

// Raise writes on its own connection rather than the caller's transaction
// so a flag survives the rollback of the operation that triggered it.
func (r *repository) Raise(ctx context.Context, flag Flag) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "RaiseRiskFlag"),
		zap.Int64("user_id", flag.UserID),
		zap.String("event_type", string(flag.EventType)),
	)

	details := flag.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		log.Error("failed to marshal risk flag details", zap.Error(err))
		return fmt.Errorf("marshal risk flag details: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO risk_flags (user_id, event_type, reason, details)
		VALUES ($1, $2, $3, $4)
	`, flag.UserID, flag.EventType, flag.Reason, payload)
	if err != nil {
		log.Error("failed to insert risk flag", zap.Error(err))
		return fmt.Errorf("insert risk flag: %w", err)
	}

	log.Warn("risk flag raised", zap.String("reason", flag.Reason))
	return nil
}

func (r *repository) ListByUser(ctx context.Context, userID int64, limit int) ([]Flag, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, reason, details, created_at
		FROM risk_flags
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []Flag
	for rows.Next() {
		var f Flag
		var raw []byte
		if err := rows.Scan(&f.ID, &f.UserID, &f.EventType, &f.Reason, &raw, &f.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &f.Details); err != nil {
				return nil, fmt.Errorf("decode risk flag %d details: %w", f.ID, err)
			}
		}
		flags = append(flags, f)
	}

	return flags, rows.Err()
}

func (r *repository) RaisedSince(ctx context.Context, userID int64, eventType EventType, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM risk_flags
			WHERE user_id = $1 AND event_type = $2 AND created_at >= $3
		)
	`, userID, eventType, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent risk flags: %w", err)
	}
	return exists, nil
}

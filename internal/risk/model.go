package risk

import "time"

type EventType string

const (
	EventRapidTopUps       EventType = "RAPID_TOPUPS"
	EventTopUpVolume       EventType = "TOPUP_VOLUME"
	EventRefundRejections  EventType = "REFUND_REJECTION_LIMIT"
	EventRefundGatewayFail EventType = "REFUND_GATEWAY_FAILURE"
)

// Flag is an append-only anomaly record. It never blocks the operation
// that raised it.
type Flag struct {
	ID        int64
	UserID    int64
	EventType EventType
	Reason    string
	Details   map[string]any
	CreatedAt time.Time
}

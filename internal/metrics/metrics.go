package metrics

import (
	"sync/atomic"
	"time"
)

type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Ledger groups the counters the money-moving services report.
type Ledger struct {
	Checkouts        Counter
	CheckoutFailures Counter
	WalletCredits    Counter
	WalletDebits     Counter
	RefundsSettled   Counter
	RefundsFailed    Counter
	QRPollAttempts   Counter
}

// Snapshot is a point-in-time copy of the ledger counters.
type Snapshot struct {
	Checkouts        uint64 `json:"checkouts"`
	CheckoutFailures uint64 `json:"checkout_failures"`
	WalletCredits    uint64 `json:"wallet_credits"`
	WalletDebits     uint64 `json:"wallet_debits"`
	RefundsSettled   uint64 `json:"refunds_settled"`
	RefundsFailed    uint64 `json:"refunds_failed"`
	QRPollAttempts   uint64 `json:"qr_poll_attempts"`
}

func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		Checkouts:        l.Checkouts.Load(),
		CheckoutFailures: l.CheckoutFailures.Load(),
		WalletCredits:    l.WalletCredits.Load(),
		WalletDebits:     l.WalletDebits.Load(),
		RefundsSettled:   l.RefundsSettled.Load(),
		RefundsFailed:    l.RefundsFailed.Load(),
		QRPollAttempts:   l.QRPollAttempts.Load(),
	}
}

// Default is the process-wide ledger. Services accept a *Ledger and fall
// back to Default when given nil.
var Default = &Ledger{}

func Or(l *Ledger) *Ledger {
	if l == nil {
		return Default
	}
	return l
}

package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pawledger-be/internal/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Tier is one rate-limit policy.
type Tier struct {
	Name  string
	Limit rate.Limit
	Burst int
}

var (
	// TierStrict covers payment callbacks.
	TierStrict   = Tier{Name: "strict", Limit: rate.Limit(2), Burst: 5}
	TierGeneral  = Tier{Name: "general", Limit: rate.Limit(10), Burst: 20}
	TierInternal = Tier{Name: "internal", Limit: rate.Limit(100), Burst: 200}
)

const (
	visitorIdle   = 3 * time.Minute
	sweepInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per caller and tier.
type Limiter struct {
	internalKey  string
	strictPrefix []string

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

// NewLimiter builds a limiter. Requests whose path starts with one of
// strictPrefixes get the strict tier; internalKey, when set, moves callers
// presenting it in X-Service-Auth to the internal tier.
func NewLimiter(internalKey string, strictPrefixes ...string) *Limiter {
	return &Limiter{
		internalKey:  internalKey,
		strictPrefix: strictPrefixes,
		visitors:     make(map[string]*visitor),
		now:          time.Now,
	}
}

// Run drops idle buckets until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-visitorIdle)
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

func (l *Limiter) get(key string, t Tier) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.Limit, t.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = l.now()
	return v.limiter
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier := l.tier(r)
		key := fmt.Sprintf("%s:%s", identity(r), tier.Name)

		if !l.get(key, tier).Allow() {
			logger.FromCtx(r.Context()).Warn("rate limited",
				zap.String("layer", "middleware"),
				zap.String("key", key),
			)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) tier(r *http.Request) Tier {
	if l.internalKey != "" {
		got := r.Header.Get("X-Service-Auth")
		if subtle.ConstantTimeCompare([]byte(got), []byte(l.internalKey)) == 1 {
			return TierInternal
		}
	}
	for _, p := range l.strictPrefix {
		if strings.HasPrefix(r.URL.Path, p) {
			return TierStrict
		}
	}
	return TierGeneral
}

// identity prefers the authenticated user, then a client device id, then
// the remote address.
func identity(r *http.Request) string {
	if userID, ok := logger.UserIDFrom(r.Context()); ok {
		return fmt.Sprintf("user:%d", userID)
	}
	if deviceID := r.Header.Get("X-Device-ID"); deviceID != "" {
		return "device:" + deviceID
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}

package ratelimit

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/quiz-service/internal/config"
)

// CounterStore is the slice of the fast store the limiter needs. Increment
// must be a single atomic round trip that creates-if-absent and increments.
type CounterStore interface {
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Connected() bool
}

// Decision is the outcome of one Allow call, carrying everything the HTTP
// layer needs for response headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per client in fixed windows. When the backing store
// is unavailable it fails open: availability of the product beats the
// protection feature.
type Limiter struct {
	store  CounterStore
	cfg    config.RateLimitConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewLimiter builds a limiter over the given counter store.
func NewLimiter(store CounterStore, cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Allow records one request for the client and decides whether it is within
// the budget for the route class.
func (l *Limiter) Allow(ctx context.Context, clientID, routeClass string) Decision {
	limit := l.cfg.LimitFor(routeClass)
	window := l.cfg.Window()
	now := l.now()

	windowID := now.Unix() / int64(l.cfg.WindowSeconds)
	reset := time.Unix((windowID+1)*int64(l.cfg.WindowSeconds), 0)

	open := Decision{Allowed: true, Limit: limit, Remaining: limit, Reset: reset}

	if l.store == nil || !l.store.Connected() {
		return open
	}

	key := "ratelimit:" + routeClass + ":" + clientID + ":" + strconv.FormatInt(windowID, 10)
	count, err := l.store.Increment(ctx, key)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open", zap.Error(err))
		return open
	}
	if count == 1 {
		// First observation of the key sets its TTL. One extra window of slack
		// caps the key lifetime in case a crash lands between INCR and EXPIRE.
		if err := l.store.Expire(ctx, key, window+window); err != nil {
			l.logger.Warn("rate limit expire failed", zap.String("key", key), zap.Error(err))
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if int(count) > limit {
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}
	return Decision{Allowed: true, Limit: limit, Remaining: remaining, Reset: reset}
}

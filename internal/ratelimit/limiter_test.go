package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/quiz-service/internal/config"
)

// fakeCounterStore is an in-memory CounterStore with a switchable connected
// flag.
type fakeCounterStore struct {
	mu        sync.Mutex
	counts    map[string]int64
	ttls      map[string]time.Duration
	connected bool
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		counts:    make(map[string]int64),
		ttls:      make(map[string]time.Duration),
		connected: true,
	}
}

func (s *fakeCounterStore) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func (s *fakeCounterStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttls[key] = ttl
	return nil
}

func (s *fakeCounterStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeCounterStore) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func testLimiter(store CounterStore) *Limiter {
	limiter := NewLimiter(store, config.RateLimitConfig{
		WindowSeconds: 60,
		GeneralLimit:  100,
		AuthLimit:     3,
	}, zap.NewNop())
	// pin the clock 30s into a window so boundaries are deterministic
	fixed := time.Unix(1_700_000_010, 0)
	limiter.now = func() time.Time { return fixed }
	return limiter
}

func TestAuthClassDeniesAboveLimit(t *testing.T) {
	store := newFakeCounterStore()
	limiter := testLimiter(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision := limiter.Allow(ctx, "1.2.3.4", ClassAuth)
		require.True(t, decision.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	decision := limiter.Allow(ctx, "1.2.3.4", ClassAuth)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	// 30s into a 60s window leaves 30s until the boundary
	assert.Equal(t, 30*time.Second, decision.RetryAfter)
	assert.Equal(t, int64(1_700_000_040), decision.Reset.Unix())
}

func TestClientsAreCountedSeparately(t *testing.T) {
	store := newFakeCounterStore()
	limiter := testLimiter(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow(ctx, "1.2.3.4", ClassAuth).Allowed)
	}
	assert.False(t, limiter.Allow(ctx, "1.2.3.4", ClassAuth).Allowed)
	assert.True(t, limiter.Allow(ctx, "5.6.7.8", ClassAuth).Allowed)
}

func TestRouteClassesHaveDistinctBudgets(t *testing.T) {
	store := newFakeCounterStore()
	limiter := testLimiter(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow(ctx, "1.2.3.4", ClassAuth).Allowed)
	}
	assert.False(t, limiter.Allow(ctx, "1.2.3.4", ClassAuth).Allowed)

	decision := limiter.Allow(ctx, "1.2.3.4", ClassGeneral)
	assert.True(t, decision.Allowed, "general budget is independent of the auth budget")
	assert.Equal(t, 100, decision.Limit)
}

func TestFailsOpenWhenDisconnected(t *testing.T) {
	store := newFakeCounterStore()
	store.setConnected(false)
	limiter := testLimiter(store)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision := limiter.Allow(ctx, "1.2.3.4", ClassAuth)
		assert.True(t, decision.Allowed, "limiter must fail open while the store is down")
		assert.Equal(t, 3, decision.Remaining)
	}
}

func TestFailsOpenWithoutStore(t *testing.T) {
	limiter := testLimiter(nil)
	decision := limiter.Allow(context.Background(), "1.2.3.4", ClassAuth)
	assert.True(t, decision.Allowed)
}

func TestFirstHitSetsBoundedTTL(t *testing.T) {
	store := newFakeCounterStore()
	limiter := testLimiter(store)

	limiter.Allow(context.Background(), "1.2.3.4", ClassAuth)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.ttls, 1)
	for _, ttl := range store.ttls {
		assert.Equal(t, 2*time.Minute, ttl, "key lifetime is capped at window plus slack")
	}
}

func TestClassifyPath(t *testing.T) {
	assert.Equal(t, ClassAuth, ClassifyPath("/auth/login"))
	assert.Equal(t, ClassAuth, ClassifyPath("/auth/register"))
	assert.Equal(t, ClassAuth, ClassifyPath("/auth/refresh"))
	assert.Equal(t, ClassGeneral, ClassifyPath("/auth/logout"))
	assert.Equal(t, ClassGeneral, ClassifyPath("/auth/me"))
	assert.Equal(t, ClassGeneral, ClassifyPath("/health/live"))
}

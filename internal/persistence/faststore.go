package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/quiz-service/internal/config"
)

// ErrStoreUnavailable is returned by FastStore operations while the store is
// disconnected. Dependents are expected to fail open on it.
var ErrStoreUnavailable = errors.New("fast store unavailable")

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// FastStore wraps the go-redis client with a connected flag and bounded
// reconnect. Higher layers treat a disconnected store as "skip the
// optimization", never as a request failure. Consumers scope their keys by
// prefix ("ratelimit:", "session:") so subsystems never collide.
type FastStore struct {
	client *redis.Client
	logger *zap.Logger

	probeInterval time.Duration

	mu        sync.Mutex
	connected bool
	lastProbe time.Time
}

// NewFastStore connects to Redis using the provided configuration. Connection
// failures are logged, not fatal: the service runs degraded until the store
// comes back.
func NewFastStore(cfg config.RedisConfig, logger *zap.Logger) *FastStore {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: time.Duration(cfg.DialTimeoutSec) * time.Second,
	})

	s := &FastStore{
		client:        client,
		logger:        logger,
		probeInterval: 5 * time.Second,
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := time.Duration(cfg.ConnectBackoffSec) * time.Second
	if backoff <= 0 {
		backoff = time.Second
	}
	s.connect(attempts, backoff)
	return s
}

// connect pings the store up to attempts times with linear backoff. After the
// budget is exhausted the store stays disconnected until a later probe
// succeeds.
func (s *FastStore) connect(attempts int, backoff time.Duration) {
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.client.Ping(ctx).Err()
		cancel()
		if err == nil {
			s.setConnected(true)
			s.logger.Info("connected to fast store")
			return
		}
		s.logger.Warn("unable to reach fast store",
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		if i < attempts {
			time.Sleep(time.Duration(i) * backoff)
		}
	}
	s.setConnected(false)
}

// Connected reports whether the last round trip succeeded.
func (s *FastStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *FastStore) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// ready decides whether an operation should hit the wire. While disconnected
// only one call per probe interval is let through, so a dead store is not
// hammered on every request but a recovered one is noticed quickly.
func (s *FastStore) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return true
	}
	if time.Since(s.lastProbe) >= s.probeInterval {
		s.lastProbe = time.Now()
		return true
	}
	return false
}

// observe updates the connected flag from an operation result.
func (s *FastStore) observe(err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		if !s.Connected() {
			s.logger.Info("fast store connection restored")
		}
		s.setConnected(true)
		return
	}
	if s.Connected() {
		s.logger.Warn("fast store became unavailable", zap.Error(err))
	}
	s.setConnected(false)
}

// Get fetches a string value, ErrKeyNotFound when absent.
func (s *FastStore) Get(ctx context.Context, key string) (string, error) {
	if !s.ready() {
		return "", ErrStoreUnavailable
	}
	val, err := s.client.Get(ctx, key).Result()
	s.observe(err)
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", ErrStoreUnavailable
	}
	return val, nil
}

// Set stores a value with a TTL.
func (s *FastStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !s.ready() {
		return ErrStoreUnavailable
	}
	err := s.client.Set(ctx, key, value, ttl).Err()
	s.observe(err)
	if err != nil {
		return ErrStoreUnavailable
	}
	return nil
}

// Increment atomically creates-if-absent and increments a counter in a single
// round trip, returning the new value.
func (s *FastStore) Increment(ctx context.Context, key string) (int64, error) {
	if !s.ready() {
		return 0, ErrStoreUnavailable
	}
	n, err := s.client.Incr(ctx, key).Result()
	s.observe(err)
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	return n, nil
}

// Expire sets the TTL on an existing key.
func (s *FastStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if !s.ready() {
		return ErrStoreUnavailable
	}
	err := s.client.Expire(ctx, key, ttl).Err()
	s.observe(err)
	if err != nil {
		return ErrStoreUnavailable
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *FastStore) Delete(ctx context.Context, key string) error {
	if !s.ready() {
		return ErrStoreUnavailable
	}
	err := s.client.Del(ctx, key).Err()
	s.observe(err)
	if err != nil {
		return ErrStoreUnavailable
	}
	return nil
}

// Ping verifies connectivity and refreshes the connected flag.
func (s *FastStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("fast store not configured")
	}
	err := s.client.Ping(ctx).Err()
	s.observe(err)
	return err
}

// Close closes the underlying client.
func (s *FastStore) Close() {
	if s != nil && s.client != nil {
		_ = s.client.Close()
	}
}

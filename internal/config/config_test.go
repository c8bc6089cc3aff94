package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "quiz-service", cfg.App.Name)
	assert.Equal(t, 30*time.Minute, cfg.Auth.AccessTokenTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTokenTTL())
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
	assert.Equal(t, 5, cfg.RateLimit.AuthLimit)
	assert.Equal(t, 100, cfg.RateLimit.GeneralLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_ACCESS_TOKEN_TTL_MINUTES", "5")
	t.Setenv("AUTH_REFRESH_TOKEN_TTL_DAYS", "30")
	t.Setenv("RATE_LIMIT_AUTH", "10")
	t.Setenv("APP_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTokenTTL())
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RefreshTokenTTL())
	assert.Equal(t, 10, cfg.RateLimit.AuthLimit)
	assert.Equal(t, "0.0.0.0:9090", cfg.App.Addr())
}

func TestLimitFor(t *testing.T) {
	cfg := RateLimitConfig{WindowSeconds: 60, GeneralLimit: 100, AuthLimit: 5}
	assert.Equal(t, 5, cfg.LimitFor("auth"))
	assert.Equal(t, 100, cfg.LimitFor("general"))
	assert.Equal(t, 100, cfg.LimitFor("anything-else"))
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_AUTH", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimit.AuthLimit)
}

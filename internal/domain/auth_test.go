package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshTokenRecordUsable(t *testing.T) {
	now := time.Now()

	active := &RefreshTokenRecord{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, active.Usable(now))

	revoked := &RefreshTokenRecord{ExpiresAt: now.Add(time.Hour), Revoked: true}
	assert.False(t, revoked.Usable(now))

	expired := &RefreshTokenRecord{ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, expired.Usable(now))

	boundary := &RefreshTokenRecord{ExpiresAt: now}
	assert.False(t, boundary.Usable(now), "a record expiring exactly now is no longer usable")
}

package domain

import "time"

// TokenType distinguishes access from refresh credentials.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// RefreshTokenRecord is the persisted row tracking one issued refresh token.
// The revoked flag only ever transitions false -> true; rows are never deleted
// by the lifecycle code, they form an audit trail.
type RefreshTokenRecord struct {
	ID        string
	UserID    string
	JTI       string
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Usable reports whether the record can still be exchanged for a new pair.
func (r *RefreshTokenRecord) Usable(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// TokenPair bundles the two credentials returned by login and refresh.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

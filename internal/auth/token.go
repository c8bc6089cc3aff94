package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/quiz-service/internal/domain"
)

// Codec failure kinds. Callers branch on these to answer with precise
// semantics (expired vs malformed vs wrong purpose).
var (
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenType      = errors.New("unexpected token type")
	ErrTokenMalformed = errors.New("token malformed")
)

// TokenCodec encodes and decodes signed claim sets. It holds no mutable state
// and is safe for concurrent use.
type TokenCodec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenCodec builds a codec from the shared signing secret and lifetimes.
func NewTokenCodec(secret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	if accessTTL <= 0 {
		accessTTL = 30 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenCodec{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Claims describes the JWT payload for both token types. Refresh tokens carry
// only subject, jti and type; access tokens additionally carry the profile
// fields needed to serve a request without a user lookup.
type Claims struct {
	Username  string           `json:"username,omitempty"`
	Email     string           `json:"email,omitempty"`
	Role      domain.Role      `json:"role,omitempty"`
	TokenType domain.TokenType `json:"type"`
	jwt.RegisteredClaims
}

// IssueAccess signs a short-lived access token for the user.
func (c *TokenCodec) IssueAccess(user *domain.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(c.accessTTL)
	claims := &Claims{
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		TokenType: domain.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := c.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// IssueRefresh signs a long-lived refresh token with a fresh random jti.
func (c *TokenCodec) IssueRefresh(userID string) (token, jti string, expiresAt time.Time, err error) {
	now := time.Now()
	jti = uuid.NewString()
	expiresAt = now.Add(c.refreshTTL)
	claims := &Claims{
		TokenType: domain.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err = c.sign(claims)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// DecodeAccess validates an access token and returns its claims.
func (c *TokenCodec) DecodeAccess(tokenStr string) (*Claims, error) {
	return c.decode(tokenStr, domain.TokenTypeAccess)
}

// DecodeRefresh validates a refresh token and returns its claims.
func (c *TokenCodec) DecodeRefresh(tokenStr string) (*Claims, error) {
	return c.decode(tokenStr, domain.TokenTypeRefresh)
}

func (c *TokenCodec) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

func (c *TokenCodec) decode(tokenStr string, want domain.TokenType) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenSignature
		}
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrTokenSignature):
			return nil, ErrTokenSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != want {
		return nil, ErrTokenType
	}
	if claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

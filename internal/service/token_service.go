package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/quiz-service/internal/auth"
	"github.com/spec-kit/quiz-service/internal/config"
	"github.com/spec-kit/quiz-service/internal/domain"
	"github.com/spec-kit/quiz-service/internal/events"
	"github.com/spec-kit/quiz-service/internal/repository"
)

// SessionCache is the slice of the fast store the token service uses to cache
// resolved users. Every method may fail when the store is down; callers fall
// back to the database.
type SessionCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TokenService orchestrates the refresh token lifecycle: issuance on login,
// rotate-on-refresh, reuse detection and revocation on logout.
type TokenService struct {
	users      repository.UserRepository
	tokens     repository.RefreshTokenRepository
	codec      *auth.TokenCodec
	cache      SessionCache
	dispatcher events.Dispatcher
	logger     *zap.Logger

	bcryptCost   int
	accessTTL    time.Duration
	retryBackoff time.Duration

	// reuseCascade revokes every outstanding token of a user once reuse of a
	// rotated token is detected.
	reuseCascade bool
}

// TokenDependencies bundles collaborator requirements for the token service.
type TokenDependencies struct {
	UserRepo   repository.UserRepository
	TokenRepo  repository.RefreshTokenRepository
	Cache      SessionCache
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewTokenService builds the service.
func NewTokenService(cfg config.Config, deps TokenDependencies) *TokenService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		users:        deps.UserRepo,
		tokens:       deps.TokenRepo,
		codec:        auth.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL(), cfg.Auth.RefreshTokenTTL()),
		cache:        deps.Cache,
		dispatcher:   deps.Dispatcher,
		logger:       logger,
		bcryptCost:   cfg.Auth.BcryptCost,
		accessTTL:    cfg.Auth.AccessTokenTTL(),
		retryBackoff: 100 * time.Millisecond,
		reuseCascade: true,
	}
}

// Register creates a new account and issues its first token pair.
func (s *TokenService) Register(ctx context.Context, username, email, password string) (*domain.User, *domain.TokenPair, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, nil, ErrUsernameTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, events.EventUserRegistered, user.ID, nil)
	return user, pair, nil
}

// Login authenticates credentials and issues a token pair.
func (s *TokenService) Login(ctx context.Context, email, password string) (*domain.User, *domain.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, events.EventUserLoggedIn, user.ID, nil)
	return user, pair, nil
}

// Refresh validates a refresh token, atomically consumes it and issues a new
// pair. For any one token, at most one concurrent Refresh call wins; the rest
// observe ErrTokenRevoked.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.codec.DecodeRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	record, err := s.getRecord(ctx, claims.ID)
	if err != nil {
		return nil, err
	}

	if record.Revoked {
		// A rotated token presented a second time can only be a replay.
		s.handleReuse(ctx, record)
		return nil, ErrTokenRevoked
	}

	if !time.Now().Before(record.ExpiresAt) {
		// Lazy expiry: mark the row revoked so the audit trail reflects it.
		if _, err := s.tokens.Revoke(ctx, record.JTI); err != nil {
			s.logger.Warn("failed to revoke expired refresh token",
				zap.String("jti", record.JTI), zap.Error(err))
		}
		return nil, ErrTokenExpired
	}

	// The conditional update is the only synchronization point: exactly one
	// concurrent refresh transitions the row and proceeds.
	rotated, err := s.revokeWithRetry(ctx, record.JTI)
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, ErrTokenRevoked
	}

	user, err := s.getUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventTokenRotated, user.ID, events.TokenRotatedPayload{OldJTI: record.JTI})
	return pair, nil
}

// ResolveCurrentUser authenticates a request by its access token. The session
// cache is consulted first; a miss or a down store falls through to the
// database. The last-active timestamp update is fire-and-forget.
func (s *TokenService) ResolveCurrentUser(ctx context.Context, accessToken string) (*domain.User, error) {
	claims, err := s.codec.DecodeAccess(accessToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	user := s.cachedUser(ctx, claims.Subject)
	if user == nil {
		user, err = s.getUser(ctx, claims.Subject)
		if err != nil {
			return nil, err
		}
		s.cacheUser(ctx, user)
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}

	go s.touchLastActive(user.ID)
	return user, nil
}

/// Logout revokes the presented refresh token. Idempotent: revoking an unknown,
// malformed or already-revoked token is not an error.
func (s *TokenService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.DecodeRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if _, err := s.tokens.Revoke(ctx, claims.ID); err != nil {
		s.logger.Warn("logout revoke failed", zap.String("jti", claims.ID), zap.Error(err))
	}
	return nil
}

// LogoutAll revokes every outstanding refresh token for the user and drops the
// cached session.
func (s *TokenService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	count, err := s.revokeAllWithRetry(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.dropCachedUser(ctx, userID)
	s.publish(ctx, events.EventSessionsRevoked, userID,
		events.SessionsRevokedPayload{Count: count, Reason: "logout_all"})
	return count, nil
}

// AccessTokenTTL exposes the configured access token lifetime for response
// shaping.
func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.accessTTL
}

func (s *TokenService) issuePair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	accessToken, accessExp, err := s.codec.IssueAccess(user)
	if err != nil {
		return nil, err
	}
	refreshToken, jti, refreshExp, err := s.codec.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.withRetry(ctx, func() error {
		_, createErr := s.tokens.Create(ctx, user.ID, jti, refreshExp)
		return createErr
	}); err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: accessExp,
	}, nil
}

func (s *TokenService) handleReuse(ctx context.Context, record *domain.RefreshTokenRecord) {
	var cascaded int64
	if s.reuseCascade {
		var err error
		cascaded, err = s.tokens.RevokeAllForUser(ctx, record.UserID)
		if err != nil {
			s.logger.Warn("reuse cascade failed", zap.String("user_id", record.UserID), zap.Error(err))
		}
		s.dropCachedUser(ctx, record.UserID)
	}
	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", record.UserID),
		zap.String("jti", record.JTI),
		zap.Int64("cascaded", cascaded))
	s.publish(ctx, events.EventTokenReuseDetected, record.UserID,
		events.TokenReusePayload{JTI: record.JTI, RevokedAt: record.RevokedAt, Cascaded: cascaded})
}

func (s *TokenService) getRecord(ctx context.Context, jti string) (*domain.RefreshTokenRecord, error) {
	var record *domain.RefreshTokenRecord
	err := s.withRetry(ctx, func() error {
		var getErr error
		record, getErr = s.tokens.GetByJTI(ctx, jti)
		if errors.Is(getErr, pgx.ErrNoRows) {
			return ErrTokenNotFound
		}
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *TokenService) getUser(ctx context.Context, id string) (*domain.User, error) {
	var user *domain.User
	err := s.withRetry(ctx, func() error {
		var getErr error
		user, getErr = s.users.GetByID(ctx, id)
		if errors.Is(getErr, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *TokenService) revokeWithRetry(ctx context.Context, jti string) (bool, error) {
	var rotated bool
	err := s.withRetry(ctx, func() error {
		var revokeErr error
		rotated, revokeErr = s.tokens.Revoke(ctx, jti)
		return revokeErr
	})
	return rotated, err
}

func (s *TokenService) revokeAllWithRetry(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.withRetry(ctx, func() error {
		var revokeErr error
		count, revokeErr = s.tokens.RevokeAllForUser(ctx, userID)
		return revokeErr
	})
	return count, err
}

// withRetry runs op, retrying exactly once after a short backoff when the
// failure is infrastructural. Auth rejections are never retried.
func (s *TokenService) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || IsAuthError(err) {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.retryBackoff):
	}
	return op()
}

// cachedUser is the JSON shape stored in the session cache. The password hash
// never enters the cache.
type cachedUser struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     domain.Role `json:"role"`
	IsActive bool        `json:"is_active"`
}

func sessionKey(userID string) string {
	return "session:user:" + userID
}

func (s *TokenService) cachedUser(ctx context.Context, userID string) *domain.User {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, sessionKey(userID))
	if err != nil {
		return nil
	}
	var cu cachedUser
	if err := json.Unmarshal([]byte(raw), &cu); err != nil {
		return nil
	}
	return &domain.User{
		ID:       cu.ID,
		Username: cu.Username,
		Email:    cu.Email,
		Role:     cu.Role,
		IsActive: cu.IsActive,
	}
}

func (s *TokenService) cacheUser(ctx context.Context, user *domain.User) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(cachedUser{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		IsActive: user.IsActive,
	})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, sessionKey(user.ID), string(raw), s.accessTTL); err != nil {
		s.logger.Debug("session cache set failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *TokenService) dropCachedUser(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, sessionKey(userID)); err != nil {
		s.logger.Debug("session cache delete failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *TokenService) touchLastActive(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.users.TouchLastActive(ctx, userID); err != nil {
		s.logger.Debug("last active update dropped", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *TokenService) publish(ctx context.Context, eventType events.EventType, userID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

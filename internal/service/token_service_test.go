package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/quiz-service/internal/auth"
	"github.com/spec-kit/quiz-service/internal/config"
	"github.com/spec-kit/quiz-service/internal/domain"
	"github.com/spec-kit/quiz-service/internal/events"
)

// fakeUserRepo is an in-memory UserRepository.
type fakeUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	touched map[string]int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[string]*domain.User), touched: make(map[string]int)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	r.byID[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byID {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byID {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) TouchLastActive(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return pgx.ErrNoRows
	}
	r.touched[id]++
	return nil
}

// fakeTokenRepo is an in-memory RefreshTokenRepository honoring the same
// conditional-update semantics as the SQL implementation.
type fakeTokenRepo struct {
	mu    sync.Mutex
	byJTI map[string]*domain.RefreshTokenRecord
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{byJTI: make(map[string]*domain.RefreshTokenRecord)}
}

func (r *fakeTokenRepo) Create(_ context.Context, userID, jti string, expiresAt time.Time) (*domain.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byJTI[jti]; exists {
		return nil, errors.New("duplicate jti")
	}
	record := &domain.RefreshTokenRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		JTI:       jti,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	r.byJTI[jti] = record
	copied := *record
	return &copied, nil
}

func (r *fakeTokenRepo) GetByJTI(_ context.Context, jti string) (*domain.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byJTI[jti]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *record
	return &copied, nil
}

func (r *fakeTokenRepo) Revoke(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byJTI[jti]
	if !ok || record.Revoked {
		return false, nil
	}
	now := time.Now()
	record.Revoked = true
	record.RevokedAt = &now
	return true, nil
}

func (r *fakeTokenRepo) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	now := time.Now()
	for _, record := range r.byJTI {
		if record.UserID == userID && !record.Revoked {
			record.Revoked = true
			record.RevokedAt = &now
			count++
		}
	}
	return count, nil
}

func (r *fakeTokenRepo) setExpiresAt(jti string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byJTI[jti].ExpiresAt = expiresAt
}

func (r *fakeTokenRepo) record(jti string) domain.RefreshTokenRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.byJTI[jti]
}

func (r *fakeTokenRepo) activeCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.byJTI {
		if record.UserID == userID && !record.Revoked {
			count++
		}
	}
	return count
}

// failingCache simulates a fast store that is permanently down.
type failingCache struct{}

func (failingCache) Get(context.Context, string) (string, error) {
	return "", errors.New("store unavailable")
}

func (failingCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("store unavailable")
}

func (failingCache) Delete(context.Context, string) error {
	return errors.New("store unavailable")
}

func testConfig() config.Config {
	return config.Config{
		Auth: config.AuthConfig{
			JWTSecret:             "test-secret",
			AccessTokenTTLMinutes: 30,
			RefreshTokenTTLDays:   7,
			BcryptCost:            bcrypt.MinCost,
		},
	}
}

type fixture struct {
	svc    *TokenService
	users  *fakeUserRepo
	tokens *fakeTokenRepo
}

func newFixture(t *testing.T, cache SessionCache) *fixture {
	t.Helper()
	users := newFakeUserRepo()
	tokens := newFakeTokenRepo()
	svc := NewTokenService(testConfig(), TokenDependencies{
		UserRepo:   users,
		TokenRepo:  tokens,
		Cache:      cache,
		Dispatcher: events.NewInMemoryDispatcher(),
		Logger:     zap.NewNop(),
	})
	svc.retryBackoff = time.Millisecond
	return &fixture{svc: svc, users: users, tokens: tokens}
}

func (f *fixture) register(t *testing.T) (*domain.User, *domain.TokenPair) {
	t.Helper()
	user, pair, err := f.svc.Register(context.Background(), "player1", "player1@example.com", "Sup3r-secret!")
	require.NoError(t, err)
	return user, pair
}

func TestLoginIssuesUsablePair(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	user, pair, err := f.svc.Login(context.Background(), "player1@example.com", "Sup3r-secret!")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	resolved, err := f.svc.ResolveCurrentUser(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	// login + register each persisted one active record
	assert.Equal(t, 2, f.tokens.activeCount(user.ID))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	_, _, err := f.svc.Login(context.Background(), "player1@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = f.svc.Login(context.Background(), "nobody@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRotatesAndPreservesSubject(t *testing.T) {
	f := newFixture(t, nil)
	user, pair := f.register(t)

	newPair, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, newPair)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	resolved, err := f.svc.ResolveCurrentUser(context.Background(), newPair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID, "rotation must preserve the token subject")
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	_, pair := f.register(t)

	_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestConcurrentRefreshHasExactlyOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	_, pair := f.register(t)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, revoked int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenRevoked):
			revoked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent refresh may win")
	assert.Equal(t, workers-1, revoked)
}

func TestReuseDetectionCascades(t *testing.T) {
	f := newFixture(t, nil)
	user, pair := f.register(t)

	newPair, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, 1, f.tokens.activeCount(user.ID))

	// replaying the consumed token revokes everything the user still holds
	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	assert.Equal(t, 0, f.tokens.activeCount(user.ID))

	_, err = f.svc.Refresh(context.Background(), newPair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestExpiredRecordIsLazilyRevoked(t *testing.T) {
	f := newFixture(t, nil)
	_, pair := f.register(t)

	claims, err := auth.NewTokenCodec("test-secret", 30*time.Minute, 7*24*time.Hour).DecodeRefresh(pair.RefreshToken)
	require.NoError(t, err)

	f.tokens.setExpiresAt(claims.ID, time.Now().Add(-time.Minute))

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenExpired)

	record := f.tokens.record(claims.ID)
	assert.True(t, record.Revoked, "expired token must be marked revoked as a side effect")
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	_, pair := f.register(t)

	require.NoError(t, f.svc.Logout(context.Background(), pair.RefreshToken))
	require.NoError(t, f.svc.Logout(context.Background(), pair.RefreshToken))
	require.NoError(t, f.svc.Logout(context.Background(), "garbage-token"))

	_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestLogoutAllRevokesEverything(t *testing.T) {
	f := newFixture(t, nil)
	user, pair := f.register(t)

	_, morePair, err := f.svc.Login(context.Background(), "player1@example.com", "Sup3r-secret!")
	require.NoError(t, err)

	count, err := f.svc.LogoutAll(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 0, f.tokens.activeCount(user.ID))

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	_, err = f.svc.Refresh(context.Background(), morePair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestResolveCurrentUserRejectsInactive(t *testing.T) {
	f := newFixture(t, nil)
	user, pair := f.register(t)

	f.users.mu.Lock()
	f.users.byID[user.ID].IsActive = false
	f.users.mu.Unlock()

	_, err := f.svc.ResolveCurrentUser(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestResolveCurrentUserRejectsDeletedUser(t *testing.T) {
	f := newFixture(t, nil)
	user, pair := f.register(t)

	f.users.mu.Lock()
	delete(f.users.byID, user.ID)
	f.users.mu.Unlock()

	_, err := f.svc.ResolveCurrentUser(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestResolveCurrentUserRejectsRefreshToken(t *testing.T) {
	f := newFixture(t, nil)
	_, pair := f.register(t)

	_, err := f.svc.ResolveCurrentUser(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthSurvivesDownCache(t *testing.T) {
	// the session cache failing must never fail authentication
	f := newFixture(t, failingCache{})
	user, pair := f.register(t)

	resolved, err := f.svc.ResolveCurrentUser(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	newPair, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), newPair.RefreshToken))

	_, err = f.svc.LogoutAll(context.Background(), user.ID)
	require.NoError(t, err)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	_, _, err := f.svc.Register(context.Background(), "player1", "other@example.com", "Sup3r-secret!")
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, _, err = f.svc.Register(context.Background(), "other", "player1@example.com", "Sup3r-secret!")
	require.ErrorIs(t, err, ErrEmailTaken)
}

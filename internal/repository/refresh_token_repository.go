package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/quiz-service/internal/domain"
)

// RefreshTokenRepository manages persisted refresh token records. One row per
// issued jti; rows are revoked, never deleted.
type RefreshTokenRepository interface {
	Create(ctx context.Context, userID, jti string, expiresAt time.Time) (*domain.RefreshTokenRecord, error)
	GetByJTI(ctx context.Context, jti string) (*domain.RefreshTokenRecord, error)
	// Revoke flips revoked false -> true for the given jti and reports whether
	// this call performed the transition. The conditional update is the single
	// synchronization point preventing double rotation of one token.
	Revoke(ctx context.Context, jti string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

type refreshTokenRepository struct {
	pool *pgxpool.Pool
}

// NewRefreshTokenRepository returns a Postgres-backed implementation.
func NewRefreshTokenRepository(pool *pgxpool.Pool) RefreshTokenRepository {
	return &refreshTokenRepository{pool: pool}
}

func (r *refreshTokenRepository) Create(ctx context.Context, userID, jti string, expiresAt time.Time) (*domain.RefreshTokenRecord, error) {
	const query = `
        INSERT INTO refresh_tokens (user_id, jti, expires_at)
        VALUES ($1, $2, $3)
        RETURNING id, created_at`

	record := &domain.RefreshTokenRecord{
		UserID:    userID,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}
	// A duplicate jti violates the unique index and propagates as an error;
	// jtis are random UUIDs so a collision is treated as fatal, never as an
	// overwrite.
	if err := r.pool.QueryRow(ctx, query, userID, jti, expiresAt).
		Scan(&record.ID, &record.CreatedAt); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *refreshTokenRepository) GetByJTI(ctx context.Context, jti string) (*domain.RefreshTokenRecord, error) {
	const query = `
        SELECT id, user_id, jti, expires_at, revoked, revoked_at, created_at
        FROM refresh_tokens WHERE jti=$1`

	var record domain.RefreshTokenRecord
	if err := r.pool.QueryRow(ctx, query, jti).Scan(
		&record.ID,
		&record.UserID,
		&record.JTI,
		&record.ExpiresAt,
		&record.Revoked,
		&record.RevokedAt,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, jti string) (bool, error) {
	const query = `
        UPDATE refresh_tokens SET revoked=true, revoked_at=NOW()
        WHERE jti=$1 AND revoked=false`

	cmd, err := r.pool.Exec(ctx, query, jti)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *refreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	const query = `
        UPDATE refresh_tokens SET revoked=true, revoked_at=NOW()
        WHERE user_id=$1 AND revoked=false`

	cmd, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

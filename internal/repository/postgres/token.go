package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carebridge/identity/pkg/database"
	apperrors "github.com/carebridge/identity/pkg/errors"

	"github.com/carebridge/identity/internal/domain"
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// PostgreSQL. The single-use invariant lives in Redeem: check and invalidate
// are one UPDATE, so the database serializes concurrent redeemers and at
// most one wins.
type RefreshTokenRepository struct {
	pool database.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(pool database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// Store persists a newly minted refresh token hash.
func (r *RefreshTokenRepository) Store(ctx context.Context, t *domain.RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (id, family_id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.FamilyID,
		t.UserID,
		t.TokenHash,
		t.ExpiresAt,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// Redeem atomically revokes the live, unexpired token with the given hash
// and returns its record. Zero rows updated means someone else won the race
// or the token was never valid; a follow-up lookup classifies the failure so
// a replayed token is distinguishable from a stale or unknown one.
func (r *RefreshTokenRepository) Redeem(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshTokenRecord, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE token_hash = $2 AND revoked_at IS NULL AND expires_at > $1
		RETURNING id, family_id, user_id, token_hash, expires_at, created_at, revoked_at`

	var t domain.RefreshTokenRecord
	err := r.pool.QueryRow(ctx, query, now, tokenHash).Scan(
		&t.ID,
		&t.FamilyID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.RevokedAt,
	)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("redeem refresh token: %w", err)
	}

	return nil, r.classifyRedeemFailure(ctx, tokenHash, now)
}

// classifyRedeemFailure looks the token up after a lost redemption to decide
// why it lost. A known, revoked, unexpired token is a replay; everything
// else is plain invalid.
func (r *RefreshTokenRepository) classifyRedeemFailure(ctx context.Context, tokenHash string, now time.Time) error {
	query := `
		SELECT revoked_at, expires_at
		FROM refresh_tokens
		WHERE token_hash = $1`

	var (
		revokedAt *time.Time
		expiresAt time.Time
	)
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(&revokedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrTokenInvalid
		}
		return fmt.Errorf("classify redeem failure: %w", err)
	}

	if revokedAt != nil && now.Before(expiresAt) {
		return apperrors.ErrTokenReplayed
	}
	return apperrors.ErrTokenInvalid
}

// Lookup retrieves the record for a hash regardless of state, so a replayed
// token's family can still be resolved after redemption fails.
func (r *RefreshTokenRepository) Lookup(ctx context.Context, tokenHash string) (*domain.RefreshTokenRecord, error) {
	query := `
		SELECT id, family_id, user_id, token_hash, expires_at, created_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1`

	var t domain.RefreshTokenRecord
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&t.ID,
		&t.FamilyID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	return &t, nil
}

// RevokeFamily revokes every live token in the family. This is the response
// to a detected replay: the whole chain descended from one login dies.
func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE family_id = $2 AND revoked_at IS NULL`

	if _, err := r.pool.Exec(ctx, query, time.Now().UTC(), familyID); err != nil {
		return fmt.Errorf("revoke token family: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live token for the user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL`

	if _, err := r.pool.Exec(ctx, query, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens that expired before the cutoff and returns
// how many rows were deleted.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	ct, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

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

// ActionTokenRepository implements repository.ActionTokenRepository using
// PostgreSQL. Consume follows the same atomic update-where-unconsumed
// discipline as refresh token redemption.
type ActionTokenRepository struct {
	pool database.DBTX
}

// NewActionTokenRepository creates a new PostgreSQL-backed action token repository.
func NewActionTokenRepository(pool database.DBTX) *ActionTokenRepository {
	return &ActionTokenRepository{pool: pool}
}

// Issue invalidates any prior unconsumed token for the same user and
// purpose and stores the new one in a single statement, so a crash between
// the two steps cannot leave either zero or two redeemable tokens. Only the
// most recently issued token for a purpose is ever redeemable.
func (r *ActionTokenRepository) Issue(ctx context.Context, t *domain.ActionTokenRecord) error {
	query := `
		WITH retired AS (
			UPDATE action_tokens
			SET consumed_at = $6
			WHERE user_id = $2 AND purpose = $3 AND consumed_at IS NULL
		)
		INSERT INTO action_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.UserID,
		string(t.Purpose),
		t.TokenHash,
		t.ExpiresAt,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("issue action token: %w", err)
	}

	return nil
}

// Consume atomically marks the live token with the given hash and purpose as
// consumed and returns its record. Missing, expired, and already-consumed
// tokens are indistinguishable to the caller: all return ErrTokenInvalid.
func (r *ActionTokenRepository) Consume(ctx context.Context, tokenHash string, purpose domain.ActionTokenPurpose, now time.Time) (*domain.ActionTokenRecord, error) {
	query := `
		UPDATE action_tokens
		SET consumed_at = $1
		WHERE token_hash = $2 AND purpose = $3 AND consumed_at IS NULL AND expires_at > $1
		RETURNING id, user_id, purpose, token_hash, expires_at, created_at, consumed_at`

	var (
		t          domain.ActionTokenRecord
		rawPurpose string
	)
	err := r.pool.QueryRow(ctx, query, now, tokenHash, string(purpose)).Scan(
		&t.ID,
		&t.UserID,
		&rawPurpose,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.ConsumedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrTokenInvalid
		}
		return nil, fmt.Errorf("consume action token: %w", err)
	}
	t.Purpose = domain.ActionTokenPurpose(rawPurpose)

	return &t, nil
}

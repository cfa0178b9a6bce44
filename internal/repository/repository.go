package repository

import (
	"context"
	"time"

	"github.com/carebridge/identity/internal/domain"
)

// UserRepository defines the interface for user persistence operations. The
// identity core only ever mutates the password hash and the verified and
// profile-complete flags; everything else on the record belongs to the rest
// of the platform.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their lowercased email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SetEmailVerified flips the email-verified flag.
	SetEmailVerified(ctx context.Context, id string, verified bool) error

	// SetProfileComplete flips the profile-complete flag.
	SetProfileComplete(ctx context.Context, id string, complete bool) error
}

// RefreshTokenRepository defines the interface for refresh token persistence.
// Redeem carries the single-use invariant: at most one caller can redeem a
// given token, even under concurrent duplicate requests.
type RefreshTokenRepository interface {
	// Store persists a newly minted refresh token hash.
	Store(ctx context.Context, token *domain.RefreshTokenRecord) error

	// Redeem atomically revokes the live token with the given hash and
	// returns its record. Exactly one concurrent redeemer wins. A known but
	// already-revoked token returns ErrTokenReplayed; an expired or unknown
	// token returns ErrTokenInvalid.
	Redeem(ctx context.Context, tokenHash string, now time.Time) (*domain.RefreshTokenRecord, error)

	// Lookup retrieves the record for a token hash regardless of its state.
	// Revoked and expired tokens are returned as-is; an unknown hash returns
	// ErrNotFound. Used to resolve the family behind a replayed token.
	Lookup(ctx context.Context, tokenHash string) (*domain.RefreshTokenRecord, error)

	// RevokeFamily revokes every live token in the family. This is the
	// response to a detected replay.
	RevokeFamily(ctx context.Context, familyID string) error

	// RevokeAllForUser revokes every live token for the user, forcing
	// re-authentication everywhere. Used after password changes.
	RevokeAllForUser(ctx context.Context, userID string) error

	// DeleteExpired removes tokens that expired before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// ActionTokenRepository defines the interface for single-use action tokens
// (password reset, email verification).
type ActionTokenRepository interface {
	// Issue invalidates any prior unconsumed token for the same user and
	// purpose, then stores the new one.
	Issue(ctx context.Context, token *domain.ActionTokenRecord) error

	// Consume atomically marks the live token with the given hash and
	// purpose as consumed and returns its record. A missing, expired, or
	// already-consumed token returns ErrTokenInvalid.
	Consume(ctx context.Context, tokenHash string, purpose domain.ActionTokenPurpose, now time.Time) (*domain.ActionTokenRecord, error)
}

// AttemptLimiter tracks failed login attempts per email and client IP over a
// rolling window. It is a hardening layer: an unavailable backing store
// degrades open, never locking out the whole system.
type AttemptLimiter interface {
	// TooManyAttempts reports whether the email/IP pair has reached the
	// configured failure limit.
	TooManyAttempts(ctx context.Context, email, clientIP string) (bool, error)

	// RecordFailure increments the failure counter.
	RecordFailure(ctx context.Context, email, clientIP string) error

	// Reset clears the counter after a successful login.
	Reset(ctx context.Context, email, clientIP string) error
}

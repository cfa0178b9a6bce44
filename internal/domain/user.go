package domain

import (
	"time"
)

// User is the identity record. The core treats it as read-only except for
// the password hash and the verified/profile-complete flags, which change
// only as side effects of its own operations.
type User struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	PasswordHash        string    `json:"-"`
	FirstName           string    `json:"first_name"`
	LastName            string    `json:"last_name"`
	Role                Role      `json:"role"`
	EmailVerified       bool      `json:"email_verified"`
	ProfileComplete     bool      `json:"profile_complete"`
	PermissionOverrides []string  `json:"permission_overrides,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Can reports whether the user is granted the permission, checking the
// per-user override list first and falling back to the role's static set.
func (u *User) Can(permission string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.PermissionOverrides {
		if p == permission {
			return true
		}
	}
	return HasPermission(u.Role, permission)
}

// RefreshTokenRecord is a stored refresh token. Only the SHA-256 hash of the
// plaintext ever reaches the database; FamilyID ties together the chain of
// rotations descended from one login so the whole family can be revoked when
// a replay is detected.
type RefreshTokenRecord struct {
	ID        string     `json:"id"`
	FamilyID  string     `json:"family_id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// ActionTokenPurpose names the single-use action a token authorizes.
type ActionTokenPurpose string

const (
	PurposePasswordReset     ActionTokenPurpose = "password_reset"
	PurposeEmailVerification ActionTokenPurpose = "email_verification"
)

// ActionTokenRecord is a stored single-use action token (password reset or
// email verification). Like refresh tokens, only the hash is persisted.
type ActionTokenRecord struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	Purpose    ActionTokenPurpose `json:"purpose"`
	TokenHash  string             `json:"-"`
	ExpiresAt  time.Time          `json:"expires_at"`
	CreatedAt  time.Time          `json:"created_at"`
	ConsumedAt *time.Time         `json:"consumed_at,omitempty"`
}

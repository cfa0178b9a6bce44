package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/carebridge/identity/pkg/errors"

	"github.com/carebridge/identity/internal/domain"
	"github.com/carebridge/identity/internal/ids"
)

const (
	// DefaultAccessTTL bounds the blast radius of a leaked access token.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is how long a session survives without activity.
	DefaultRefreshTTL = 168 * time.Hour

	defaultIssuer = "carebridge-identity"

	refreshSecretBytes = 32
)

// Claims is the access-token payload. It carries everything a downstream
// authorization check needs, so validation is purely local until expiry.
type Claims struct {
	UserID          string   `json:"user_id"`
	Email           string   `json:"email"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	Role            string   `json:"role"`
	EmailVerified   bool     `json:"email_verified"`
	ProfileComplete bool     `json:"profile_complete"`
	Permissions     []string `json:"permissions"`
	// PermissionOverrides are the user's explicit per-user grants, carried
	// separately from the role set so they survive the token round trip.
	PermissionOverrides []string `json:"permission_overrides,omitempty"`
	jwt.RegisteredClaims
}

// User rebuilds the sanitized user view from the claims alone, with no
// storage round trip.
func (c *Claims) User() *domain.User {
	return &domain.User{
		ID:                  c.UserID,
		Email:               c.Email,
		FirstName:           c.FirstName,
		LastName:            c.LastName,
		Role:                domain.Role(c.Role),
		EmailVerified:       c.EmailVerified,
		ProfileComplete:     c.ProfileComplete,
		PermissionOverrides: c.PermissionOverrides,
	}
}

// CredentialPair is what a successful login, registration, or refresh hands
// back: a signed access token, the refresh token plaintext, and the access
// token's expiry. ExpiresAt is always issued-at plus the access TTL.
type CredentialPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefreshToken is a freshly minted opaque refresh credential. Plaintext is
// handed to the caller exactly once; only Hash is ever stored.
type RefreshToken struct {
	Plaintext string
	Hash      string
	FamilyID  string
	ExpiresAt time.Time
}

// Manager mints and verifies credential tokens. It never touches storage:
// refresh redemption and revocation are the token repository's concern.
type Manager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source, used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.accessTTL = ttl }
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.refreshTTL = ttl }
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(m *Manager) { m.issuer = issuer }
}

// NewManager creates a token manager signing with the given HMAC secret.
func NewManager(secret string, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("token manager: signing secret is required")
	}
	m := &Manager{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// Issue builds a credential pair for the user: a signed HS256 access token
// carrying the user's identity and merged permission set, and an opaque
// refresh token. A fresh family ID is generated when none is supplied
// (login, registration); rotation passes the existing family through.
func (m *Manager) Issue(user *domain.User, familyID string) (CredentialPair, RefreshToken, error) {
	if user == nil {
		return CredentialPair{}, RefreshToken{}, errors.New("issue: user is required")
	}
	if !user.Role.Valid() {
		return CredentialPair{}, RefreshToken{}, fmt.Errorf("issue: unknown role %q", user.Role)
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.accessTTL)

	claims := &Claims{
		UserID:              user.ID,
		Email:               user.Email,
		FirstName:           user.FirstName,
		LastName:            user.LastName,
		Role:                string(user.Role),
		EmailVerified:       user.EmailVerified,
		ProfileComplete:     user.ProfileComplete,
		Permissions:         domain.Permissions(user.Role),
		PermissionOverrides: user.PermissionOverrides,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return CredentialPair{}, RefreshToken{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := m.mintRefreshToken(familyID, now)
	if err != nil {
		return CredentialPair{}, RefreshToken{}, err
	}

	pair := CredentialPair{
		AccessToken:  signed,
		RefreshToken: refresh.Plaintext,
		ExpiresAt:    expiresAt,
	}
	return pair, refresh, nil
}

// Validate verifies the access token's signing method, signature, and TTL.
// A valid signature with a lapsed TTL returns ErrTokenExpired so callers can
// refresh instead of forcing re-authentication; everything else returns
// ErrTokenInvalid. Claims carrying an unknown role fail closed.
func (m *Manager) Validate(accessToken string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.ErrTokenInvalid
	}
	if !domain.Role(claims.Role).Valid() {
		return nil, apperrors.ErrTokenInvalid
	}

	return claims, nil
}

// HashRefreshToken is the SHA-256 hex digest of the plaintext, the only form
// that ever reaches storage or logs.
func HashRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// MintActionToken generates an opaque single-use token for password reset
// or email verification flows, returning the plaintext (delivered to the
// user out of band) and the hash (the only stored form).
func MintActionToken() (plaintext, hash string, err error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate action token: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, HashRefreshToken(plaintext), nil
}

// mintRefreshToken generates an opaque <tokenID>.<secret> refresh token.
// The secret is 32 bytes from crypto/rand, base64url encoded.
func (m *Manager) mintRefreshToken(familyID string, now time.Time) (RefreshToken, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return RefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}

	if familyID == "" {
		familyID = ids.NewFamilyID()
	}

	plaintext := uuid.New().String() + "." + base64.RawURLEncoding.EncodeToString(buf)
	return RefreshToken{
		Plaintext: plaintext,
		Hash:      HashRefreshToken(plaintext),
		FamilyID:  familyID,
		ExpiresAt: now.Add(m.refreshTTL),
	}, nil
}

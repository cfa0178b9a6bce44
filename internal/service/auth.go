package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/carebridge/identity/pkg/errors"

	"github.com/carebridge/identity/internal/auth"
	"github.com/carebridge/identity/internal/domain"
	"github.com/carebridge/identity/internal/event"
	"github.com/carebridge/identity/internal/repository"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// Action token lifetimes. Reset tokens are short because they bypass the
// password; verification tokens are generous because email is slow.
const (
	passwordResetTTL     = time.Hour
	emailVerificationTTL = 24 * time.Hour
)

// AuthService implements the server-side session store: every operation the
// HTTP surface exposes lands here. Password verification happens in this
// layer against the stored bcrypt hash; the token manager never sees
// passwords.
type AuthService struct {
	users    repository.UserRepository
	tokens   repository.RefreshTokenRepository
	actions  repository.ActionTokenRepository
	attempts repository.AttemptLimiter
	manager  *auth.Manager
	producer *event.Producer
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService creates the auth service with all its collaborators.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	actions repository.ActionTokenRepository,
	attempts repository.AttemptLimiter,
	manager *auth.Manager,
	producer *event.Producer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		tokens:   tokens,
		actions:  actions,
		attempts: attempts,
		manager:  manager,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock injects the time source, used by tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// --- Input/Output types ---

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
	ClientIP string
}

// Credentials is the full issuance result: the sanitized user plus both
// token halves and their expiries. The handler decides what goes in the
// body (access token) and what goes in the cookie (refresh token).
type Credentials struct {
	User             *domain.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// --- Operations ---

// Register creates a new user account. New accounts always start as
// unverified clients with incomplete profiles; roles above client are
// provisioned by administrators, never self-selected. On success the user
// is logged in (a fresh credential pair in a new family) and a verification
// token is issued for the notification service to deliver.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*Credentials, error) {
	if input.Email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.FirstName == "" {
		return nil, apperrors.InvalidInput("first name is required")
	}
	if input.LastName == "" {
		return nil, apperrors.InvalidInput("last name is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:              uuid.New().String(),
		Email:           input.Email,
		PasswordHash:    string(hashedPassword),
		FirstName:       input.FirstName,
		LastName:        input.LastName,
		Role:            domain.RoleClient,
		EmailVerified:   false,
		ProfileComplete: false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	creds, err := s.issueCredentials(ctx, user, "")
	if err != nil {
		return nil, err
	}

	if err := s.issueVerificationToken(ctx, user); err != nil {
		// The account exists and the user can resend later.
		s.logger.ErrorContext(ctx, "failed to issue verification token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)

	return creds, nil
}

// Login authenticates a user with email and password. Failures never reveal
// which half was wrong, and repeated failures from the same email/IP pair
// trip the lockout before bcrypt even runs.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*Credentials, error) {
	if input.Email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.InvalidInput("password is required")
	}

	locked, err := s.attempts.TooManyAttempts(ctx, input.Email, input.ClientIP)
	if err != nil {
		// The limiter is a hardening layer; an outage degrades open.
		s.logger.WarnContext(ctx, "attempt limiter unavailable",
			slog.String("error", err.Error()),
		)
	} else if locked {
		return nil, apperrors.TooManyRequests("too many failed login attempts, try again later")
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.recordFailure(ctx, input.Email, input.ClientIP)
			return nil, apperrors.Unauthorized("invalid email or password")
		}
		return nil, apperrors.Unavailable(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordFailure(ctx, input.Email, input.ClientIP)
		return nil, apperrors.Unauthorized("invalid email or password")
	}

	if err := s.attempts.Reset(ctx, input.Email, input.ClientIP); err != nil {
		s.logger.WarnContext(ctx, "failed to reset attempt counter",
			slog.String("error", err.Error()),
		)
	}

	creds, err := s.issueCredentials(ctx, user, "")
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
	)

	return creds, nil
}

// Refresh redeems a refresh token for a new credential pair in the same
// family. Redemption is atomic in storage, so a concurrent duplicate loses
// cleanly. A replayed token is a compromise signal: the entire family is
// revoked and the caller is forced back to full authentication.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, clientIP string) (*Credentials, error) {
	if refreshToken == "" {
		return nil, apperrors.Unauthorized("refresh token is required")
	}

	now := s.now().UTC()
	record, err := s.tokens.Redeem(ctx, auth.HashRefreshToken(refreshToken), now)
	if err != nil {
		if errors.Is(err, apperrors.ErrTokenReplayed) {
			return nil, s.handleReplay(ctx, refreshToken, clientIP)
		}
		if errors.Is(err, apperrors.ErrTokenInvalid) {
			return nil, apperrors.Unauthorized("invalid or expired refresh token")
		}
		return nil, apperrors.Unavailable(err)
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("account no longer exists")
		}
		return nil, apperrors.Unavailable(err)
	}

	creds, err := s.issueCredentials(ctx, user, record.FamilyID)
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "tokens rotated",
		slog.String("user_id", user.ID),
		slog.String("family_id", record.FamilyID),
	)

	return creds, nil
}

// handleReplay revokes the replayed token's family, publishes the audit
// event, and surfaces the failure as plain unauthenticated. The caller gets
// no hint that replay detection fired.
func (s *AuthService) handleReplay(ctx context.Context, refreshToken, clientIP string) error {
	record, err := s.tokens.Lookup(ctx, auth.HashRefreshToken(refreshToken))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to look up replayed token",
			slog.String("error", err.Error()),
		)
	}
	if record != nil {
		if err := s.tokens.RevokeFamily(ctx, record.FamilyID); err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke token family after replay",
				slog.String("family_id", record.FamilyID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.producer.PublishTokenReplayed(ctx, record.UserID, record.FamilyID, clientIP); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish auth.token_replayed event",
				slog.String("error", err.Error()),
			)
		}
		s.logger.WarnContext(ctx, "refresh token replay detected, family revoked",
			slog.String("user_id", record.UserID),
			slog.String("family_id", record.FamilyID),
			slog.String("client_ip", clientIP),
		)
	}
	return apperrors.Unauthorized("invalid or expired refresh token")
}

// Logout revokes the presented refresh token's whole family. It is
// best-effort: from the caller's perspective logout always succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	record, err := s.tokens.Lookup(ctx, auth.HashRefreshToken(refreshToken))
	if err != nil {
		return nil
	}
	if err := s.tokens.RevokeFamily(ctx, record.FamilyID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke token family on logout",
			slog.String("family_id", record.FamilyID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", record.UserID),
	)
	return nil
}

// ChangePassword verifies the current password, replaces the hash, and
// revokes every refresh token the user holds so stolen sessions die with
// the old password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password change: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(hashed)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.revokeAllSessions(ctx, user.ID)
	s.publishPasswordChanged(ctx, user)

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID),
	)
	return nil
}

// RequestPasswordReset issues a reset token for the account, if it exists.
// The response is identical either way so the endpoint cannot be used to
// enumerate accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return apperrors.Unavailable(err)
	}

	plaintext, hash, err := auth.MintActionToken()
	if err != nil {
		return fmt.Errorf("mint reset token: %w", err)
	}

	now := s.now().UTC()
	record := &domain.ActionTokenRecord{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Purpose:   domain.PurposePasswordReset,
		TokenHash: hash,
		ExpiresAt: now.Add(passwordResetTTL),
		CreatedAt: now,
	}
	if err := s.actions.Issue(ctx, record); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if err := s.producer.PublishPasswordResetRequested(ctx, user, plaintext, record.ExpiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish password_reset_requested event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID),
	)
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets the new password.
// All refresh tokens die with the old password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return apperrors.InvalidInput("reset token is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	record, err := s.actions.Consume(ctx, auth.HashRefreshToken(token), domain.PurposePasswordReset, s.now().UTC())
	if err != nil {
		if errors.Is(err, apperrors.ErrTokenInvalid) {
			return apperrors.Unauthorized("invalid or expired reset token")
		}
		return apperrors.Unavailable(err)
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return fmt.Errorf("get user for password reset: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(hashed)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.revokeAllSessions(ctx, user.ID)
	s.publishPasswordChanged(ctx, user)

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("user_id", user.ID),
	)
	return nil
}

// VerifyEmail consumes a verification token and flips the verified flag.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.InvalidInput("verification token is required")
	}

	record, err := s.actions.Consume(ctx, auth.HashRefreshToken(token), domain.PurposeEmailVerification, s.now().UTC())
	if err != nil {
		if errors.Is(err, apperrors.ErrTokenInvalid) {
			return apperrors.Unauthorized("invalid or expired verification token")
		}
		return apperrors.Unavailable(err)
	}

	if err := s.users.SetEmailVerified(ctx, record.UserID, true); err != nil {
		return fmt.Errorf("set email verified: %w", err)
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err == nil {
		if err := s.producer.PublishEmailVerified(ctx, user); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish email_verified event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "email verified",
		slog.String("user_id", record.UserID),
	)
	return nil
}

// ResendVerification reissues the verification token. Verified accounts get
// a silent no-op success.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for verification resend: %w", err)
	}
	if user.EmailVerified {
		return nil
	}
	return s.issueVerificationToken(ctx, user)
}

// MarkProfileComplete flips the caller's profile-complete flag. The profile
// content itself is owned by the rest of the platform; this records that
// the required sections are filled in.
func (s *AuthService) MarkProfileComplete(ctx context.Context, userID string) error {
	if err := s.users.SetProfileComplete(ctx, userID, true); err != nil {
		return fmt.Errorf("mark profile complete: %w", err)
	}
	return nil
}

// PurgeExpired deletes refresh tokens whose expiry has passed and returns
// how many rows were removed. Redemption and revocation never match expired
// rows, so the sweep cannot change any auth outcome.
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired refresh tokens: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "purged expired refresh tokens", slog.Int64("count", n))
	}
	return n, nil
}

// Resolve validates an access token and rebuilds the session view from the
// claims alone, with no storage round trip. The credential is the source of
// truth; nothing is cached server-side. Invalid and expired tokens return
// an anonymous session along with the typed error so callers can
// distinguish refresh-worthy from reject-worthy.
func (s *AuthService) Resolve(ctx context.Context, accessToken string) (domain.Session, error) {
	if accessToken == "" {
		return domain.Anonymous(), apperrors.ErrUnauthorized
	}

	claims, err := s.manager.Validate(accessToken)
	if err != nil {
		return domain.Anonymous(), err
	}

	return domain.Session{
		User:            claims.User(),
		IsAuthenticated: true,
	}, nil
}

// --- helpers ---

// issueCredentials mints a credential pair and persists the refresh hash.
// An empty familyID starts a new family (login, register); rotation keeps
// the existing one.
func (s *AuthService) issueCredentials(ctx context.Context, user *domain.User, familyID string) (*Credentials, error) {
	pair, refresh, err := s.manager.Issue(user, familyID)
	if err != nil {
		return nil, fmt.Errorf("issue credentials: %w", err)
	}

	record := &domain.RefreshTokenRecord{
		ID:        uuid.New().String(),
		FamilyID:  refresh.FamilyID,
		UserID:    user.ID,
		TokenHash: refresh.Hash,
		ExpiresAt: refresh.ExpiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.tokens.Store(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Credentials{
		User:             user,
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.ExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *AuthService) issueVerificationToken(ctx context.Context, user *domain.User) error {
	plaintext, hash, err := auth.MintActionToken()
	if err != nil {
		return fmt.Errorf("mint verification token: %w", err)
	}

	now := s.now().UTC()
	record := &domain.ActionTokenRecord{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Purpose:   domain.PurposeEmailVerification,
		TokenHash: hash,
		ExpiresAt: now.Add(emailVerificationTTL),
		CreatedAt: now,
	}
	if err := s.actions.Issue(ctx, record); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	if err := s.producer.PublishVerificationRequested(ctx, user, plaintext, record.ExpiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish verification_requested event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *AuthService) revokeAllSessions(ctx context.Context, userID string) {
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) publishPasswordChanged(ctx context.Context, user *domain.User) {
	if err := s.producer.PublishPasswordChanged(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish password_changed event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) recordFailure(ctx context.Context, email, clientIP string) {
	if err := s.attempts.RecordFailure(ctx, email, clientIP); err != nil {
		s.logger.WarnContext(ctx, "failed to record login failure",
			slog.String("error", err.Error()),
		)
	}
}

// validatePassword enforces the minimum password policy.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}

package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/carebridge/identity/pkg/kafka"

	"github.com/carebridge/identity/internal/domain"
)

// Kafka topic constants for identity domain events.
const (
	TopicUserRegistered       = "identity.user.registered"
	TopicUserPasswordResetReq = "identity.user.password_reset_requested"
	TopicUserPasswordChanged  = "identity.user.password_changed"
	TopicUserEmailVerified    = "identity.user.email_verified"
	TopicUserVerificationReq  = "identity.user.verification_requested"
	TopicAuthTokenReplayed    = "identity.auth.token_replayed"
)

// Aggregate type constants.
const (
	AggregateTypeUser = "user"
	AggregateTypeAuth = "auth"
)

// Source identifier for events originating from the identity service.
const SourceIdentityService = "identity-service"

// publishTimeout bounds how long a publish may hold up the operation that
// triggered it. Event delivery never fails a user-facing operation.
const publishTimeout = 5 * time.Second

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// PasswordResetRequestedData is the payload for a password_reset_requested
// event. The notification service turns it into an email carrying the reset
// token.
type PasswordResetRequestedData struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PasswordChangedData is the payload for a password_changed event.
type PasswordChangedData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// EmailVerifiedData is the payload for an email_verified event.
type EmailVerifiedData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// VerificationRequestedData is the payload carried alongside registration
// and resend flows so the notification service can email the verification
// token.
type VerificationRequestedData struct {
	UserID            string    `json:"user_id"`
	Email             string    `json:"email"`
	VerificationToken string    `json:"verification_token"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// TokenReplayedData is the payload for an auth.token_replayed event: a
// revoked refresh token was presented again, the family was revoked, and
// the audit pipeline should know.
type TokenReplayedData struct {
	UserID   string `json:"user_id"`
	FamilyID string `json:"family_id"`
	ClientIP string `json:"client_ip,omitempty"`
}

// Producer publishes identity domain events to Kafka. Every publish is
// best-effort: failures are logged by the caller and never propagate into
// the user-facing operation.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the identity service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      string(user.Role),
	}
	return p.publish(ctx, TopicUserRegistered, user.ID, AggregateTypeUser, data)
}

// PublishPasswordResetRequested publishes a password_reset_requested event.
func (p *Producer) PublishPasswordResetRequested(ctx context.Context, user *domain.User, resetToken string, expiresAt time.Time) error {
	data := PasswordResetRequestedData{
		UserID:     user.ID,
		Email:      user.Email,
		ResetToken: resetToken,
		ExpiresAt:  expiresAt,
	}
	return p.publish(ctx, TopicUserPasswordResetReq, user.ID, AggregateTypeUser, data)
}

// PublishPasswordChanged publishes a password_changed event.
func (p *Producer) PublishPasswordChanged(ctx context.Context, user *domain.User) error {
	data := PasswordChangedData{UserID: user.ID, Email: user.Email}
	return p.publish(ctx, TopicUserPasswordChanged, user.ID, AggregateTypeUser, data)
}

// PublishEmailVerified publishes an email_verified event.
func (p *Producer) PublishEmailVerified(ctx context.Context, user *domain.User) error {
	data := EmailVerifiedData{UserID: user.ID, Email: user.Email}
	return p.publish(ctx, TopicUserEmailVerified, user.ID, AggregateTypeUser, data)
}

// PublishVerificationRequested publishes the verification token for the
// notification service to deliver, on registration and on resend.
func (p *Producer) PublishVerificationRequested(ctx context.Context, user *domain.User, token string, expiresAt time.Time) error {
	data := VerificationRequestedData{
		UserID:            user.ID,
		Email:             user.Email,
		VerificationToken: token,
		ExpiresAt:         expiresAt,
	}
	return p.publish(ctx, TopicUserVerificationReq, user.ID, AggregateTypeUser, data)
}

// PublishTokenReplayed publishes an auth.token_replayed event.
func (p *Producer) PublishTokenReplayed(ctx context.Context, userID, familyID, clientIP string) error {
	data := TokenReplayedData{UserID: userID, FamilyID: familyID, ClientIP: clientIP}
	return p.publish(ctx, TopicAuthTokenReplayed, userID, AggregateTypeAuth, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceIdentityService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

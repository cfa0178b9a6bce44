package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	apperrors "github.com/carebridge/identity/pkg/errors"
	"github.com/carebridge/identity/pkg/httpclient"

	"github.com/carebridge/identity/internal/domain"
)

// Credentials is the client-side view of an issuance: the refresh token
// stays inside the cookie jar and never surfaces here.
type Credentials struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Client is a typed HTTP client for the identity API. The cookie jar gives
// it browser-equivalent refresh cookie handling, so Refresh works without
// the refresh token ever being visible to the caller.
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// NewClient creates an identity API client for the given base URL,
// e.g. "https://identity.internal:8001".
func NewClient(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.Jar = jar

	return &Client{
		http:    httpclient.New(cfg),
		baseURL: baseURL,
	}, nil
}

// --- request payloads ---

// RegisterParams are the fields for account registration.
type RegisterParams struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordPayload struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type resetRequestPayload struct {
	Email string `json:"email"`
}

type resetConfirmPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

type statusPayload struct {
	Authenticated bool         `json:"authenticated"`
	User          *domain.User `json:"user"`
}

// --- operations ---

// Register creates an account and returns the issued credentials.
func (c *Client) Register(ctx context.Context, params RegisterParams) (*Credentials, error) {
	var creds Credentials
	if err := c.call(ctx, http.MethodPost, "/api/auth/register", "", params, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Login authenticates and returns the issued credentials.
func (c *Client) Login(ctx context.Context, email, password string) (*Credentials, error) {
	var creds Credentials
	if err := c.call(ctx, http.MethodPost, "/api/auth/login", "", loginPayload{Email: email, Password: password}, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Refresh rotates the refresh cookie for a new credential pair.
func (c *Client) Refresh(ctx context.Context) (*Credentials, error) {
	var creds Credentials
	if err := c.call(ctx, http.MethodPost, "/api/auth/refresh", "", struct{}{}, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Logout revokes the session server-side.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.call(ctx, http.MethodPost, "/api/auth/logout", accessToken, struct{}{}, nil)
}

// Status resolves the current session from the access token.
func (c *Client) Status(ctx context.Context, accessToken string) (domain.Session, error) {
	var status statusPayload
	if err := c.call(ctx, http.MethodGet, "/api/auth/status", accessToken, nil, &status); err != nil {
		return domain.Anonymous(), err
	}
	if !status.Authenticated {
		return domain.Anonymous(), nil
	}
	return domain.Session{User: status.User, IsAuthenticated: true}, nil
}

// ChangePassword replaces the password; every other session dies with it.
func (c *Client) ChangePassword(ctx context.Context, accessToken, current, next string) error {
	return c.call(ctx, http.MethodPut, "/api/auth/password", accessToken,
		changePasswordPayload{CurrentPassword: current, NewPassword: next}, nil)
}

// RequestPasswordReset asks for a reset token to be delivered by email.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, "/api/auth/password-reset/request", "",
		resetRequestPayload{Email: email}, nil)
}

// ConfirmPasswordReset consumes a reset token and sets the new password.
func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return c.call(ctx, http.MethodPost, "/api/auth/password-reset/confirm", "",
		resetConfirmPayload{Token: token, NewPassword: newPassword}, nil)
}

// VerifyEmail consumes an email verification token.
func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.call(ctx, http.MethodPost, "/api/auth/verify-email", "", tokenPayload{Token: token}, nil)
}

// ResendVerification requests a fresh verification token.
func (c *Client) ResendVerification(ctx context.Context, accessToken string) error {
	return c.call(ctx, http.MethodPost, "/api/auth/verify-email/resend", accessToken, struct{}{}, nil)
}

// call performs one identity API round trip: encode the payload, send with
// optional bearer, decode the data half of the envelope into out. Non-2xx
// responses become typed errors; transport failures and 5xx both collapse
// into ErrUnavailable so callers can treat them as transient.
func (c *Client) call(ctx context.Context, method, path, accessToken string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return apperrors.Unavailable(fmt.Errorf("identity api unreachable: %w", err))
	}

	if resp.StatusCode >= 500 {
		_ = resp.Body.Close()
		return apperrors.Unavailable(fmt.Errorf("identity api returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return httpclient.ParseResponseError(resp, "identity")
	}

	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", path, err)
	}
	return nil
}

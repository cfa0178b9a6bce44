package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/carebridge/identity/pkg/errors"

	"github.com/carebridge/identity/internal/domain"
)

// refreshLead is how long before access token expiry the auto-refresher
// fires.
const refreshLead = 30 * time.Second

// Store owns the client-side session state and keeps it consistent under
// concurrent operations. Each operation takes a sequence number when it
// starts; a completion only commits if no newer operation has started since,
// so a slow Login finishing after a Logout cannot resurrect the session.
type Store struct {
	client *Client
	logger *slog.Logger

	mu          sync.Mutex
	session     domain.Session
	accessToken string
	expiresAt   time.Time
	seq         uint64

	observers []func(domain.Session)
}

// NewStore creates a session store over the given identity API client.
func NewStore(client *Client, logger *slog.Logger) *Store {
	return &Store{
		client:  client,
		logger:  logger,
		session: domain.Anonymous(),
	}
}

// State returns a copy of the current session.
func (s *Store) State() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AccessToken returns the current access token, or "".
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// OnChange registers an observer called after every committed state change.
// Observers run outside the lock.
func (s *Store) OnChange(fn func(domain.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Load performs the initial session resolution: resolve the current token;
// when that comes back anonymous but a token was held, try one refresh
// before settling.
func (s *Store) Load(ctx context.Context) {
	seq, token := s.begin()

	session, err := s.client.Status(ctx, token)
	if err == nil && !session.IsAuthenticated && token != "" {
		// The token may simply have expired; the refresh cookie can still
		// be live.
		if creds, refreshErr := s.client.Refresh(ctx); refreshErr == nil {
			s.commitCredentials(seq, creds)
			return
		}
	}

	if err != nil {
		s.commitFailure(seq, err)
		return
	}
	s.commitSession(seq, session)
}

// Login authenticates and commits the resulting session.
func (s *Store) Login(ctx context.Context, email, password string) error {
	seq, _ := s.begin()

	creds, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.commitFailure(seq, err)
		return err
	}
	s.commitCredentials(seq, creds)
	return nil
}

// Register creates an account and commits the resulting session.
func (s *Store) Register(ctx context.Context, params RegisterParams) error {
	seq, _ := s.begin()

	creds, err := s.client.Register(ctx, params)
	if err != nil {
		s.commitFailure(seq, err)
		return err
	}
	s.commitCredentials(seq, creds)
	return nil
}

// Logout ends the session. The local state clears even if the server call
// fails: the user asked to leave.
func (s *Store) Logout(ctx context.Context) error {
	seq, token := s.begin()

	err := s.client.Logout(ctx, token)
	if err != nil {
		s.logger.Warn("logout call failed, clearing local session anyway",
			slog.String("error", err.Error()),
		)
	}
	s.commitClear(seq, "")
	return nil
}

// Refresh rotates the credential pair and commits the result.
func (s *Store) Refresh(ctx context.Context) error {
	seq, _ := s.begin()

	creds, err := s.client.Refresh(ctx)
	if err != nil {
		s.commitFailure(seq, err)
		return err
	}
	s.commitCredentials(seq, creds)
	return nil
}

// ChangePassword updates the password. Success invalidates every session,
// including this one, so the local state clears to force re-login.
func (s *Store) ChangePassword(ctx context.Context, current, next string) error {
	seq, token := s.begin()

	if err := s.client.ChangePassword(ctx, token, current, next); err != nil {
		s.commitFailure(seq, err)
		return err
	}
	s.commitClear(seq, "")
	return nil
}

// VerifyEmail consumes a verification token and re-resolves the session so
// the verified flag lands in local state.
func (s *Store) VerifyEmail(ctx context.Context, token string) error {
	seq, accessToken := s.begin()

	if err := s.client.VerifyEmail(ctx, token); err != nil {
		s.commitFailure(seq, err)
		return err
	}

	// The JWT still carries the old verified flag; a refresh reissues it.
	if creds, err := s.client.Refresh(ctx); err == nil {
		s.commitCredentials(seq, creds)
		return nil
	}
	session, err := s.client.Status(ctx, accessToken)
	if err != nil {
		s.commitFailure(seq, err)
		return nil
	}
	s.commitSession(seq, session)
	return nil
}

// RequestPasswordReset asks for a reset email. It does not touch session
// state beyond the loading flag.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	seq, _ := s.begin()
	err := s.client.RequestPasswordReset(ctx, email)
	if err != nil {
		s.commitFailure(seq, err)
		return err
	}
	s.commitCurrent(seq)
	return nil
}

// ConfirmPasswordReset completes a reset. Like ChangePassword, success
// clears local state for re-login with the new password.
func (s *Store) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	seq, _ := s.begin()

	if err := s.client.ConfirmPasswordReset(ctx, token, newPassword); err != nil {
		s.commitFailure(seq, err)
		return err
	}
	s.commitClear(seq, "")
	return nil
}

// StartAutoRefresh keeps the access token fresh in the background, rotating
// shortly before each expiry. It runs until the context is cancelled.
func (s *Store) StartAutoRefresh(ctx context.Context) {
	go func() {
		for {
			wait := s.untilNextRefresh()

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			s.mu.Lock()
			authenticated := s.session.IsAuthenticated
			s.mu.Unlock()
			if !authenticated {
				continue
			}

			if err := s.Refresh(ctx); err != nil {
				if isDefinitiveRejection(err) {
					s.logger.Info("auto-refresh rejected, session ended")
					continue
				}
				s.logger.Warn("auto-refresh failed, will retry",
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// untilNextRefresh computes the wait before the next refresh attempt.
func (s *Store) untilNextRefresh() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.IsAuthenticated || s.expiresAt.IsZero() {
		return refreshLead
	}
	wait := time.Until(s.expiresAt) - refreshLead
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// --- commit discipline ---

// begin claims a sequence number and flips the loading flag on.
func (s *Store) begin() (uint64, string) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	token := s.accessToken
	s.session.IsLoading = true
	observers, snapshot := s.observers, s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
	return seq, token
}

// current reports whether this operation is still the newest one. Stale
// completions are discarded wholesale; the newer operation owns the state
// and the loading flag.
func (s *Store) currentLocked(seq uint64) bool {
	return s.seq == seq
}

func (s *Store) commitCredentials(seq uint64, creds *Credentials) {
	s.mu.Lock()
	if !s.currentLocked(seq) {
		s.mu.Unlock()
		return
	}
	s.session = domain.Session{User: creds.User, IsAuthenticated: true}
	s.accessToken = creds.AccessToken
	s.expiresAt = creds.ExpiresAt
	observers, snapshot := s.observers, s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

func (s *Store) commitSession(seq uint64, session domain.Session) {
	s.mu.Lock()
	if !s.currentLocked(seq) {
		s.mu.Unlock()
		return
	}
	s.session = session
	s.session.IsLoading = false
	if !session.IsAuthenticated {
		s.accessToken = ""
		s.expiresAt = time.Time{}
	}
	observers, snapshot := s.observers, s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

// commitFailure settles a failed operation. Definitive auth rejections
// clear the user; transient upstream failures keep the last-known state so
// a flaky network does not log anyone out.
func (s *Store) commitFailure(seq uint64, err error) {
	s.mu.Lock()
	if !s.currentLocked(seq) {
		s.mu.Unlock()
		return
	}
	if isDefinitiveRejection(err) {
		s.session = domain.Session{Error: err.Error()}
		s.accessToken = ""
		s.expiresAt = time.Time{}
	} else {
		s.session.IsLoading = false
		s.session.Error = err.Error()
	}
	observers, snapshot := s.observers, s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

// commitClear settles into a signed-out state.
func (s *Store) commitClear(seq uint64, errMsg string) {
	s.mu.Lock()
	if !s.currentLocked(seq) {
		s.mu.Unlock()
		return
	}
	s.session = domain.Session{Error: errMsg}
	s.accessToken = ""
	s.expiresAt = time.Time{}
	observers, snapshot := s.observers, s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

// commitCurrent clears the loading flag without changing anything else.
func (s *Store) commitCurrent(seq uint64) {
	s.mu.Lock()
	if !s.currentLocked(seq) {
		s.mu.Unlock()
		return
	}
	s.session.IsLoading = false
	observers, snapshot := s.observers, s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

func (s *Store) snapshotLocked() domain.Session {
	snapshot := s.session
	if snapshot.User != nil {
		user := *snapshot.User
		snapshot.User = &user
	}
	return snapshot
}

func notify(observers []func(domain.Session), snapshot domain.Session) {
	for _, fn := range observers {
		fn(snapshot)
	}
}

// isDefinitiveRejection distinguishes "your credentials are no good" from
// "the service is having a moment".
func isDefinitiveRejection(err error) bool {
	if errors.Is(err, apperrors.ErrUnavailable) {
		return false
	}
	return errors.Is(err, apperrors.ErrUnauthorized) ||
		errors.Is(err, apperrors.ErrForbidden) ||
		errors.Is(err, apperrors.ErrTokenExpired) ||
		errors.Is(err, apperrors.ErrTokenInvalid) ||
		errors.Is(err, apperrors.ErrTokenReplayed)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/palicode/nucleotid-back/internal/apperrors"
	"github.com/palicode/nucleotid-back/internal/logger"
	"github.com/palicode/nucleotid-back/internal/metrics"
	"github.com/palicode/nucleotid-back/internal/models"
	"github.com/palicode/nucleotid-back/internal/repository"
	"github.com/palicode/nucleotid-back/internal/token"
)

// Authority issues, extends and revokes sessions
// It keeps no mutable state: the store is the only thing concurrent calls share
type Authority struct {
	cfg      Config
	sessions repository.SessionRepo

	now     func() time.Time
	logger  logger.Logger
	metrics *metrics.Metrics
}

type Option func(*Authority)

// Clock to use instead of time.Now
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		a.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(a *Authority) {
		a.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authority) {
		a.metrics = m
	}
}

func New(cfg Config, sessions repository.SessionRepo, opts ...Option) (*Authority, error) {
	if sessions == nil {
		return nil, errors.New("session repo must not be nil")
	}

	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	a := &Authority{
		cfg:      cfg,
		sessions: sessions,
		now:      time.Now,
		logger:   logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Config the authority works with, defaults filled
func (a *Authority) Config() Config {
	return a.cfg
}

// Token timestamps are epoch milliseconds, so is everything the authority compares them with
func (a *Authority) clock() time.Time {
	return a.now().Truncate(time.Millisecond)
}

// Open new session for already authenticated user
func (a *Authority) NewSession(ctx context.Context, userID int64) (models.TokenPair, error) {
	var pair models.TokenPair
	now := a.clock()

	session, err := a.sessions.CreateSession(ctx, userID, now)
	if err != nil {
		a.logger.Error("Failed to create session", "user_id", userID, "error", err)
		return pair, fmt.Errorf("can't create session. Err: %w", err)
	}

	access, err := a.issueAccess(session, now)
	if err != nil {
		return pair, err
	}

	refresh, err := token.Encode(token.RefreshPayload{UserID: session.UserID, SessionID: session.ID}, a.cfg.RefreshSigningKey())
	if err != nil {
		return pair, err
	}

	a.metrics.SessionCreated()
	a.logger.Debug("Session created", "user_id", userID, "session", session.Prefix())

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: refresh},
	}, nil
}

// Issue new access token for the session the refresh token belongs to
//
// Checks run in order and the first failing one decides the error:
// token format, header and type, payload, signature, session existence, refresh throttling.
// A throttled refresh returns *apperrors.TooSoonError
func (a *Authority) ExtendSession(ctx context.Context, refreshToken string) (models.IssuedToken, error) {
	access, err := a.extendSession(ctx, refreshToken)
	if err != nil {
		a.metrics.RefreshFailed(failureReason(err))
		return access, err
	}

	a.metrics.SessionExtended()
	return access, nil
}

func (a *Authority) extendSession(ctx context.Context, refreshToken string) (models.IssuedToken, error) {
	payload, err := token.ParseRefresh(refreshToken, a.cfg.RefreshSigningKey())
	if err != nil {
		return models.IssuedToken{}, err
	}

	session, err := a.ownedSession(ctx, payload)
	if err != nil {
		return models.IssuedToken{}, err
	}

	now := a.clock()
	if now.Sub(session.RefreshedAt) < a.cfg.MinValidity {
		return models.IssuedToken{}, a.tooSoon(session, now)
	}

	// The store repeats the throttle check atomically: concurrent refreshes see each other there
	touched, err := a.sessions.TouchSession(ctx, session.ID, now, a.cfg.MinValidity)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrTooSoon):
		return models.IssuedToken{}, a.tooSoon(touched, now)
	case errors.Is(err, apperrors.ErrSessionNotFound):
		// Revoked between lookup and touch
		return models.IssuedToken{}, apperrors.ErrSessionRevoked
	default:
		a.logger.Error("Failed to touch session", "session", session.Prefix(), "error", err)
		return models.IssuedToken{}, err
	}

	a.logger.Debug("Session extended", "user_id", touched.UserID, "session", touched.Prefix())

	return a.issueAccess(touched, now)
}

// Revoke the session the access token was issued for
// Fails with apperrors.ErrSessionNotFound when it is gone already
func (a *Authority) Revoke(ctx context.Context, identity models.Identity) error {
	if err := a.checkIdentity(identity); err != nil {
		return err
	}

	n, err := a.sessions.DeleteSessionByPrefix(ctx, identity.SessionPrefix, identity.UserID)
	if err != nil {
		a.logger.Error("Failed to revoke session", "user_id", identity.UserID, "error", err)
		return err
	}
	if n == 0 {
		return apperrors.ErrSessionNotFound
	}

	a.metrics.SessionsRevoked("revoke", n)
	a.logger.Debug("Session revoked", "user_id", identity.UserID, "session", identity.SessionPrefix)

	return nil
}

// Revoke every session of the access token owner, the current one included
// Returns how many sessions were deleted, zero is not an error
func (a *Authority) RevokeAll(ctx context.Context, identity models.Identity) (int64, error) {
	if err := a.checkIdentity(identity); err != nil {
		return 0, err
	}

	n, err := a.sessions.DeleteAllSessionsForUser(ctx, identity.UserID)
	if err != nil {
		a.logger.Error("Failed to revoke all sessions", "user_id", identity.UserID, "error", err)
		return 0, err
	}

	a.metrics.SessionsRevoked("revoke_all", n)
	a.logger.Debug("All sessions revoked", "user_id", identity.UserID, "count", n)

	return n, nil
}

// Close the session with its own refresh token
// The token is checked the same way ExtendSession does, without throttling
func (a *Authority) Logout(ctx context.Context, refreshToken string) error {
	payload, err := token.ParseRefresh(refreshToken, a.cfg.RefreshSigningKey())
	if err != nil {
		return err
	}

	n, err := a.sessions.DeleteSession(ctx, payload.SessionID, payload.UserID)
	if err != nil {
		a.logger.Error("Failed to delete session", "user_id", payload.UserID, "error", err)
		return err
	}
	if n == 0 {
		return apperrors.ErrSessionRevoked
	}

	a.metrics.SessionsRevoked("logout", n)
	a.logger.Debug("Session closed", "user_id", payload.UserID, "session", models.SessionPrefix(payload.SessionID))

	return nil
}

// Session the refresh token points to
// Missing session and session of another user are the same to the caller
func (a *Authority) ownedSession(ctx context.Context, payload token.RefreshPayload) (models.Session, error) {
	session, err := a.sessions.GetSession(ctx, payload.SessionID)

	switch {
	case err == nil && session.UserID == payload.UserID:
		return session, nil
	case err == nil, errors.Is(err, apperrors.ErrSessionNotFound):
		return models.Session{}, apperrors.ErrSessionRevoked
	default:
		a.logger.Error("Failed to get session", "user_id", payload.UserID, "error", err)
		return models.Session{}, err
	}
}

func (a *Authority) tooSoon(session models.Session, now time.Time) *apperrors.TooSoonError {
	retryAt := session.RefreshedAt.Add(a.cfg.MinValidity)
	return &apperrors.TooSoonError{
		RefreshedAt: session.RefreshedAt,
		RetryAt:     retryAt,
		RetryAfter:  retryAt.Sub(now),
	}
}

func (a *Authority) checkIdentity(identity models.Identity) error {
	if !identity.Authenticated {
		return apperrors.ErrNotAuthenticated
	}
	if a.clock().After(identity.NotAfter) {
		return apperrors.ErrAccessTokenExpired
	}
	return nil
}

func (a *Authority) issueAccess(session models.Session, now time.Time) (models.IssuedToken, error) {
	payload := token.AccessPayload{
		UserID:        session.UserID,
		SessionPrefix: session.Prefix(),
		NotAfter:      now.Add(a.cfg.MaxValidity),
		NotBefore:     now.Add(a.cfg.MinValidity),
	}

	access, err := token.Encode(payload, a.cfg.AccessSigningKey())
	if err != nil {
		return models.IssuedToken{}, err
	}

	return models.IssuedToken{Value: access, ExpiresAt: payload.NotAfter}, nil
}

// Metric label for the error
func failureReason(err error) string {
	reasons := []struct {
		err    error
		reason string
	}{
		{apperrors.ErrMalformedToken, "malformed_token"},
		{apperrors.ErrInvalidEncoding, "invalid_encoding"},
		{apperrors.ErrUnsupportedAlgorithm, "unsupported_algorithm"},
		{apperrors.ErrWrongTokenType, "wrong_token_type"},
		{apperrors.ErrInvalidPayload, "invalid_payload"},
		{apperrors.ErrInvalidSignature, "invalid_signature"},
		{apperrors.ErrSessionRevoked, "session_revoked"},
		{apperrors.ErrTooSoon, "too_soon"},
		{apperrors.ErrStoreUnavailable, "store_unavailable"},
	}

	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}

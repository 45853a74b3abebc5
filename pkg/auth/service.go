package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/pkg/observability"
)

// CacheInvalidator is the hook into authorization caching. Account changes
// that may alter grants call it before reporting success.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context) error
}

// Service implements the session and token lifecycle on top of the stores.
type Service struct {
	users    UserStore
	sessions SessionStore
	signer   *TokenSigner
	reset    *ResetManager
	rbac     CacheInvalidator

	refreshTTL time.Duration
	now        func() time.Time
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches metric collectors.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithResetManager enables password-reset flows.
func WithResetManager(rm *ResetManager) ServiceOption {
	return func(s *Service) { s.reset = rm }
}

// WithCacheInvalidator wires account mutations to authorization caching.
func WithCacheInvalidator(inv CacheInvalidator) ServiceOption {
	return func(s *Service) { s.rbac = inv }
}

// NewService builds the auth service.
func NewService(users UserStore, sessions SessionStore, signer *TokenSigner, refreshTTL time.Duration, opts ...ServiceOption) *Service {
	s := &Service{
		users:      users,
		sessions:   sessions,
		signer:     signer,
		refreshTTL: refreshTTL,
		now:        time.Now,
		logger:     observability.NewLogger("info"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate verifies a username/password pair. Every failure surfaces
// as ErrInvalidCredentials so callers cannot probe which part was wrong.
// The organization's license must be active.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		s.logger.WithField("username", username).Debug("login for unknown username")
		return nil, ErrInvalidCredentials
	}
	if user.Status != StatusActive {
		s.logger.WithField("user_id", user.ID).Debug("login for inactive user")
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(user.PasswordHash, password) {
		s.logger.WithField("user_id", user.ID).Debug("login with wrong password")
		return nil, ErrInvalidCredentials
	}
	org, err := s.users.GetOrganization(ctx, user.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("check organization: %w", err)
	}
	if org.LicenseStatus != LicenseActive {
		return nil, ErrLicenseInactive
	}

	now := s.now()
	if err := s.users.StampLastLogin(ctx, user.ID, now); err != nil {
		// Losing the stamp should not fail the login.
		s.logger.WithError(err).Warn("last login stamp failed")
	}
	user.LastLoginAt = &now
	return user, nil
}

// RegisterParams are the inputs to account creation.
type RegisterParams struct {
	Username       string
	Email          string
	Password       string
	FirstName      string
	LastName       string
	OrganizationID int64
	RoleID         *int64
}

// Register creates an account. Username and email collisions return their
// typed errors. A successful registration invalidates cached authorization
// decisions because new groupings may now exist.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*User, error) {
	hash, err := HashPassword(params.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Username:       params.Username,
		Email:          params.Email,
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		PasswordHash:   hash,
		OrganizationID: params.OrganizationID,
		RoleID:         params.RoleID,
		Status:         StatusActive,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]any{"user_id": user.ID, "org_id": user.OrganizationID}).Info("user registered")
	if s.rbac != nil {
		if err := s.rbac.InvalidateCache(ctx); err != nil {
			return nil, fmt.Errorf("invalidate after registration: %w", err)
		}
	}
	return user, nil
}

// CreateSession opens a session for an authenticated user and mints the
// initial token pair.
func (s *Service) CreateSession(ctx context.Context, user *User, clientIP, userAgent string) (*TokenPair, error) {
	token, hash, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	session := &Session{
		UserID:           user.ID,
		RefreshTokenHash: hash,
		RefreshExpiresAt: now.Add(s.refreshTTL),
		IssuedAt:         now,
		ClientIP:         clientIP,
		UserAgent:        userAgent,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	access, accessExp, err := s.signer.Sign(user, session.ID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SessionsCreatedTotal.Inc()
	}
	s.logger.WithFields(map[string]any{"user_id": user.ID, "session_id": session.ID}).Info("session created")
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     token,
		RefreshExpiresAt: session.RefreshExpiresAt,
		SessionID:        session.ID,
	}, nil
}

// RefreshSession rotates the refresh token and mints a new token pair. The
// presented token is single-use: rotation is a compare-and-swap on its
// hash, so of two concurrent refreshes exactly one succeeds and the other
// gets ErrInvalidRefreshToken.
func (s *Service) RefreshSession(ctx context.Context, sessionID int64, presented string) (*TokenPair, error) {
	fail := func(status string, err error) (*TokenPair, error) {
		if s.metrics != nil {
			s.metrics.SessionRefreshesTotal.WithLabelValues(status).Inc()
		}
		return nil, err
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fail("not_found", err)
	}
	now := s.now()
	if session.Revoked() {
		return fail("revoked", ErrSessionRevoked)
	}
	if session.RefreshExpired(now) {
		return fail("expired", ErrRefreshExpired)
	}
	if HashRefreshToken(presented) != session.RefreshTokenHash {
		s.logger.WithField("session_id", sessionID).Warn("refresh token mismatch")
		return fail("mismatch", ErrInvalidRefreshToken)
	}

	user, err := s.users.GetUser(ctx, session.UserID)
	if err != nil {
		return fail("user_missing", err)
	}

	newToken, newHash, err := GenerateRefreshToken()
	if err != nil {
		return fail("error", err)
	}
	expiresAt := now.Add(s.refreshTTL)
	if err := s.sessions.RotateRefreshToken(ctx, sessionID, session.RefreshTokenHash, newHash, expiresAt, now); err != nil {
		return fail("lost_race", err)
	}

	access, accessExp, err := s.signer.Sign(user, sessionID)
	if err != nil {
		return fail("error", err)
	}
	if s.metrics != nil {
		s.metrics.SessionRefreshesTotal.WithLabelValues("ok").Inc()
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newToken,
		RefreshExpiresAt: expiresAt,
		SessionID:        sessionID,
	}, nil
}

// RevokeSession ends a session. Revoking twice succeeds and keeps the
// first revocation timestamp.
func (s *Service) RevokeSession(ctx context.Context, sessionID int64) error {
	if err := s.sessions.RevokeSession(ctx, sessionID, s.now()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SessionsRevokedTotal.Inc()
	}
	s.logger.WithField("session_id", sessionID).Info("session revoked")
	return nil
}

// ResolvePrincipal turns a bearer token into a live principal. Every
// failure collapses to ErrUnauthenticated; the precise cause is only
// logged. An access token is valid only while its session is live: not
// revoked, refresh window open, and still belonging to the same user.
func (s *Service) ResolvePrincipal(ctx context.Context, bearer string) (*Principal, error) {
	claims, err := s.signer.Verify(bearer)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		s.logger.WithField("session_id", claims.SessionID).Debug("token references missing session")
		return nil, ErrUnauthenticated
	}
	if session.UserID != userID {
		s.logger.WithFields(map[string]any{"session_id": session.ID, "user_id": userID}).Warn("token user does not own session")
		return nil, ErrUnauthenticated
	}
	now := s.now()
	if session.Revoked() {
		return nil, ErrUnauthenticated
	}
	if session.RefreshExpired(now) {
		return nil, ErrUnauthenticated
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	if user.Status != StatusActive {
		return nil, ErrUnauthenticated
	}

	return &Principal{
		UserID:         user.ID,
		SessionID:      session.ID,
		OrganizationID: user.OrganizationID,
		RoleID:         user.RoleID,
		Username:       user.Username,
		Status:         user.Status,
	}, nil
}

// RequestPasswordReset issues a reset token for the account behind the
// email. It returns ("", nil) both for unknown emails and when the user is
// rate limited, so the endpoint's response cannot be used to probe for
// accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if s.reset == nil {
		return "", fmt.Errorf("password reset is not configured")
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		s.logger.Debug("password reset for unknown email")
		if s.metrics != nil {
			s.metrics.PasswordResetsRequested.WithLabelValues("unknown_email").Inc()
		}
		return "", nil
	}
	token, err := s.reset.Issue(ctx, user.ID)
	if err != nil {
		return "", err
	}
	outcome := "issued"
	if token == "" {
		outcome = "rate_limited"
		s.logger.WithField("user_id", user.ID).Warn("password reset rate limited")
	}
	if s.metrics != nil {
		s.metrics.PasswordResetsRequested.WithLabelValues(outcome).Inc()
	}
	return token, nil
}

// ResetPassword redeems a reset token, replaces the password and revokes
// every live session of the user.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if s.reset == nil {
		return fmt.Errorf("password reset is not configured")
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	userID, err := s.reset.Consume(ctx, token)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.sessions.RevokeUserSessions(ctx, userID, s.now()); err != nil {
		return err
	}
	s.logger.WithField("user_id", userID).Info("password reset completed")
	return nil
}

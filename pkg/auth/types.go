// Package auth implements the session and token lifecycle: password login,
// access JWTs, rotating single-use refresh tokens, revocation, principal
// resolution and one-shot password-reset tokens.
package auth

import (
	"errors"
	"time"
)

// User statuses.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// Organization license statuses.
const (
	LicenseActive    = "active"
	LicenseSuspended = "suspended"
	LicenseExpired   = "expired"
)

// User is an account within one organization. The password hash never
// leaves this package.
type User struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	PasswordHash   string     `json:"-"`
	OrganizationID int64      `json:"organization_id"`
	RoleID         *int64     `json:"role_id,omitempty"`
	Status         string     `json:"status"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

// Organization is a tenant.
type Organization struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	LicenseStatus string `json:"license_status"`
}

// Session is one login. Only the SHA-256 hash of the refresh token is
// stored; the plaintext exists solely in the client's hands.
type Session struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	RefreshTokenHash string     `json:"-"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	IssuedAt         time.Time  `json:"issued_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	LastRefreshedAt  *time.Time `json:"last_refreshed_at,omitempty"`
	ClientIP         string     `json:"client_ip,omitempty"`
	UserAgent        string     `json:"user_agent,omitempty"`
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// RefreshExpired reports whether the refresh window has closed.
func (s *Session) RefreshExpired(now time.Time) bool {
	return !now.Before(s.RefreshExpiresAt)
}

// Principal is the authenticated identity resolved from a bearer token.
// Its lifetime is one request.
type Principal struct {
	UserID         int64
	SessionID      int64
	OrganizationID int64
	RoleID         *int64
	Username       string
	Status         string
}

// TokenPair is what a login or refresh hands back to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        int64     `json:"session_id"`
}

var (
	// ErrInvalidCredentials is returned for any login failure. It never
	// distinguishes a wrong password from an unknown username.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is returned when a bearer token cannot be
	// resolved to a live principal, for any reason.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked is returned when operating on a revoked session.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrRefreshExpired is returned when the refresh window has closed.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrInvalidRefreshToken is returned when a presented refresh token
	// does not match the session's current one, including the case where
	// a concurrent refresh rotated it first.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameExists is returned when registering a taken username.
	ErrUsernameExists = errors.New("username already exists")
	// ErrEmailExists is returned when registering a taken email.
	ErrEmailExists = errors.New("email already exists")
	// ErrOrganizationNotFound is returned when a tenant id does not exist.
	ErrOrganizationNotFound = errors.New("organization not found")
	// ErrLicenseInactive is returned when the tenant's license does not
	// permit logins.
	ErrLicenseInactive = errors.New("organization license is not active")
	// ErrResetTokenInvalid is returned when a password-reset token is
	// unknown, expired or already consumed.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
)

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// UserStore persists accounts and organizations.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	StampLastLogin(ctx context.Context, userID int64, at time.Time) error
	GetOrganization(ctx context.Context, orgID int64) (*Organization, error)
}

// SessionStore persists sessions. RotateRefreshToken is the only mutation
// racing with itself; it is a compare-and-swap on the stored hash.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID int64) (*Session, error)
	RotateRefreshToken(ctx context.Context, sessionID int64, oldHash, newHash string, expiresAt, refreshedAt time.Time) error
	RevokeSession(ctx context.Context, sessionID int64, at time.Time) error
	RevokeUserSessions(ctx context.Context, userID int64, at time.Time) error
}

// PostgresStore implements UserStore and SessionStore on one handle.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `user_id, username, email, first_name, last_name, password_hash,
	organization_id, role_id, status, last_login_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &u.OrganizationID, &u.RoleID, &u.Status, &u.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts an account and fills in its id. Username and email
// collisions map to their typed errors via the violated constraint name.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, first_name, last_name, password_hash, organization_id, role_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING user_id`,
		user.Username, user.Email, user.FirstName, user.LastName,
		user.PasswordHash, user.OrganizationID, user.RoleID, user.Status,
	).Scan(&user.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "email") {
			return ErrEmailExists
		}
		return ErrUsernameExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser loads an account by id.
func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
}

// GetUserByUsername loads an account by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// GetUserByEmail loads an account by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// UpdatePassword replaces the stored password hash.
func (s *PostgresStore) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1 WHERE user_id = $2`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// StampLastLogin records a successful authentication.
func (s *PostgresStore) StampLastLogin(ctx context.Context, userID int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1 WHERE user_id = $2`, at, userID); err != nil {
		return fmt.Errorf("stamp last login: %w", err)
	}
	return nil
}

// GetOrganization loads a tenant by id.
func (s *PostgresStore) GetOrganization(ctx context.Context, orgID int64) (*Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT organization_id, organization_name, license_status
		 FROM organizations WHERE organization_id = $1`, orgID,
	).Scan(&org.ID, &org.Name, &org.LicenseStatus)
	if err == sql.ErrNoRows {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select organization: %w", err)
	}
	return &org, nil
}

// CreateSession inserts a session row and fills in its id.
func (s *PostgresStore) CreateSession(ctx context.Context, session *Session) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sessions (user_id, refresh_token_hash, refresh_expires_at, issued_at, client_ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING session_id`,
		session.UserID, session.RefreshTokenHash, session.RefreshExpiresAt,
		session.IssuedAt, session.ClientIP, session.UserAgent,
	).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID int64) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, refresh_token_hash, refresh_expires_at,
		        issued_at, revoked_at, last_refreshed_at, client_ip, user_agent
		 FROM sessions WHERE session_id = $1`, sessionID,
	).Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &sess.RefreshExpiresAt,
		&sess.IssuedAt, &sess.RevokedAt, &sess.LastRefreshedAt, &sess.ClientIP, &sess.UserAgent)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

// RotateRefreshToken swaps the stored hash only if it still equals oldHash
// and the session is live. When two refreshes race, exactly one update
// matches; the loser sees zero rows and gets ErrInvalidRefreshToken.
func (s *PostgresStore) RotateRefreshToken(ctx context.Context, sessionID int64, oldHash, newHash string, expiresAt, refreshedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET refresh_token_hash = $1, refresh_expires_at = $2, last_refreshed_at = $3
		 WHERE session_id = $4 AND refresh_token_hash = $5 AND revoked_at IS NULL`,
		newHash, expiresAt, refreshedAt, sessionID, oldHash,
	)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidRefreshToken
	}
	return nil
}

// RevokeSession stamps revoked_at. Revoking an already revoked session
// keeps the original timestamp and succeeds.
func (s *PostgresStore) RevokeSession(ctx context.Context, sessionID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE session_id = $2 AND revoked_at IS NULL`,
		at, sessionID,
	)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing session from an already revoked one.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM sessions WHERE session_id = $1)`, sessionID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if !exists {
			return ErrSessionNotFound
		}
	}
	return nil
}

// RevokeUserSessions revokes every live session of a user, used after a
// password reset.
func (s *PostgresStore) RevokeUserSessions(ctx context.Context, userID int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`,
		at, userID,
	); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

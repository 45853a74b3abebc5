package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims carried by an access token. sub holds the
// user id as a decimal string.
type AccessClaims struct {
	SessionID      int64  `json:"session_id"`
	OrganizationID int64  `json:"org_id"`
	RoleID         *int64 `json:"role_id,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject: %w", err)
	}
	return id, nil
}

// TokenSigner mints and verifies HS256 access tokens.
type TokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// SignerOption configures a TokenSigner.
type SignerOption func(*TokenSigner)

// WithSignerClock overrides the clock, for tests.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(ts *TokenSigner) { ts.now = now }
}

// NewTokenSigner builds a signer. secret must be kept out of logs.
func NewTokenSigner(secret []byte, issuer string, ttl time.Duration, opts ...SignerOption) *TokenSigner {
	ts := &TokenSigner{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// Sign mints an access token for the user bound to the session.
func (ts *TokenSigner) Sign(user *User, sessionID int64) (string, time.Time, error) {
	now := ts.now()
	expiresAt := now.Add(ts.ttl)
	claims := AccessClaims{
		SessionID:      sessionID,
		OrganizationID: user.OrganizationID,
		RoleID:         user.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    ts.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates an access token. Only HS256 is accepted.
func (ts *TokenSigner) Verify(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return ts.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ts.issuer),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.Subject == "" || claims.SessionID == 0 {
		return nil, fmt.Errorf("%w: incomplete claims", ErrUnauthenticated)
	}
	return claims, nil
}

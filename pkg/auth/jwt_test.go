package auth

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testSigner(now time.Time) *TokenSigner {
	return NewTokenSigner(testSecret, "meridian-test", 15*time.Minute,
		WithSignerClock(func() time.Time { return now }))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := testSigner(now)
	roleID := int64(3)
	user := &User{ID: 42, OrganizationID: 7, RoleID: &roleID}

	token, expiresAt, err := signer.Sign(user, 99)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if !expiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expiry = %v, want %v", expiresAt, now.Add(15*time.Minute))
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	userID, err := claims.UserID()
	if err != nil || userID != 42 {
		t.Fatalf("user id = %d err=%v, want 42", userID, err)
	}
	if claims.SessionID != 99 || claims.OrganizationID != 7 {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.RoleID == nil || *claims.RoleID != 3 {
		t.Fatalf("role id claim = %v, want 3", claims.RoleID)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := testSigner(issued)
	token, _, err := signer.Sign(&User{ID: 1, OrganizationID: 1}, 5)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	late := testSigner(issued.Add(16 * time.Minute))
	if _, err := late.Verify(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	now := time.Now()
	signer := testSigner(now)
	token, _, err := signer.Sign(&User{ID: 1, OrganizationID: 1}, 5)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	other := NewTokenSigner([]byte("another-secret-another-secret-ab"), "meridian-test", 15*time.Minute,
		WithSignerClock(func() time.Time { return now }))
	if _, err := other.Verify(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for wrong secret, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	signer := testSigner(time.Now())
	if _, err := signer.Verify("not.a.jwt"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := signer.Verify(""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyWrongIssuer(t *testing.T) {
	now := time.Now()
	signer := testSigner(now)
	token, _, err := signer.Sign(&User{ID: 1, OrganizationID: 1}, 5)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	other := NewTokenSigner(testSecret, "someone-else", 15*time.Minute,
		WithSignerClock(func() time.Time { return now }))
	if _, err := other.Verify(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for wrong issuer, got %v", err)
	}
}

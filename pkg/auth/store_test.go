package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func setupStoreTest(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	return NewPostgresStore(db), mock, func() { db.Close() }
}

func TestRotateRefreshToken(t *testing.T) {
	store, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	now := time.Now()
	expires := now.Add(time.Hour)
	mock.ExpectExec(`UPDATE sessions`).
		WithArgs("newhash", expires, now, int64(5), "oldhash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.RotateRefreshToken(context.Background(), 5, "oldhash", "newhash", expires, now); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRotateRefreshTokenLostRace(t *testing.T) {
	store, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	// Zero rows matched: the stored hash already changed, either by a
	// concurrent refresh or a replayed old token.
	mock.ExpectExec(`UPDATE sessions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RotateRefreshToken(context.Background(), 5, "stale", "new", time.Now(), time.Now())
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRevokeSessionIdempotent(t *testing.T) {
	store, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectExec(`UPDATE sessions SET revoked_at`).
		WithArgs(now, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	// Already revoked: no row updated but the session exists, so revoking
	// again succeeds.
	if err := store.RevokeSession(context.Background(), 5, now); err != nil {
		t.Fatalf("second revoke must succeed, got %v", err)
	}
}

func TestRevokeSessionMissing(t *testing.T) {
	store, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectExec(`UPDATE sessions SET revoked_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := store.RevokeSession(context.Background(), 999, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	store, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})

	err := store.CreateUser(context.Background(), &User{Username: "dup", Email: "a@b.c"})
	if !errors.Is(err, ErrUsernameExists) {
		t.Fatalf("expected ErrUsernameExists, got %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	err := store.CreateUser(context.Background(), &User{Username: "x", Email: "dup@b.c"})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT session_id`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))

	_, err := store.GetSession(context.Background(), 404)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

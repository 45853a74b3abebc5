package sso

import (
	"context"
	"testing"
	"time"

	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/observability"
)

type fakeUserStore struct {
	byEmail map[string]*auth.User
	created []*auth.User
	nextID  int64
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: make(map[string]*auth.User), nextID: 1}
}

func (f *fakeUserStore) CreateUser(_ context.Context, user *auth.User) error {
	user.ID = f.nextID
	f.nextID++
	cp := *user
	f.byEmail[cp.Email] = &cp
	f.created = append(f.created, &cp)
	return nil
}

func (f *fakeUserStore) GetUser(_ context.Context, id int64) (*auth.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (f *fakeUserStore) GetUserByUsername(_ context.Context, username string) (*auth.User, error) {
	for _, u := range f.byEmail {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

func (f *fakeUserStore) UpdatePassword(context.Context, int64, string) error { return nil }

func (f *fakeUserStore) StampLastLogin(context.Context, int64, time.Time) error { return nil }

func (f *fakeUserStore) GetOrganization(_ context.Context, id int64) (*auth.Organization, error) {
	return &auth.Organization{ID: id, LicenseStatus: auth.LicenseActive}, nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) InvalidateCache(context.Context) error {
	c.calls++
	return nil
}

func TestResolveExistingUser(t *testing.T) {
	store := newFakeUserStore()
	store.byEmail["alice@example.com"] = &auth.User{
		ID: 7, Email: "alice@example.com", Status: auth.StatusActive, OrganizationID: 3,
	}
	inv := &countingInvalidator{}
	p := NewProvisioner(store, inv, 1, observability.NewTestLogger())

	user, err := p.Resolve(context.Background(), &Identity{Subject: "sub-1", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if user.ID != 7 {
		t.Fatalf("resolved wrong user: %+v", user)
	}
	if len(store.created) != 0 {
		t.Fatal("existing user must not be re-provisioned")
	}
	if inv.calls != 0 {
		t.Fatal("no invalidation needed for existing user")
	}
}

func TestResolveProvisionsNewUser(t *testing.T) {
	store := newFakeUserStore()
	inv := &countingInvalidator{}
	p := NewProvisioner(store, inv, 5, observability.NewTestLogger())

	user, err := p.Resolve(context.Background(), &Identity{
		Subject: "sub-2", Email: "bob@example.com", FirstName: "Bob", LastName: "Jones",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if user.ID == 0 || user.OrganizationID != 5 || user.Status != auth.StatusActive {
		t.Fatalf("provisioned user = %+v", user)
	}
	if user.PasswordHash == "" {
		t.Fatal("provisioned user must carry an unguessable password hash")
	}
	if inv.calls != 1 {
		t.Fatal("provisioning must invalidate cached decisions")
	}
}

func TestResolveInactiveUser(t *testing.T) {
	store := newFakeUserStore()
	store.byEmail["alice@example.com"] = &auth.User{
		ID: 7, Email: "alice@example.com", Status: auth.StatusSuspended,
	}
	p := NewProvisioner(store, nil, 1, observability.NewTestLogger())

	if _, err := p.Resolve(context.Background(), &Identity{Email: "alice@example.com"}); err == nil {
		t.Fatal("suspended account must not resolve")
	}
}

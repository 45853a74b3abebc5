package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/observability"
)

// Provisioner resolves a verified identity to a local account, creating one
// on first login. Provisioned accounts get an unguessable password so the
// password login path stays closed until a reset.
type Provisioner struct {
	users       auth.UserStore
	invalidator auth.CacheInvalidator
	orgID       int64
	logger      *observability.Logger
}

// NewProvisioner builds a provisioner placing new accounts in orgID.
func NewProvisioner(users auth.UserStore, invalidator auth.CacheInvalidator, orgID int64, logger *observability.Logger) *Provisioner {
	return &Provisioner{users: users, invalidator: invalidator, orgID: orgID, logger: logger}
}

// Resolve returns the local account for the identity, creating it when
// the email is unknown.
func (p *Provisioner) Resolve(ctx context.Context, identity *Identity) (*auth.User, error) {
	user, err := p.users.GetUserByEmail(ctx, identity.Email)
	if err == nil {
		if user.Status != auth.StatusActive {
			return nil, auth.ErrUnauthenticated
		}
		return user, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup sso user: %w", err)
	}

	placeholder, err := randomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(placeholder)
	if err != nil {
		return nil, err
	}
	user = &auth.User{
		Username:       identity.Email,
		Email:          identity.Email,
		FirstName:      identity.FirstName,
		LastName:       identity.LastName,
		PasswordHash:   hash,
		OrganizationID: p.orgID,
		Status:         auth.StatusActive,
	}
	if err := p.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("provision sso user: %w", err)
	}
	p.logger.WithFields(map[string]any{
		"user_id": user.ID,
		"subject": identity.Subject,
	}).Info("sso user provisioned")

	if p.invalidator != nil {
		if err := p.invalidator.InvalidateCache(ctx); err != nil {
			return nil, fmt.Errorf("invalidate after provisioning: %w", err)
		}
	}
	return user, nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate placeholder password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

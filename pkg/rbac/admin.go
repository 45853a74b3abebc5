package rbac

import (
	"context"
	"fmt"

	"github.com/meridianhq/meridian/pkg/observability"
)

// Admin applies policy mutations and keeps cached decisions coherent: every
// successful mutation invalidates the decision cache before returning, so a
// permission change is observable no later than the mutation's completion.
type Admin struct {
	store  *Store
	svc    *Service
	logger *observability.Logger
}

// NewAdmin wires the write store to the enforcement service.
func NewAdmin(store *Store, svc *Service, logger *observability.Logger) *Admin {
	if logger == nil {
		logger = observability.NewLogger("info")
	}
	return &Admin{store: store, svc: svc, logger: logger}
}

func (a *Admin) invalidate(ctx context.Context, op string) error {
	if err := a.svc.InvalidateCache(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateRole creates an organization-scoped role.
func (a *Admin) CreateRole(ctx context.Context, role *Role) error {
	if err := a.store.CreateRole(ctx, role); err != nil {
		return err
	}
	a.logger.WithFields(map[string]any{"role_id": role.ID, "org_id": role.OrganizationID}).Info("role created")
	return a.invalidate(ctx, "create role")
}

// DeleteRole removes a role and its grants once no user holds it.
func (a *Admin) DeleteRole(ctx context.Context, roleID int64) error {
	if err := a.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	a.logger.WithField("role_id", roleID).Info("role deleted")
	return a.invalidate(ctx, "delete role")
}

// CreatePermission adds a catalog entry.
func (a *Admin) CreatePermission(ctx context.Context, perm *Permission) error {
	if err := a.store.CreatePermission(ctx, perm); err != nil {
		return err
	}
	return a.invalidate(ctx, "create permission")
}

// GrantPermission attaches a permission to a role.
func (a *Admin) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	if err := a.store.GrantPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	a.logger.WithFields(map[string]any{"role_id": roleID, "permission_id": permissionID}).Info("permission granted")
	return a.invalidate(ctx, "grant permission")
}

// RevokePermission detaches a permission from a role.
func (a *Admin) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	if err := a.store.RevokePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	a.logger.WithFields(map[string]any{"role_id": roleID, "permission_id": permissionID}).Info("permission revoked")
	return a.invalidate(ctx, "revoke permission")
}

// AssignUserRole gives the user a role within their own organization.
func (a *Admin) AssignUserRole(ctx context.Context, userID, roleID int64) error {
	if err := a.store.AssignUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	a.logger.WithFields(map[string]any{"user_id": userID, "role_id": roleID}).Info("role assigned")
	return a.invalidate(ctx, "assign role")
}

// ClearUserRole strips the user's role.
func (a *Admin) ClearUserRole(ctx context.Context, userID int64) error {
	if err := a.store.ClearUserRole(ctx, userID); err != nil {
		return err
	}
	a.logger.WithField("user_id", userID).Info("role cleared")
	return a.invalidate(ctx, "clear role")
}

// ListRoles returns the organization's roles.
func (a *Admin) ListRoles(ctx context.Context, orgID int64) ([]Role, error) {
	return a.store.ListRoles(ctx, orgID)
}

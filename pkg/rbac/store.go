package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Store persists roles, permissions and role assignments in Postgres. It is
// the write side of the policy model; the read side is PostgresFactStore.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// CreateRole inserts a role and fills in its id. Role names are unique per
// organization.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO roles (organization_id, role_name, role_description)
		 VALUES ($1, $2, $3)
		 RETURNING role_id`,
		role.OrganizationID, role.Name, role.Description,
	).Scan(&role.ID)
	if isUniqueViolation(err) {
		return ErrRoleExists
	}
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

// GetRole loads a role by id.
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		`SELECT role_id, organization_id, role_name, role_description
		 FROM roles WHERE role_id = $1`,
		roleID,
	).Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Description)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select role: %w", err)
	}
	return &role, nil
}

// ListRoles returns all roles of an organization.
func (s *Store) ListRoles(ctx context.Context, orgID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id, organization_id, role_name, role_description
		 FROM roles WHERE organization_id = $1 ORDER BY role_name`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("select roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Description); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// DeleteRole removes a role and its grants. It refuses while any user still
// holds the role, returning ErrRoleInUse.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete role: %w", err)
	}
	defer tx.Rollback()

	var assigned int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role_id = $1`, roleID,
	).Scan(&assigned); err != nil {
		return fmt.Errorf("count role assignments: %w", err)
	}
	if assigned > 0 {
		return ErrRoleInUse
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1`, roleID,
	); err != nil {
		return fmt.Errorf("delete role grants: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE role_id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleNotFound
	}
	return tx.Commit()
}

// CreatePermission inserts a catalog entry and fills in its id.
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO permissions (permission_name, permission_description)
		 VALUES ($1, $2)
		 RETURNING permission_id`,
		perm.Name, perm.Description,
	).Scan(&perm.ID)
	if isUniqueViolation(err) {
		return ErrPermissionExists
	}
	if err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}
	return nil
}

// GetPermissionByName loads a catalog entry.
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	var perm Permission
	err := s.db.QueryRowContext(ctx,
		`SELECT permission_id, permission_name, permission_description
		 FROM permissions WHERE permission_name = $1`,
		name,
	).Scan(&perm.ID, &perm.Name, &perm.Description)
	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select permission: %w", err)
	}
	return &perm, nil
}

// GrantPermission attaches a permission to a role. The grant inherits the
// role's organization scope. Granting twice is a no-op.
func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM permissions WHERE permission_id = $1)`, permissionID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check permission: %w", err)
	}
	if !exists {
		return ErrPermissionNotFound
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, organization_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		roleID, permissionID, role.OrganizationID,
	); err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// RevokePermission detaches a permission from a role. Revoking an absent
// grant is a no-op.
func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID,
	); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

// AssignUserRole sets the user's role after verifying both belong to the
// same organization.
func (s *Store) AssignUserRole(ctx context.Context, userID, roleID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}

	var userOrg int64
	err = s.db.QueryRowContext(ctx,
		`SELECT organization_id FROM users WHERE user_id = $1`, userID,
	).Scan(&userOrg)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("select user organization: %w", err)
	}
	if userOrg != role.OrganizationID {
		return ErrRoleNotInOrganization
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET role_id = $1 WHERE user_id = $2`, roleID, userID,
	); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// ClearUserRole removes the user's role, leaving them with no permissions.
func (s *Store) ClearUserRole(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role_id = NULL WHERE user_id = $1`, userID,
	)
	if err != nil {
		return fmt.Errorf("clear role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// EnsurePermission upserts a catalog entry by name and returns its id.
func (s *Store) EnsurePermission(ctx context.Context, name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO permissions (permission_name, permission_description)
		 VALUES ($1, $2)
		 ON CONFLICT (permission_name) DO UPDATE SET permission_description = EXCLUDED.permission_description
		 RETURNING permission_id`,
		name, description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure permission %s: %w", name, err)
	}
	return id, nil
}

// EnsureRole upserts a role by (organization, name) and returns its id.
func (s *Store) EnsureRole(ctx context.Context, orgID int64, name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO roles (organization_id, role_name, role_description)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (organization_id, role_name) DO UPDATE SET role_description = EXCLUDED.role_description
		 RETURNING role_id`,
		orgID, name, description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure role %s: %w", name, err)
	}
	return id, nil
}

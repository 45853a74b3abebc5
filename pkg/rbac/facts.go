package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// FactStore loads the raw policy relations the engine is built from.
type FactStore interface {
	RolePermissionFacts(ctx context.Context) ([]RolePermissionFact, error)
	UserRoleFacts(ctx context.Context) ([]UserRoleFact, error)
}

// PostgresFactStore reads policy facts from the relational schema.
type PostgresFactStore struct {
	db *sql.DB
}

// NewPostgresFactStore wraps an open database handle.
func NewPostgresFactStore(db *sql.DB) *PostgresFactStore {
	return &PostgresFactStore{db: db}
}

const rolePermissionFactsQuery = `
SELECT rp.role_id, p.permission_name, rp.organization_id
FROM role_permissions rp
JOIN permissions p ON p.permission_id = rp.permission_id`

// RolePermissionFacts returns every role→permission grant.
func (s *PostgresFactStore) RolePermissionFacts(ctx context.Context) ([]RolePermissionFact, error) {
	rows, err := s.db.QueryContext(ctx, rolePermissionFactsQuery)
	if err != nil {
		return nil, fmt.Errorf("query role permission facts: %w", err)
	}
	defer rows.Close()

	var facts []RolePermissionFact
	for rows.Next() {
		var f RolePermissionFact
		if err := rows.Scan(&f.RoleID, &f.PermissionName, &f.OrganizationID); err != nil {
			return nil, fmt.Errorf("scan role permission fact: %w", err)
		}
		f.Action = ActionAccess
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role permission facts: %w", err)
	}
	return facts, nil
}

const userRoleFactsQuery = `
SELECT user_id, role_id, organization_id
FROM users
WHERE role_id IS NOT NULL`

// UserRoleFacts returns every user→role grouping. Users without a role are
// absent and therefore hold no permissions.
func (s *PostgresFactStore) UserRoleFacts(ctx context.Context) ([]UserRoleFact, error) {
	rows, err := s.db.QueryContext(ctx, userRoleFactsQuery)
	if err != nil {
		return nil, fmt.Errorf("query user role facts: %w", err)
	}
	defer rows.Close()

	var facts []UserRoleFact
	for rows.Next() {
		var f UserRoleFact
		if err := rows.Scan(&f.UserID, &f.RoleID, &f.OrganizationID); err != nil {
			return nil, fmt.Errorf("scan user role fact: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user role facts: %w", err)
	}
	return facts, nil
}

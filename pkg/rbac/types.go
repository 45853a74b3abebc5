// Package rbac implements role-based authorization: an in-memory policy
// model loaded from Postgres, a TTL'd decision cache in Redis, and the
// enforcement service tying them together. Every decision is scoped to an
// organization; nothing a user holds in one organization is visible in
// another.
package rbac

import (
	"errors"
	"fmt"
)

// ActionAccess is the only action currently granted or checked. The action
// dimension exists in the model and cache keys so finer-grained verbs can be
// added without a schema change.
const ActionAccess = "access"

// RolePermissionFact is one row of the role→permission grant relation.
type RolePermissionFact struct {
	RoleID         int64
	PermissionName string
	OrganizationID int64
	Action         string
}

// UserRoleFact is one row of the user→role grouping relation.
type UserRoleFact struct {
	UserID         int64
	RoleID         int64
	OrganizationID int64
}

// Role is an organization-scoped bundle of permissions. Role names are
// unique within an organization, not globally.
type Role struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
}

// Permission is a named capability from the global catalog.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

var (
	// ErrRoleNotFound is returned when a role id does not exist.
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleExists is returned when a role name is already taken within
	// the organization.
	ErrRoleExists = errors.New("role already exists in organization")
	// ErrRoleInUse is returned when deleting a role that users still hold.
	ErrRoleInUse = errors.New("role is still assigned to users")
	// ErrRoleNotInOrganization is returned when assigning a role that
	// belongs to a different organization than the user.
	ErrRoleNotInOrganization = errors.New("role does not belong to the user's organization")
	// ErrPermissionNotFound is returned when a permission id does not exist.
	ErrPermissionNotFound = errors.New("permission not found")
	// ErrPermissionExists is returned when a permission name is taken.
	ErrPermissionExists = errors.New("permission already exists")
	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = errors.New("user not found")
)

const decisionKeyPrefix = "rbac:decision:"

// DecisionKey builds the cache key for one (user, org, permission, action)
// decision.
func DecisionKey(userID, orgID int64, permission, action string) string {
	return fmt.Sprintf("%s%d:%d:%s:%s", decisionKeyPrefix, userID, orgID, permission, action)
}

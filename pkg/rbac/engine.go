package rbac

import (
	"sort"
	"sync/atomic"
)

// Engine evaluates authorization decisions against an immutable in-memory
// policy snapshot. Readers load the current snapshot through an atomic
// pointer and never observe a partially built model; LoadFacts builds the
// replacement off to the side and swaps it in one step.
type Engine struct {
	model atomic.Pointer[snapshot]
}

type grantKey struct {
	permission     string
	organizationID int64
	action         string
}

type membership struct {
	userID         int64
	organizationID int64
}

type snapshot struct {
	// grants maps a role id to the set of (permission, org, action) it
	// carries.
	grants map[int64]map[grantKey]struct{}
	// groupings maps a (user, org) pair to the roles the user holds there.
	groupings map[membership][]int64
}

func emptySnapshot() *snapshot {
	return &snapshot{
		grants:    make(map[int64]map[grantKey]struct{}),
		groupings: make(map[membership][]int64),
	}
}

// NewEngine returns an engine with an empty model. Until facts are loaded
// every evaluation denies.
func NewEngine() *Engine {
	e := &Engine{}
	e.model.Store(emptySnapshot())
	return e
}

// LoadFacts replaces the entire policy model atomically. Unknown actions
// default to ActionAccess.
func (e *Engine) LoadFacts(rolePerms []RolePermissionFact, userRoles []UserRoleFact) {
	next := emptySnapshot()
	for _, f := range rolePerms {
		action := f.Action
		if action == "" {
			action = ActionAccess
		}
		g := next.grants[f.RoleID]
		if g == nil {
			g = make(map[grantKey]struct{})
			next.grants[f.RoleID] = g
		}
		g[grantKey{permission: f.PermissionName, organizationID: f.OrganizationID, action: action}] = struct{}{}
	}
	for _, f := range userRoles {
		m := membership{userID: f.UserID, organizationID: f.OrganizationID}
		next.groupings[m] = append(next.groupings[m], f.RoleID)
	}
	e.model.Store(next)
}

// Clear drops the model back to empty.
func (e *Engine) Clear() {
	e.model.Store(emptySnapshot())
}

// Evaluate reports whether the user holds the permission in the given
// organization. A user with no roles, or roles granting nothing matching,
// is denied.
func (e *Engine) Evaluate(userID int64, permission string, orgID int64, action string) bool {
	snap := e.model.Load()
	key := grantKey{permission: permission, organizationID: orgID, action: action}
	for _, roleID := range snap.groupings[membership{userID: userID, organizationID: orgID}] {
		if _, ok := snap.grants[roleID][key]; ok {
			return true
		}
	}
	return false
}

// EffectivePermissions returns the sorted, de-duplicated permission names
// the user holds in the organization across all roles and actions.
func (e *Engine) EffectivePermissions(userID, orgID int64) []string {
	snap := e.model.Load()
	seen := make(map[string]struct{})
	for _, roleID := range snap.groupings[membership{userID: userID, organizationID: orgID}] {
		for k := range snap.grants[roleID] {
			if k.organizationID == orgID {
				seen[k.permission] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Stats reports the size of the current model, for logging after reloads.
func (e *Engine) Stats() (roles, grants, memberships int) {
	snap := e.model.Load()
	for _, g := range snap.grants {
		grants += len(g)
	}
	return len(snap.grants), grants, len(snap.groupings)
}

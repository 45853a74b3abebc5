package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/rbac"
)

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) writeRBACError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrPermissionNotFound),
		errors.Is(err, rbac.ErrUserNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rbac.ErrRoleExists),
		errors.Is(err, rbac.ErrPermissionExists),
		errors.Is(err, rbac.ErrRoleInUse):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrRoleNotInOrganization):
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.WithError(err).Error("rbac mutation failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleMyPermissions returns the caller's effective permissions within
// their organization.
func (s *Server) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w)
		return
	}
	perms, err := s.rbacSvc.UserPermissions(r.Context(), principal.UserID, principal.OrganizationID)
	if err != nil {
		s.logger.WithError(err).Error("effective permissions lookup failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleCreateRole creates a role in the caller's organization. Admins
// cannot create roles for other tenants.
func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	var req createRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	role := &rbac.Role{
		OrganizationID: principal.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
	}
	if err := s.rbacAdmin.CreateRole(r.Context(), role); err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, role)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	roles, err := s.rbacAdmin.ListRoles(r.Context(), principal.OrganizationID)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	if err := s.rbacAdmin.DeleteRole(r.Context(), roleID); err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	perm := &rbac.Permission{Name: req.Name, Description: req.Description}
	if err := s.rbacAdmin.CreatePermission(r.Context(), perm); err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, perm)
}

type grantPermissionRequest struct {
	PermissionID int64 `json:"permission_id"`
}

func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid role id")
		return
	}
	var req grantPermissionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.PermissionID == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "permission_id is required")
		return
	}
	if err := s.rbacAdmin.GrantPermission(r.Context(), roleID, req.PermissionID); err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	roleID, okRole := pathID(r, "id")
	permissionID, okPerm := pathID(r, "pid")
	if !okRole || !okPerm {
		httputil.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.rbacAdmin.RevokePermission(r.Context(), roleID, permissionID); err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req assignRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.RoleID == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "role_id is required")
		return
	}
	if err := s.rbacAdmin.AssignUserRole(r.Context(), userID, req.RoleID); err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleClearRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "id")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.rbacAdmin.ClearUserRole(r.Context(), userID); err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

// handleReload forces a synchronous policy reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.rbacSvc.ReloadPolicies(r.Context()); err != nil {
		s.logger.WithError(err).Error("manual reload failed")
		httputil.WriteError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

package api

import (
	"net/http"

	"github.com/nerrad567/warden-core/internal/auth"
)

type createRoleRequest struct {
	TenantID    string   `json:"tenant_id" validate:"max=64"`
	System      bool     `json:"system"`
	Code        string   `json:"code" validate:"required,min=2,max=64"`
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,required"`
}

// handleListRoles returns the system roles plus the tenant's own.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermRoleRead) {
		return
	}
	id := identityFrom(r.Context())
	tenantID, err := auth.ResolveTenant(id, r.URL.Query().Get("tenant_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	roles, err := s.auth.ListRoles(r.Context(), id, tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

// handleCreateRole creates a tenant role. "system": true asks for a
// system-wide role, which only superusers may create.
func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermRoleManage) {
		return
	}
	var req createRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := identityFrom(r.Context())

	tenantID := ""
	if !req.System {
		var err error
		if tenantID, err = auth.ResolveTenant(id, req.TenantID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}

	role, err := s.auth.CreateRole(r.Context(), id, auth.NewRole{
		TenantID:    tenantID,
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// handleListPermissions returns the permission catalogue.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermRoleRead) {
		return
	}
	perms, err := s.auth.ListPermissions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"count":       len(perms),
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/warden-core/internal/auth"
)

// handleListTenants returns every tenant to superusers and the caller's
// own tenant to everyone else.
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermTenantRead) {
		return
	}
	tenants, err := s.auth.ListTenants(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

// handleGetTenant returns one tenant with its enabled features.
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermTenantRead) {
		return
	}
	tenant, err := s.auth.GetTenant(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":   tenant,
		"features": auth.CapabilitiesFor(tenant),
	})
}

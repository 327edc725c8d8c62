package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/warden-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	TenantID    string   `json:"tenant_id" validate:"max=64"`
	Username    string   `json:"username" validate:"required,min=3,max=64"`
	Email       string   `json:"email" validate:"omitempty,email,max=255"`
	DisplayName string   `json:"display_name" validate:"max=100"`
	Password    string   `json:"password" validate:"required,max=128"`
	Roles       []string `json:"roles" validate:"dive,required,max=64"`
}

type updateUserRequest struct {
	Email       *string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=100"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

type assignRoleRequest struct {
	RoleID  string     `json:"role_id" validate:"required"`
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns a page of the accounts of the caller's tenant,
// or of ?tenant_id= for superusers.
//
// Query parameters:
//   - q: substring of username, email or display name
//   - role: role code held now
//   - active: true or false
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermUserRead) {
		return
	}
	id := identityFrom(r.Context())
	q := r.URL.Query()
	tenantID, err := auth.ResolveTenant(id, q.Get("tenant_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	filter := auth.AccountFilter{
		TenantID: tenantID,
		Query:    q.Get("q"),
		RoleCode: q.Get("role"),
	}
	if len(filter.Query) > 100 {
		writeBadRequest(w, "q must be at most 100 characters")
		return
	}
	if filter.Active, err = queryBool(r, "active"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if filter.Limit, err = queryInt(r, "limit", auth.DefaultAccountPageSize); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	page, err := s.auth.ListAccounts(r.Context(), id, filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":  page.Accounts,
		"count":  len(page.Accounts),
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// handleCreateUser creates an account. The password is checked against the
// tenant's policy and the tenant's user quota is enforced.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermUserManage) {
		return
	}
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := identityFrom(r.Context())
	tenantID, err := auth.ResolveTenant(id, req.TenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	account, err := s.auth.CreateAccount(r.Context(), id, auth.NewAccount{
		TenantID:    tenantID,
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Roles:       req.Roles,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// handleGetUser returns a single account.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermUserRead) {
		return
	}
	account, err := s.auth.GetAccount(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// handleUpdateUser applies a partial profile update.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermUserManage) {
		return
	}
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := s.auth.UpdateAccount(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), auth.AccountChanges{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		IsActive:    req.IsActive,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// handleDeleteUser soft-deletes an account.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermUserManage) {
		return
	}
	if err := s.auth.DeleteAccount(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLockUser locks an account for the admin lock duration.
func (s *Server) handleLockUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermUserManage) {
		return
	}
	until, err := s.auth.Lock(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.Lockout("admin")
	writeJSON(w, http.StatusOK, map[string]any{
		"locked_until": until.UTC(),
	})
}

// handleUnlockUser clears a lock and the failed login counter.
func (s *Server) handleUnlockUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermUserManage) {
		return
	}
	if err := s.auth.Unlock(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResetPassword sets another account's password.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermUserManage) {
		return
	}
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.ResetPassword(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListUserRoles returns an account's role assignments.
func (s *Server) handleListUserRoles(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermRoleRead) {
		return
	}
	assignments, err := s.auth.ListAssignments(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assignments": assignments,
		"count":       len(assignments),
	})
}

// handleAssignRole grants a role, optionally for a [start_at, end_at) window.
func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermRoleManage) {
		return
	}
	var req assignRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	assignment, err := s.auth.AssignRole(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), auth.RoleGrant{
		RoleID:  req.RoleID,
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

// handleRevokeRole removes a role from an account.
func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermRoleManage) {
		return
	}
	err := s.auth.RevokeRole(r.Context(), identityFrom(r.Context()), chi.URLParam(r, "id"), chi.URLParam(r, "roleID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

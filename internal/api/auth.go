package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/warden-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	TenantID   string `json:"tenant_id" validate:"required,max=64"`
	Username   string `json:"username" validate:"required,max=255"`
	Password   string `json:"password" validate:"required,max=128"`
	RememberMe bool   `json:"remember_me"`
	DeviceType string `json:"device_type" validate:"omitempty,oneof=web mobile desktop panel"`
	DeviceName string `json:"device_name" validate:"max=100"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	*auth.TokenPair
	User            *auth.Account `json:"user"`
	Roles           []string      `json:"roles"`
	Permissions     []string      `json:"permissions"`
	PasswordExpired bool          `json:"password_expired"`
	SessionID       string        `json:"session_id,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updateProfileRequest struct {
	Email       *string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=100"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

// handleLogin runs one login attempt and returns a token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := s.auth.Authenticate(r.Context(), auth.LoginRequest{
		TenantID:   req.TenantID,
		Identifier: req.Username,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		DeviceType: req.DeviceType,
		DeviceName: req.DeviceName,
		UserAgent:  r.UserAgent(),
		IPAddress:  s.clientIP(r),
	})
	s.telemetry.WriteLoginLatency(req.TenantID, err == nil, time.Since(start), start)
	if err != nil {
		s.metrics.Login(false, loginFailureReason(err))
		s.writeServiceError(w, r, err)
		return
	}
	s.metrics.Login(true, "")

	writeJSON(w, http.StatusOK, loginResponse{
		TokenPair:       result.Tokens,
		User:            result.Account,
		Roles:           result.Roles,
		Permissions:     result.Permissions,
		PasswordExpired: result.PasswordExpired,
		SessionID:       result.SessionID,
	})
}

func loginFailureReason(err error) string {
	var authErr *auth.AuthenticationError
	if errors.As(err, &authErr) {
		return string(authErr.Reason)
	}
	if auth.IsValidation(err) {
		return "validation"
	}
	return "error"
}

// handleRefresh exchanges a refresh token for a new access token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout ends the session opened with the supplied refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.Logout(r.Context(), identityFrom(r.Context()), req.RefreshToken); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's account with live grants.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := s.auth.Me(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleUpdateMe updates the caller's own email and display name.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := s.auth.UpdateProfile(r.Context(), identityFrom(r.Context()), req.Email, req.DisplayName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// handleChangePassword changes the caller's own password.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := identityFrom(r.Context())
	if err := s.auth.ChangePassword(r.Context(), id.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions lists the caller's active sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.auth.ListSessions(r.Context(), identityFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the access token in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !s.requirePermission(w, r, auth.PermSecurityEventRead) {
		return
	}
	ticket, ttl := s.tickets.Issue(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ttl.Seconds()),
	})
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/device"
)

// errDeviceQuota is returned when a tenant is at its device limit.
var errDeviceQuota = errors.New("tenant device quota exceeded")

type createDeviceRequest struct {
	TenantID string `json:"tenant_id" validate:"max=64"`
	ID       string `json:"id" validate:"omitempty,max=64"`
	Name     string `json:"name" validate:"required,max=100"`
	Kind     string `json:"kind" validate:"required"`
	Location string `json:"location" validate:"max=200"`
}

// requireDeviceManagement loads the tenant and writes a 403 when device
// management is disabled for it.
func (s *Server) requireDeviceManagement(w http.ResponseWriter, r *http.Request, tenantID string) (*auth.Tenant, bool) {
	tenant, caps, err := s.auth.TenantCapabilities(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	if err := caps.Require(auth.FeatureDeviceManagement); err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	return tenant, true
}

// handleListDevices returns the devices of a tenant.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermDeviceRead) {
		return
	}
	tenantID, err := auth.ResolveTenant(identityFrom(r.Context()), r.URL.Query().Get("tenant_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, ok := s.requireDeviceManagement(w, r, tenantID); !ok {
		return
	}

	devices, err := s.devices.List(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.Kind) == kind {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleCreateDevice registers a device. The tenant must have device
// management enabled and be under its device quota.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	if !s.requireLive(w, r, auth.PermDeviceManage) {
		return
	}
	var req createDeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := identityFrom(r.Context())
	tenantID, err := auth.ResolveTenant(id, req.TenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	tenant, ok := s.requireDeviceManagement(w, r, tenantID)
	if !ok {
		return
	}
	count, err := s.devices.Count(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if count >= tenant.Settings.Limits.DeviceLimit() {
		s.writeServiceError(w, r, errDeviceQuota)
		return
	}

	d := &device.Device{
		ID:       req.ID,
		Name:     req.Name,
		Kind:     device.Kind(req.Kind),
		Location: req.Location,
	}
	d.TenantID = tenantID
	if err := s.devices.Create(r.Context(), id.AccountID, d); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleGetDevice returns a single device. A device in another tenant is
// reported as not found.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermDeviceRead) {
		return
	}
	tenantID, err := auth.ResolveTenant(identityFrom(r.Context()), r.URL.Query().Get("tenant_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if _, ok := s.requireDeviceManagement(w, r, tenantID); !ok {
		return
	}
	d, err := s.devices.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
)

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - tenant_id: superusers only; defaults to the caller's tenant
//   - action: filter by event kind (login.failed, account.locked, ...)
//   - entity_type: filter by entity type (account, role, device, session)
//   - entity_id, user_id: filter by specific entity or actor
//   - since, until: RFC 3339 bounds on created_at
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, auth.PermAuditRead) {
		return
	}
	if s.audit == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	tenantID, err := auth.ResolveTenant(identityFrom(r.Context()), q.Get("tenant_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	filter := audit.Filter{
		TenantID:   tenantID,
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}
	if filter.Limit, err = queryInt(r, "limit", audit.DefaultLimit); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

package auth

import "time"

// EventKind names a security-relevant occurrence.
type EventKind string

// Security event kinds.
const (
	EventLoginSucceeded     EventKind = "login.succeeded"
	EventLoginFailed        EventKind = "login.failed"
	EventAccountLocked      EventKind = "account.locked"
	EventAccountUnlocked    EventKind = "account.unlocked"
	EventAccountCreated     EventKind = "account.created"
	EventAccountUpdated     EventKind = "account.updated"
	EventAccountDeleted     EventKind = "account.deleted"
	EventPasswordChanged    EventKind = "password.changed"
	EventPasswordReset      EventKind = "password.reset"
	EventRoleAssigned       EventKind = "role.assigned"
	EventRoleRevoked        EventKind = "role.revoked"
	EventRoleCreated        EventKind = "role.created"
	EventTokenRefreshed     EventKind = "token.refreshed"
	EventLogout             EventKind = "logout"
	EventPermissionDenied   EventKind = "permission.denied"
	EventRateLimitTriggered EventKind = "rate_limit.triggered"
)

// SecurityEvent describes one occurrence for the audit trail and live feeds.
// It never carries passwords or tokens.
type SecurityEvent struct {
	Kind       EventKind      `json:"kind"`
	TenantID   string         `json:"tenant_id"`
	AccountID  string         `json:"account_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Username   string         `json:"username,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	RemoteAddr string         `json:"remote_addr,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventSink receives security events. Publish must not block the caller.
type EventSink interface {
	Publish(ev SecurityEvent)
}

// NopSink discards events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(SecurityEvent) {}

package auth

import (
	"regexp"
	"time"
)

// usernamePattern allows alphanumerics, dots, hyphens and underscores.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Account is the identity anchor for a human operator, resident or guard.
type Account struct {
	ID string `json:"id"`
	TenantScope
	Username     string `json:"username"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	PasswordHash string `json:"-"` // never serialised
	IsActive     bool   `json:"is_active"`
	IsSuperuser  bool   `json:"is_superuser"`

	FailedLoginCount  int        `json:"failed_login_count"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	LoginCount        int        `json:"login_count"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`

	SoftDelete
	AuditFields
	Timestamps
}

// IsLocked reports whether a lock is in force at now. A lock whose
// expiry has passed is not in force even though locked_until is still set.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// LockRemaining returns how long the lock has left at now, or zero.
func (a *Account) LockRemaining(now time.Time) time.Duration {
	if !a.IsLocked(now) {
		return 0
	}
	return a.LockedUntil.Sub(now)
}

// Permission is an atomic capability such as "user:manage", grouped by module.
type Permission struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Module      string `json:"module"`
	Description string `json:"description,omitempty"`
}

// Role is a named set of permission codes. A role with an empty TenantID
// is system-wide and visible to every tenant.
type Role struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	IsActive    bool     `json:"is_active"`
	IsSystem    bool     `json:"is_system"`
	Permissions []string `json:"permissions"`
	Timestamps
}

// AvailableTo reports whether the role can be assigned within tenantID.
func (r *Role) AvailableTo(tenantID string) bool {
	return r.TenantID == "" || r.TenantID == tenantID
}

// RoleAssignment links an account to a role, optionally for a bounded period.
type RoleAssignment struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	RoleID    string     `json:"role_id"`
	RoleCode  string     `json:"role_code,omitempty"`
	TenantID  string     `json:"tenant_id"`
	StartAt   *time.Time `json:"start_at,omitempty"`
	EndAt     *time.Time `json:"end_at,omitempty"`
	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// InEffect reports whether now falls within [StartAt, EndAt). A nil bound
// is open.
func (a *RoleAssignment) InEffect(now time.Time) bool {
	if a.StartAt != nil && now.Before(*a.StartAt) {
		return false
	}
	if a.EndAt != nil && !now.Before(*a.EndAt) {
		return false
	}
	return true
}

// Grants is the resolved authorisation state of an account at one instant.
type Grants struct {
	Roles       []string
	Permissions []string
}

// Tenant is the isolation boundary. Every account and resource belongs to one.
type Tenant struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Domain   string         `json:"domain,omitempty"`
	IsActive bool           `json:"is_active"`
	Settings TenantSettings `json:"settings"`
	Timestamps
}

// TenantSettings holds per-tenant security policy, feature switches and quotas.
// Zero values fall back to deployment defaults.
type TenantSettings struct {
	Security SecuritySettings `json:"security"`
	Features map[string]bool  `json:"features,omitempty"`
	Limits   TenantLimits     `json:"limits"`
}

// SecuritySettings overrides lockout and password rules for one tenant.
type SecuritySettings struct {
	MaxLoginAttempts       int             `json:"max_login_attempts,omitempty"`
	LockoutDurationMinutes int             `json:"lockout_duration_minutes,omitempty"`
	SessionTimeoutMinutes  int             `json:"session_timeout_minutes,omitempty"`
	PasswordPolicy         *PasswordPolicy `json:"password_policy,omitempty"`
}

// TenantLimits caps resource counts for a tenant.
type TenantLimits struct {
	MaxUsers           int `json:"max_users,omitempty"`
	MaxDevices         int `json:"max_devices,omitempty"`
	MaxConcurrentCalls int `json:"max_concurrent_calls,omitempty"`
}

// Tenant quota defaults.
const (
	DefaultMaxUsers           = 1000
	DefaultMaxDevices         = 500
	DefaultMaxConcurrentCalls = 10
)

// UserLimit returns the effective account quota.
func (l TenantLimits) UserLimit() int {
	if l.MaxUsers > 0 {
		return l.MaxUsers
	}
	return DefaultMaxUsers
}

// DeviceLimit returns the effective device quota.
func (l TenantLimits) DeviceLimit() int {
	if l.MaxDevices > 0 {
		return l.MaxDevices
	}
	return DefaultMaxDevices
}

// Session tracks one logged-in device. Sessions are informational: a
// request is authorised by its verified token, never by a session row.
type Session struct {
	ID                 string    `json:"id"`
	AccountID          string    `json:"account_id"`
	TenantID           string    `json:"tenant_id"`
	RefreshFingerprint string    `json:"-"`
	DeviceType         string    `json:"device_type,omitempty"`
	DeviceName         string    `json:"device_name,omitempty"`
	UserAgent          string    `json:"user_agent,omitempty"`
	IPAddress          string    `json:"ip_address,omitempty"`
	IsActive           bool      `json:"is_active"`
	LastActivityAt     time.Time `json:"last_activity_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	CreatedAt          time.Time `json:"created_at"`
}

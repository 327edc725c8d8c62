package auth

import (
	"context"
	"strings"
	"time"
)

// AccountRepository persists accounts and their login bookkeeping.
//
// Lookups are tenant-scoped except GetByID. Soft-deleted accounts are
// returned by the Get methods (so login can report account_deleted) but
// excluded from List and Count.
type AccountRepository interface {
	// Create stores the account and its initial assignments atomically.
	// Each assignment's AccountID is set to the new account's ID.
	Create(ctx context.Context, account *Account, assignments ...*RoleAssignment) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByUsername(ctx context.Context, tenantID, username string) (*Account, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*Account, error)
	List(ctx context.Context, filter AccountFilter) (*AccountPage, error)
	Count(ctx context.Context, tenantID string) (int, error)
	Update(ctx context.Context, account *Account) error
	// UpdatePassword stores a new hash and clears the failure counter and lock.
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	// RehashPassword swaps the stored hash for an equivalent one without
	// touching password_changed_at.
	RehashPassword(ctx context.Context, id, passwordHash string) error
	// RecordFailedLogin increments the failure counter in one atomic
	// statement and sets locked_until when the new count reaches
	// maxAttempts. It never touches an account whose lock is in force at
	// now; in that case the result has AlreadyLocked set.
	RecordFailedLogin(ctx context.Context, id string, maxAttempts int, now, lockUntil time.Time) (LoginFailure, error)
	RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error
	// ClearExpiredLock resets the counter and lock only if the lock has
	// expired at now.
	ClearExpiredLock(ctx context.Context, id string, now time.Time) error
	Lock(ctx context.Context, id string, until time.Time, actor string) error
	// Unlock clears the lock and counter unconditionally.
	Unlock(ctx context.Context, id, actor string) error
	SoftDelete(ctx context.Context, id, actor string, at time.Time) error
}

// Page size bounds for account listings.
const (
	DefaultAccountPageSize = 50
	MaxAccountPageSize     = 200
)

// AccountFilter selects live accounts of one tenant. Zero-valued fields
// do not filter.
type AccountFilter struct {
	TenantID string
	// Query matches a substring of username, email or display name,
	// ignoring case.
	Query string
	// RoleCode keeps accounts holding an active role with this code whose
	// assignment is in effect at At.
	RoleCode string
	At       time.Time
	Active   *bool
	Limit    int
	Offset   int
}

// Clamp applies the page size bounds.
func (f *AccountFilter) Clamp() {
	if f.Limit <= 0 {
		f.Limit = DefaultAccountPageSize
	}
	if f.Limit > MaxAccountPageSize {
		f.Limit = MaxAccountPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Pattern returns Query as a lower-cased LIKE pattern with its wildcards
// escaped by a backslash.
func (f AccountFilter) Pattern() string {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	q = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(q)
	return "%" + q + "%"
}

// AccountPage is one page of an account listing. Total counts every match.
type AccountPage struct {
	Accounts []Account
	Total    int
	Limit    int
	Offset   int
}

// LoginFailure is the account state after RecordFailedLogin.
type LoginFailure struct {
	FailedCount int
	LockedUntil *time.Time
	// AlreadyLocked means another request locked the account first and
	// this failure was not counted.
	AlreadyLocked bool
}

// Locked reports whether the failure left the account locked at now.
func (f LoginFailure) Locked(now time.Time) bool {
	return f.LockedUntil != nil && now.Before(*f.LockedUntil)
}

// RoleRepository persists the permission catalogue, roles and assignments.
type RoleRepository interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertPermission(ctx context.Context, p Permission) error
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	// GetRoleByCode prefers a tenant role over a system-wide one.
	GetRoleByCode(ctx context.Context, tenantID, code string) (*Role, error)
	// ListRoles returns the tenant's roles plus every system-wide role.
	ListRoles(ctx context.Context, tenantID string) ([]Role, error)
	SetRolePermissions(ctx context.Context, roleID string, codes []string) error
	Assign(ctx context.Context, assignment *RoleAssignment) error
	Revoke(ctx context.Context, accountID, roleID string) error
	ListAssignments(ctx context.Context, accountID string) ([]RoleAssignment, error)
	// EffectiveGrants unions the roles and permissions of every active
	// role assigned to the account within tenantID and in effect at now.
	EffectiveGrants(ctx context.Context, accountID, tenantID string, now time.Time) (*Grants, error)
}

// TenantRepository persists tenants and their settings.
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
}

// SessionRepository tracks logged-in devices.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*Session, error)
	ListActive(ctx context.Context, accountID string, now time.Time) ([]Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
	DeactivateAll(ctx context.Context, accountID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

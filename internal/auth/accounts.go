package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewAccount is the input to CreateAccount.
type NewAccount struct {
	TenantID    string
	Username    string
	Email       string
	DisplayName string
	Password    string
	// Roles are role codes. Empty means the default resident role.
	Roles []string
}

// AccountChanges is a partial profile update. Nil fields are unchanged.
type AccountChanges struct {
	Email       *string
	DisplayName *string
	IsActive    *bool
}

// CreateAccount registers an account in a tenant.
//
// The tenant must be active, have user management enabled and be under
// its user quota. The password must satisfy the tenant's policy.
func (s *Service) CreateAccount(ctx context.Context, actor *Identity, in NewAccount) (*Account, error) {
	if err := CheckTenant(actor, in.TenantID); err != nil {
		return nil, err
	}
	tenant, caps, err := s.TenantCapabilities(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, &ValidationError{Field: "tenant_id", Rule: "tenant_inactive", Message: "tenant is not active"}
	}
	if err := caps.Require(FeatureUserManagement); err != nil {
		return nil, err
	}

	count, err := s.accounts.Count(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	if count >= tenant.Settings.Limits.UserLimit() {
		return nil, ErrQuotaExceeded
	}

	if !IsValidUsername(in.Username) {
		return nil, &ValidationError{Field: "username", Rule: "invalid_format",
			Message: "username must be 3-64 characters of letters, digits, dot, dash or underscore"}
	}
	if err := s.PasswordPolicyFor(tenant).Validate(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	account := &Account{
		Username:          in.Username,
		Email:             strings.TrimSpace(in.Email),
		DisplayName:       in.DisplayName,
		PasswordHash:      hash,
		IsActive:          true,
		PasswordChangedAt: &now,
	}
	account.TenantID = tenant.ID
	account.Stamp(actor.AccountID)

	roles, err := s.rolesByCode(ctx, tenant.ID, in.Roles)
	if err != nil {
		return nil, err
	}

	assignments := make([]*RoleAssignment, 0, len(roles))
	for _, role := range roles {
		assignments = append(assignments, &RoleAssignment{
			RoleID:    role.ID,
			TenantID:  tenant.ID,
			CreatedBy: actor.AccountID,
		})
	}
	if err := s.accounts.Create(ctx, account, assignments...); err != nil {
		return nil, err
	}

	s.emit(SecurityEvent{Kind: EventAccountCreated, TenantID: tenant.ID, AccountID: account.ID, ActorID: actor.AccountID, Username: account.Username})
	return account, nil
}

func (s *Service) rolesByCode(ctx context.Context, tenantID string, codes []string) ([]*Role, error) {
	if len(codes) == 0 {
		codes = []string{DefaultRoleCode}
	}
	out := make([]*Role, 0, len(codes))
	for _, code := range codes {
		role, err := s.roles.GetRoleByCode(ctx, tenantID, code)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", code, err)
		}
		out = append(out, role)
	}
	return out, nil
}

// GetAccount loads a live account the actor is allowed to see.
func (s *Service) GetAccount(ctx context.Context, actor *Identity, id string) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Deleted() {
		return nil, ErrAccountNotFound
	}
	if err := CheckTenant(actor, account.TenantID); err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns one page of a tenant's live accounts. A role filter
// matches assignments in effect now.
func (s *Service) ListAccounts(ctx context.Context, actor *Identity, filter AccountFilter) (*AccountPage, error) {
	if err := CheckTenant(actor, filter.TenantID); err != nil {
		return nil, err
	}
	if filter.RoleCode != "" && filter.At.IsZero() {
		filter.At = s.now()
	}
	return s.accounts.List(ctx, filter)
}

// UpdateAccount applies profile changes. Deactivating a superuser or
// oneself is refused.
func (s *Service) UpdateAccount(ctx context.Context, actor *Identity, id string, ch AccountChanges) (*Account, error) {
	account, err := s.GetAccount(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if ch.IsActive != nil && !*ch.IsActive && account.IsActive {
		if err := guardTarget(actor, account); err != nil {
			return nil, err
		}
	}

	if ch.Email != nil {
		account.Email = strings.TrimSpace(*ch.Email)
	}
	if ch.DisplayName != nil {
		account.DisplayName = *ch.DisplayName
	}
	if ch.IsActive != nil {
		account.IsActive = *ch.IsActive
	}
	account.Stamp(actor.AccountID)

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}
	s.emit(SecurityEvent{Kind: EventAccountUpdated, TenantID: account.TenantID, AccountID: account.ID, ActorID: actor.AccountID, Username: account.Username})
	return account, nil
}

// UpdateProfile changes the caller's own email and display name. The
// active flag is not self-service.
func (s *Service) UpdateProfile(ctx context.Context, id *Identity, email, displayName *string) (*Account, error) {
	return s.UpdateAccount(ctx, id, id.AccountID, AccountChanges{Email: email, DisplayName: displayName})
}

// SetActive enables or disables an account.
func (s *Service) SetActive(ctx context.Context, actor *Identity, id string, active bool) (*Account, error) {
	return s.UpdateAccount(ctx, actor, id, AccountChanges{IsActive: &active})
}

// DeleteAccount soft-deletes an account and ends its sessions.
func (s *Service) DeleteAccount(ctx context.Context, actor *Identity, id string) error {
	account, err := s.GetAccount(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := guardTarget(actor, account); err != nil {
		return err
	}
	if err := s.accounts.SoftDelete(ctx, id, actor.AccountID, s.now()); err != nil {
		return err
	}
	s.endSessions(ctx, id)
	s.emit(SecurityEvent{Kind: EventAccountDeleted, TenantID: account.TenantID, AccountID: id, ActorID: actor.AccountID, Username: account.Username})
	return nil
}

// guardTarget refuses destructive actions on superusers and on the actor's
// own account.
func guardTarget(actor *Identity, target *Account) error {
	if target.ID == actor.AccountID {
		return ErrSelfModification
	}
	if target.IsSuperuser {
		return &AuthorizationError{Reason: ReasonSuperuserProtected, Requirement: target.ID}
	}
	return nil
}

// ChangePassword replaces the caller's password after checking the current one.
// All of the account's sessions are ended; issued tokens stay valid until
// they expire.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !VerifyPassword(current, account.PasswordHash) {
		return &ValidationError{Field: "current_password", Rule: RuleWrongPassword, Message: "current password is incorrect"}
	}
	if current == next {
		return &ValidationError{Field: "new_password", Rule: RuleSamePassword, Message: "new password must differ from the current one"}
	}
	if err := s.setPassword(ctx, account, next); err != nil {
		return err
	}
	s.emit(SecurityEvent{Kind: EventPasswordChanged, TenantID: account.TenantID, AccountID: account.ID, ActorID: account.ID, Username: account.Username})
	return nil
}

// ResetPassword sets a new password for another account without the
// current one.
func (s *Service) ResetPassword(ctx context.Context, actor *Identity, accountID, next string) error {
	account, err := s.GetAccount(ctx, actor, accountID)
	if err != nil {
		return err
	}
	if account.IsSuperuser && !actor.IsSuperuser {
		return &AuthorizationError{Reason: ReasonSuperuserProtected, Requirement: account.ID}
	}
	if err := s.setPassword(ctx, account, next); err != nil {
		return err
	}
	s.emit(SecurityEvent{Kind: EventPasswordReset, TenantID: account.TenantID, AccountID: account.ID, ActorID: actor.AccountID, Username: account.Username})
	return nil
}

func (s *Service) setPassword(ctx context.Context, account *Account, password string) error {
	tenant, err := s.tenants.GetByID(ctx, account.TenantID)
	if err != nil {
		return err
	}
	if err := s.PasswordPolicyFor(tenant).Validate(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, s.now()); err != nil {
		return err
	}
	s.endSessions(ctx, account.ID)
	return nil
}

func (s *Service) endSessions(ctx context.Context, accountID string) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.DeactivateAll(ctx, accountID); err != nil {
		s.logger.Warn("ending sessions failed", "account_id", accountID, "error", err)
	}
}

// Lock locks an account for the configured admin lock duration. Superusers
// and the actor's own account cannot be locked.
func (s *Service) Lock(ctx context.Context, actor *Identity, accountID string) (time.Time, error) {
	account, err := s.GetAccount(ctx, actor, accountID)
	if err != nil {
		return time.Time{}, err
	}
	if err := guardTarget(actor, account); err != nil {
		return time.Time{}, err
	}
	until := s.now().Add(s.cfg.AdminLockDuration)
	if err := s.accounts.Lock(ctx, accountID, until, actor.AccountID); err != nil {
		return time.Time{}, err
	}
	s.emit(SecurityEvent{Kind: EventAccountLocked, TenantID: account.TenantID, AccountID: account.ID, ActorID: actor.AccountID,
		Username: account.Username, Reason: "admin", Details: map[string]any{"locked_until": until}})
	return until, nil
}

// Unlock clears a lock and the failure counter regardless of expiry.
func (s *Service) Unlock(ctx context.Context, actor *Identity, accountID string) error {
	account, err := s.GetAccount(ctx, actor, accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.Unlock(ctx, accountID, actor.AccountID); err != nil {
		return err
	}
	s.emit(SecurityEvent{Kind: EventAccountUnlocked, TenantID: account.TenantID, AccountID: account.ID, ActorID: actor.AccountID, Username: account.Username})
	return nil
}

// RoleGrant is the input to AssignRole.
type RoleGrant struct {
	RoleID  string
	StartAt *time.Time
	EndAt   *time.Time
}

// AssignRole assigns a role to an account in the account's tenant.
func (s *Service) AssignRole(ctx context.Context, actor *Identity, accountID string, g RoleGrant) (*RoleAssignment, error) {
	account, err := s.GetAccount(ctx, actor, accountID)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.GetRole(ctx, g.RoleID)
	if err != nil {
		return nil, err
	}
	if !role.AvailableTo(account.TenantID) {
		return nil, &AuthorizationError{Reason: ReasonTenantBoundary, Requirement: role.TenantID}
	}
	if !role.IsActive {
		return nil, &ValidationError{Field: "role_id", Rule: "role_inactive", Message: "role is not active"}
	}
	if g.StartAt != nil && g.EndAt != nil && !g.StartAt.Before(*g.EndAt) {
		return nil, &ValidationError{Field: "end_at", Rule: "invalid_window", Message: "end_at must be after start_at"}
	}

	a := &RoleAssignment{
		AccountID: account.ID,
		RoleID:    role.ID,
		RoleCode:  role.Code,
		TenantID:  account.TenantID,
		StartAt:   g.StartAt,
		EndAt:     g.EndAt,
		CreatedBy: actor.AccountID,
	}
	if err := s.roles.Assign(ctx, a); err != nil {
		return nil, err
	}
	s.emit(SecurityEvent{Kind: EventRoleAssigned, TenantID: account.TenantID, AccountID: account.ID, ActorID: actor.AccountID,
		Username: account.Username, Details: map[string]any{"role": role.Code}})
	return a, nil
}

// RevokeRole removes a role from an account. It takes effect on the next
// live check or refresh.
func (s *Service) RevokeRole(ctx context.Context, actor *Identity, accountID, roleID string) error {
	account, err := s.GetAccount(ctx, actor, accountID)
	if err != nil {
		return err
	}
	if err := s.roles.Revoke(ctx, account.ID, roleID); err != nil {
		return err
	}
	s.emit(SecurityEvent{Kind: EventRoleRevoked, TenantID: account.TenantID, AccountID: account.ID, ActorID: actor.AccountID,
		Username: account.Username, Details: map[string]any{"role_id": roleID}})
	return nil
}

// ListAssignments returns an account's role assignments.
func (s *Service) ListAssignments(ctx context.Context, actor *Identity, accountID string) ([]RoleAssignment, error) {
	if _, err := s.GetAccount(ctx, actor, accountID); err != nil {
		return nil, err
	}
	return s.roles.ListAssignments(ctx, accountID)
}

// NewRole is the input to CreateRole.
type NewRole struct {
	TenantID    string
	Code        string
	Name        string
	Description string
	Permissions []string
}

// CreateRole creates a tenant role. Only superusers may create a
// system-wide role (empty TenantID).
func (s *Service) CreateRole(ctx context.Context, actor *Identity, in NewRole) (*Role, error) {
	if in.TenantID == "" && !actor.IsSuperuser {
		return nil, &AuthorizationError{Reason: ReasonTenantBoundary, Requirement: "system"}
	}
	if err := CheckTenant(actor, in.TenantID); err != nil {
		return nil, err
	}
	for _, code := range in.Permissions {
		if !IsKnownPermission(code) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionUnknown, code)
		}
	}
	role := &Role{
		TenantID:    in.TenantID,
		Code:        strings.ToLower(strings.TrimSpace(in.Code)),
		Name:        in.Name,
		Description: in.Description,
		IsActive:    true,
		Permissions: in.Permissions,
	}
	if err := s.roles.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	s.emit(SecurityEvent{Kind: EventRoleCreated, TenantID: in.TenantID, ActorID: actor.AccountID, Details: map[string]any{"role": role.Code}})
	return role, nil
}

// ListRoles returns the roles visible in a tenant.
func (s *Service) ListRoles(ctx context.Context, actor *Identity, tenantID string) ([]Role, error) {
	if err := CheckTenant(actor, tenantID); err != nil {
		return nil, err
	}
	return s.roles.ListRoles(ctx, tenantID)
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.roles.ListPermissions(ctx)
}

// ListTenants returns every tenant for superusers and only the caller's
// own tenant otherwise.
func (s *Service) ListTenants(ctx context.Context, actor *Identity) ([]Tenant, error) {
	if !actor.IsSuperuser {
		t, err := s.tenants.GetByID(ctx, actor.TenantID)
		if err != nil {
			return nil, err
		}
		return []Tenant{*t}, nil
	}
	return s.tenants.List(ctx)
}

// GetTenant loads a tenant the actor may see.
func (s *Service) GetTenant(ctx context.Context, actor *Identity, id string) (*Tenant, error) {
	if err := CheckTenant(actor, id); err != nil {
		return nil, err
	}
	return s.tenants.GetByID(ctx, id)
}

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrTenantNotFound) || errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAssignmentNotFound)
}

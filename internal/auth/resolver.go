package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resolver answers authorisation questions from the assignment tables
// rather than from a token snapshot.
type Resolver struct {
	roles    RoleRepository
	accounts AccountRepository
	now      func() time.Time
}

// NewResolver creates a Resolver. A nil clock means time.Now.
func NewResolver(roles RoleRepository, accounts AccountRepository, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{roles: roles, accounts: accounts, now: now}
}

// Grants returns the roles and permissions the account holds right now.
// Superusers get every catalogued permission.
func (r *Resolver) Grants(ctx context.Context, account *Account) (*Grants, error) {
	grants, err := r.roles.EffectiveGrants(ctx, account.ID, account.TenantID, r.now())
	if err != nil {
		return nil, fmt.Errorf("resolving grants for %s: %w", account.ID, err)
	}
	if account.IsSuperuser {
		all := make([]string, 0, len(Catalogue()))
		for _, p := range Catalogue() {
			all = append(all, p.Code)
		}
		grants.Permissions = all
	}
	return grants, nil
}

// live reloads the caller's account. The second result is false when the
// account can no longer act at all.
func (r *Resolver) live(ctx context.Context, id *Identity) (*Account, bool, error) {
	account, err := r.accounts.GetByID(ctx, id.AccountID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !account.IsActive || account.Deleted() || account.TenantID != id.TenantID {
		return nil, false, nil
	}
	return account, true, nil
}

func (r *Resolver) check(ctx context.Context, id *Identity, match func(*Grants) bool) (bool, error) {
	account, ok, err := r.live(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if account.IsSuperuser {
		return true, nil
	}
	grants, err := r.roles.EffectiveGrants(ctx, account.ID, account.TenantID, r.now())
	if err != nil {
		return false, err
	}
	return match(grants), nil
}

// HasPermission reports whether the caller holds code right now.
func (r *Resolver) HasPermission(ctx context.Context, id *Identity, code string) (bool, error) {
	return r.check(ctx, id, func(g *Grants) bool { return hasAny(g.Permissions, []string{code}) })
}

// HasRole reports whether the caller holds role code right now.
func (r *Resolver) HasRole(ctx context.Context, id *Identity, code string) (bool, error) {
	return r.check(ctx, id, func(g *Grants) bool { return hasAny(g.Roles, []string{code}) })
}

// HasAnyRole reports whether the caller holds at least one of codes.
func (r *Resolver) HasAnyRole(ctx context.Context, id *Identity, codes ...string) (bool, error) {
	return r.check(ctx, id, func(g *Grants) bool { return hasAny(g.Roles, codes) })
}

// HasAllRoles reports whether the caller holds every one of codes.
func (r *Resolver) HasAllRoles(ctx context.Context, id *Identity, codes ...string) (bool, error) {
	return r.check(ctx, id, func(g *Grants) bool { return hasAll(g.Roles, codes) })
}

// AuthorizeLive returns an *AuthorizationError unless the caller holds
// code right now and resourceTenant (if set) is theirs.
func (r *Resolver) AuthorizeLive(ctx context.Context, id *Identity, code, resourceTenant string) error {
	if err := CheckTenant(id, resourceTenant); err != nil {
		return err
	}
	ok, err := r.HasPermission(ctx, id, code)
	if err != nil {
		return err
	}
	if !ok {
		return &AuthorizationError{Reason: ReasonMissingPermission, Requirement: code}
	}
	return nil
}

// Authorize is the snapshot counterpart of AuthorizeLive.
func Authorize(id *Identity, code, resourceTenant string) error {
	if err := CheckTenant(id, resourceTenant); err != nil {
		return err
	}
	if !id.HasPermission(code) {
		return &AuthorizationError{Reason: ReasonMissingPermission, Requirement: code}
	}
	return nil
}

// RequireRole returns an *AuthorizationError unless the snapshot holds any of codes.
func RequireRole(id *Identity, codes ...string) error {
	if id.HasAnyRole(codes...) {
		return nil
	}
	req := ""
	if len(codes) > 0 {
		req = codes[0]
	}
	return &AuthorizationError{Reason: ReasonMissingRole, Requirement: req}
}

// CheckTenant enforces the tenant boundary. An empty resourceTenant is
// not tenant-scoped. Superusers may cross tenants.
func CheckTenant(id *Identity, resourceTenant string) error {
	if resourceTenant == "" || resourceTenant == id.TenantID || id.IsSuperuser {
		return nil
	}
	return &AuthorizationError{Reason: ReasonTenantBoundary, Requirement: resourceTenant}
}

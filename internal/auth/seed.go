package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Bootstrap identifiers created on first boot.
const (
	SystemTenantID   = "system"
	BootstrapAccount = "operator"
)

// seedPasswordBytes is the number of random bytes for the bootstrap password.
const seedPasswordBytes = 16

// SeedSystem makes the permission catalogue and the built-in roles present,
// then creates the system tenant and a superuser when the system tenant has
// no accounts. It is safe to run on every start.
//
// The generated password is logged once and returned; it must be changed
// immediately. An empty password means no account was created.
func SeedSystem(ctx context.Context, accounts AccountRepository, roles RoleRepository, tenants TenantRepository, logger *slog.Logger) (string, error) {
	for _, p := range Catalogue() {
		if err := roles.UpsertPermission(ctx, p); err != nil {
			return "", fmt.Errorf("seeding permission %s: %w", p.Code, err)
		}
	}

	for _, b := range BuiltinRoles() {
		_, err := roles.GetRoleByCode(ctx, "", b.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return "", fmt.Errorf("checking role %s: %w", b.Code, err)
		}
		role := &Role{
			Code:        b.Code,
			Name:        b.Name,
			Description: b.Description,
			IsActive:    true,
			IsSystem:    true,
			Permissions: b.Permissions,
		}
		if err := roles.CreateRole(ctx, role); err != nil {
			return "", fmt.Errorf("seeding role %s: %w", b.Code, err)
		}
		logger.Info("built-in role created", "role", b.Code, "permissions", len(b.Permissions))
	}

	if _, err := tenants.GetByID(ctx, SystemTenantID); errors.Is(err, ErrTenantNotFound) {
		t := &Tenant{ID: SystemTenantID, Name: "System", IsActive: true}
		if err := tenants.Create(ctx, t); err != nil {
			return "", fmt.Errorf("creating system tenant: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("loading system tenant: %w", err)
	}

	count, err := accounts.Count(ctx, SystemTenantID)
	if err != nil {
		return "", fmt.Errorf("checking account count: %w", err)
	}
	if count > 0 {
		logger.Info("accounts exist, skipping bootstrap account")
		return "", nil
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil {
		return "", fmt.Errorf("generating bootstrap password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing bootstrap password: %w", err)
	}

	// Leaving PasswordChangedAt unset flags the password as expired on
	// first login.
	operator := &Account{
		Username:     BootstrapAccount,
		DisplayName:  "System Operator",
		PasswordHash: hash,
		IsActive:     true,
		IsSuperuser:  true,
	}
	operator.TenantID = SystemTenantID
	operator.Stamp("system")
	operator.Touch(time.Now())

	if err := accounts.Create(ctx, operator); err != nil {
		return "", fmt.Errorf("creating bootstrap account: %w", err)
	}

	logger.Warn("bootstrap superuser created",
		"tenant_id", SystemTenantID,
		"username", BootstrapAccount,
		"initial_password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}

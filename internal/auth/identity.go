package auth

import (
	"slices"
	"strings"
	"time"
)

// Identity is a verified caller, built from access token claims.
//
// Its Has* methods answer from the snapshot taken when the token was
// issued. Use Resolver when a decision must reflect role changes made
// since then.
type Identity struct {
	AccountID   string    `json:"account_id"`
	TenantID    string    `json:"tenant_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	IsActive    bool      `json:"is_active"`
	IsSuperuser bool      `json:"is_superuser"`
	TokenID     string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IdentityFromClaims converts verified access claims into an Identity.
func IdentityFromClaims(c *Claims) *Identity {
	id := &Identity{
		AccountID:   c.Subject,
		TenantID:    c.TenantID,
		Username:    c.Username,
		Email:       c.Email,
		Roles:       c.Roles,
		Permissions: c.Permissions,
		IsActive:    c.IsActive,
		IsSuperuser: c.IsSuperuser,
		TokenID:     c.ID,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// HasPermission reports whether the snapshot grants code.
func (id *Identity) HasPermission(code string) bool {
	return id.IsSuperuser || slices.Contains(id.Permissions, code)
}

// HasRole reports whether the snapshot includes role code.
func (id *Identity) HasRole(code string) bool {
	return id.IsSuperuser || slices.Contains(id.Roles, code)
}

// HasAnyRole reports whether the snapshot includes at least one of codes.
func (id *Identity) HasAnyRole(codes ...string) bool {
	return id.IsSuperuser || hasAny(id.Roles, codes)
}

// HasAllRoles reports whether the snapshot includes every one of codes.
func (id *Identity) HasAllRoles(codes ...string) bool {
	return id.IsSuperuser || hasAll(id.Roles, codes)
}

func hasAny(held, want []string) bool {
	for _, w := range want {
		if slices.Contains(held, w) {
			return true
		}
	}
	return false
}

func hasAll(held, want []string) bool {
	for _, w := range want {
		if !slices.Contains(held, w) {
			return false
		}
	}
	return true
}

// ParseBearerHeader extracts the token from an "Authorization: Bearer <token>"
// header value. A missing or malformed header yields ErrTokenInvalid, the
// same error as a bad token.
func ParseBearerHeader(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrTokenInvalid
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrTokenInvalid
	}
	return token, nil
}

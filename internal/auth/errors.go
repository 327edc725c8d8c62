package auth

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for auth operations.
var (
	// ErrTokenInvalid is the only error token verification ever returns.
	// Signature, expiry, type and format failures are indistinguishable.
	ErrTokenInvalid = errors.New("invalid or expired token")

	ErrAccountNotFound    = errors.New("account not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrAssignmentNotFound = errors.New("role assignment not found")
	ErrPermissionUnknown  = errors.New("unknown permission code")
	ErrUsernameExists     = errors.New("username already exists")
	ErrEmailExists        = errors.New("email already exists")
	ErrRoleExists         = errors.New("role code already exists")
	ErrTenantExists       = errors.New("tenant already exists")
	ErrSystemRole         = errors.New("system roles cannot be modified")
	ErrQuotaExceeded      = errors.New("tenant user quota exceeded")
	ErrSelfModification   = errors.New("cannot modify own account in this way")
)

// AuthenticationReason classifies why a login or bearer check failed.
type AuthenticationReason string

// Authentication failure reasons. These are stable client-facing codes.
const (
	ReasonInvalidCredentials AuthenticationReason = "invalid_credentials"
	ReasonAccountLocked      AuthenticationReason = "account_locked"
	ReasonAccountInactive    AuthenticationReason = "account_inactive"
	ReasonAccountDeleted     AuthenticationReason = "account_deleted"
	ReasonTenantInactive     AuthenticationReason = "tenant_inactive"
)

// AuthenticationError reports a rejected login.
//
// An unknown username and a wrong password both produce
// ReasonInvalidCredentials with the same message.
type AuthenticationError struct {
	Reason  AuthenticationReason
	Message string
	// RetryAfter is set for ReasonAccountLocked.
	RetryAfter time.Duration
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

func invalidCredentials() *AuthenticationError {
	return &AuthenticationError{
		Reason:  ReasonInvalidCredentials,
		Message: "invalid username or password",
	}
}

// accountLocked builds the rejection for an already-locked account.
func accountLocked(remaining time.Duration) *AuthenticationError {
	return &AuthenticationError{
		Reason:     ReasonAccountLocked,
		Message:    fmt.Sprintf("account locked, try again in %s", humanMinutes(remaining)),
		RetryAfter: remaining,
	}
}

// accountJustLocked builds the rejection for the attempt that tripped the lock.
func accountJustLocked(lockout time.Duration) *AuthenticationError {
	return &AuthenticationError{
		Reason:     ReasonAccountLocked,
		Message:    fmt.Sprintf("too many failed attempts, account locked for %s", humanMinutes(lockout)),
		RetryAfter: lockout,
	}
}

func humanMinutes(d time.Duration) string {
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// AuthorizationReason classifies why an authorised identity was refused.
type AuthorizationReason string

// Authorization failure reasons.
const (
	ReasonMissingPermission  AuthorizationReason = "missing_permission"
	ReasonMissingRole        AuthorizationReason = "missing_role"
	ReasonTenantBoundary     AuthorizationReason = "tenant_boundary"
	ReasonFeatureDisabled    AuthorizationReason = "feature_disabled"
	ReasonSuperuserProtected AuthorizationReason = "superuser_protected"
)

// AuthorizationError reports a valid identity that may not perform an action.
type AuthorizationError struct {
	Reason AuthorizationReason
	// Requirement is the permission code, role code, feature or tenant that
	// was missing. Safe to show to the caller.
	Requirement string
}

func (e *AuthorizationError) Error() string {
	switch e.Reason {
	case ReasonMissingPermission:
		return "missing permission: " + e.Requirement
	case ReasonMissingRole:
		return "missing role: " + e.Requirement
	case ReasonTenantBoundary:
		return "resource belongs to another tenant"
	case ReasonFeatureDisabled:
		return "feature not enabled for tenant: " + e.Requirement
	case ReasonSuperuserProtected:
		return "operation not permitted on a superuser account"
	default:
		return "forbidden"
	}
}

// ValidationError reports a rejected input such as a password that breaks
// the tenant's policy. Rule names the failed check.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsAuthentication reports whether err is an *AuthenticationError or ErrTokenInvalid.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr) || errors.Is(err, ErrTokenInvalid)
}

// IsAuthorization reports whether err is an *AuthorizationError.
func IsAuthorization(err error) bool {
	var authzErr *AuthorizationError
	return errors.As(err, &authzErr)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

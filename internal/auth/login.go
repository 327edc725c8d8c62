package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// LoginRequest carries one login attempt. Identifier is a username or an
// email address within TenantID.
type LoginRequest struct {
	TenantID   string
	Identifier string
	Password   string
	RememberMe bool

	DeviceType string
	DeviceName string
	UserAgent  string
	IPAddress  string
}

// LoginResult is returned by a successful Authenticate.
type LoginResult struct {
	Account         *Account
	Tokens          *TokenPair
	Roles           []string
	Permissions     []string
	PasswordExpired bool
	SessionID       string
}

// Authenticate runs the login state machine for one attempt.
//
// A locked account is rejected before the password is examined and the
// attempt is not counted. An expired lock is cleared lazily here, which
// also resets the failure counter. A wrong password increments the counter
// atomically; the attempt that reaches the tenant's limit is rejected with
// a distinct "account locked" message.
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	now := s.now()
	log := s.logger.With("tenant_id", req.TenantID, "identifier", req.Identifier)

	tenant, err := s.tenants.GetByID(ctx, req.TenantID)
	if errors.Is(err, ErrTenantNotFound) {
		VerifyPassword(req.Password, dummyHash)
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant: %w", err)
	}
	if !tenant.IsActive {
		return nil, &AuthenticationError{Reason: ReasonTenantInactive, Message: "tenant is not active"}
	}

	account, err := s.lookup(ctx, req.TenantID, req.Identifier)
	if errors.Is(err, ErrAccountNotFound) {
		VerifyPassword(req.Password, dummyHash)
		s.emit(SecurityEvent{Kind: EventLoginFailed, TenantID: req.TenantID, Username: req.Identifier, Reason: string(ReasonInvalidCredentials), RemoteAddr: req.IPAddress})
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, err
	}

	switch {
	case account.Deleted():
		return nil, &AuthenticationError{Reason: ReasonAccountDeleted, Message: "account has been deleted"}
	case !account.IsActive:
		return nil, &AuthenticationError{Reason: ReasonAccountInactive, Message: "account is disabled"}
	case account.IsLocked(now):
		return nil, accountLocked(account.LockRemaining(now))
	}

	if account.LockedUntil != nil {
		if err := s.accounts.ClearExpiredLock(ctx, account.ID, now); err != nil {
			return nil, fmt.Errorf("clearing expired lock: %w", err)
		}
		account.LockedUntil = nil
		account.FailedLoginCount = 0
	}

	if !VerifyPassword(req.Password, account.PasswordHash) {
		return nil, s.recordFailure(ctx, log, tenant, account, req)
	}

	if err := s.accounts.RecordSuccessfulLogin(ctx, account.ID, now); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}
	account.FailedLoginCount = 0
	account.LoginCount++
	account.LastLoginAt = &now

	if NeedsRehash(account.PasswordHash) {
		s.rehash(ctx, log, account, req.Password)
	}

	grants, err := s.resolver.Grants(ctx, account)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(accessClaimsFor(account, grants), s.tokens.AccessTTLFor(req.RememberMe))
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		Account:         account,
		Tokens:          pair,
		Roles:           grants.Roles,
		Permissions:     grants.Permissions,
		PasswordExpired: s.PasswordPolicyFor(tenant).Expired(account.PasswordChangedAt, now),
	}

	if s.sessions != nil {
		sess := &Session{
			AccountID:          account.ID,
			TenantID:           account.TenantID,
			RefreshFingerprint: Fingerprint(pair.RefreshToken),
			DeviceType:         req.DeviceType,
			DeviceName:         req.DeviceName,
			UserAgent:          req.UserAgent,
			IPAddress:          req.IPAddress,
			IsActive:           true,
			LastActivityAt:     now,
			ExpiresAt:          pair.RefreshExpiresAt,
			CreatedAt:          now,
		}
		if err := s.sessions.Create(ctx, sess); err != nil {
			// The tokens are already valid; a missing session row only
			// hides this device from the session list.
			log.Warn("recording session failed", "account_id", account.ID, "error", err)
		} else {
			result.SessionID = sess.ID
		}
	}

	log.Info("login succeeded", "account_id", account.ID, "remember_me", req.RememberMe)
	s.emit(SecurityEvent{Kind: EventLoginSucceeded, TenantID: account.TenantID, AccountID: account.ID, Username: account.Username, RemoteAddr: req.IPAddress})
	return result, nil
}

func (s *Service) lookup(ctx context.Context, tenantID, identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrAccountNotFound
	}
	account, err := s.accounts.GetByUsername(ctx, tenantID, identifier)
	if errors.Is(err, ErrAccountNotFound) && strings.Contains(identifier, "@") {
		account, err = s.accounts.GetByEmail(ctx, tenantID, identifier)
	}
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	return account, err
}

func (s *Service) recordFailure(ctx context.Context, log *slog.Logger, tenant *Tenant, account *Account, req LoginRequest) error {
	now := s.now()
	policy := s.lockoutFor(tenant)

	failure, err := s.accounts.RecordFailedLogin(ctx, account.ID, policy.MaxAttempts, now, now.Add(policy.Duration))
	if err != nil {
		return fmt.Errorf("recording failed login: %w", err)
	}

	base := SecurityEvent{TenantID: account.TenantID, AccountID: account.ID, Username: account.Username, RemoteAddr: req.IPAddress}
	switch {
	case failure.AlreadyLocked:
		remaining := policy.Duration
		if failure.LockedUntil != nil {
			remaining = failure.LockedUntil.Sub(now)
		}
		return accountLocked(remaining)
	case failure.Locked(now):
		log.Warn("account locked after failed logins", "account_id", account.ID, "failed_count", failure.FailedCount)
		ev := base
		ev.Kind = EventAccountLocked
		ev.Reason = "max_attempts"
		ev.Details = map[string]any{"failed_count": failure.FailedCount, "locked_until": failure.LockedUntil}
		s.emit(ev)
		return accountJustLocked(policy.Duration)
	default:
		ev := base
		ev.Kind = EventLoginFailed
		ev.Reason = string(ReasonInvalidCredentials)
		ev.Details = map[string]any{"failed_count": failure.FailedCount}
		s.emit(ev)
		return invalidCredentials()
	}
}

func (s *Service) rehash(ctx context.Context, log *slog.Logger, account *Account, password string) {
	hash, err := HashPassword(password)
	if err != nil {
		log.Warn("rehashing password failed", "account_id", account.ID, "error", err)
		return
	}
	if err := s.accounts.RehashPassword(ctx, account.ID, hash); err != nil {
		log.Warn("storing rehashed password failed", "account_id", account.ID, "error", err)
		return
	}
	account.PasswordHash = hash
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Deployment defaults applied when a tenant does not override them.
const (
	DefaultMaxLoginAttempts  = 5
	DefaultLockoutDuration   = 15 * time.Minute
	DefaultAdminLockDuration = 24 * time.Hour
	defaultTenantCacheTTL    = 30 * time.Second
)

// LockoutPolicy is the effective lockout rule for one tenant.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// Config holds deployment-wide auth settings.
type Config struct {
	Lockout           LockoutPolicy
	AdminLockDuration time.Duration
	PasswordPolicy    PasswordPolicy
	// TenantCacheTTL bounds how long a deactivated tenant's tokens keep
	// working.
	TenantCacheTTL time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Lockout:           LockoutPolicy{MaxAttempts: DefaultMaxLoginAttempts, Duration: DefaultLockoutDuration},
		AdminLockDuration: DefaultAdminLockDuration,
		PasswordPolicy:    DefaultPasswordPolicy(),
		TenantCacheTTL:    defaultTenantCacheTTL,
	}
}

// Deps are the collaborators of Service. Sessions and Events are optional.
type Deps struct {
	Accounts AccountRepository
	Roles    RoleRepository
	Tenants  TenantRepository
	Sessions SessionRepository
	Tokens   *TokenService
	Events   EventSink
	Logger   *slog.Logger
}

// Service is the entry point to authentication and authorisation. It is
// constructed once at startup and shared by all request handlers.
type Service struct {
	accounts AccountRepository
	roles    RoleRepository
	tenants  TenantRepository
	sessions SessionRepository
	tokens   *TokenService
	resolver *Resolver
	events   EventSink
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	tenantsC *tenantStatusCache
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceClock replaces time.Now for lockout and assignment windows.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires a Service. Zero fields in cfg take DefaultConfig values.
func NewService(deps Deps, cfg Config, opts ...ServiceOption) *Service {
	def := DefaultConfig()
	if cfg.Lockout.MaxAttempts <= 0 {
		cfg.Lockout.MaxAttempts = def.Lockout.MaxAttempts
	}
	if cfg.Lockout.Duration <= 0 {
		cfg.Lockout.Duration = def.Lockout.Duration
	}
	if cfg.AdminLockDuration <= 0 {
		cfg.AdminLockDuration = def.AdminLockDuration
	}
	if cfg.PasswordPolicy.MinLength <= 0 {
		cfg.PasswordPolicy = def.PasswordPolicy
	}
	if cfg.TenantCacheTTL <= 0 {
		cfg.TenantCacheTTL = def.TenantCacheTTL
	}

	s := &Service{
		accounts: deps.Accounts,
		roles:    deps.Roles,
		tenants:  deps.Tenants,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		events:   deps.Events,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      time.Now,
		tenantsC: newTenantStatusCache(cfg.TenantCacheTTL),
	}
	if s.events == nil {
		s.events = NopSink{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(s.roles, s.accounts, s.now)
	return s
}

// Resolver returns the live authorisation resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Tokens returns the token service.
func (s *Service) Tokens() *TokenService { return s.tokens }

func (s *Service) emit(ev SecurityEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	s.events.Publish(ev)
}

// lockoutFor returns the tenant's lockout rule, falling back to config.
func (s *Service) lockoutFor(t *Tenant) LockoutPolicy {
	p := s.cfg.Lockout
	if t.Settings.Security.MaxLoginAttempts > 0 {
		p.MaxAttempts = t.Settings.Security.MaxLoginAttempts
	}
	if t.Settings.Security.LockoutDurationMinutes > 0 {
		p.Duration = time.Duration(t.Settings.Security.LockoutDurationMinutes) * time.Minute
	}
	return p
}

// PasswordPolicyFor returns the tenant's password rules, falling back to config.
func (s *Service) PasswordPolicyFor(t *Tenant) PasswordPolicy {
	if t != nil && t.Settings.Security.PasswordPolicy != nil {
		return *t.Settings.Security.PasswordPolicy
	}
	return s.cfg.PasswordPolicy
}

// VerifyBearer verifies an access token and returns the caller's identity.
//
// Any failure, including a deactivated account snapshot or tenant, is
// reported as ErrTokenInvalid.
func (s *Service) VerifyBearer(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if !claims.IsActive {
		return nil, ErrTokenInvalid
	}

	active, err := s.tenantActive(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrTokenInvalid
	}
	return IdentityFromClaims(claims), nil
}

// VerifyAuthorizationHeader parses "Bearer <token>" and verifies the token.
func (s *Service) VerifyAuthorizationHeader(ctx context.Context, header string) (*Identity, error) {
	token, err := ParseBearerHeader(header)
	if err != nil {
		return nil, err
	}
	return s.VerifyBearer(ctx, token)
}

func (s *Service) tenantActive(ctx context.Context, tenantID string) (bool, error) {
	now := s.now()
	if active, ok := s.tenantsC.get(tenantID, now); ok {
		return active, nil
	}
	t, err := s.tenants.GetByID(ctx, tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		s.tenantsC.set(tenantID, false, now)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading tenant: %w", err)
	}
	s.tenantsC.set(tenantID, t.IsActive, now)
	return t.IsActive, nil
}

// Authorize answers from the token snapshot. It can be stale by up to the
// access token lifetime after a role is revoked.
func (s *Service) Authorize(id *Identity, code string) bool {
	return id.HasPermission(code)
}

// AuthorizeLive re-resolves the caller's permissions from the assignment
// tables. It costs a database round trip per call.
func (s *Service) AuthorizeLive(ctx context.Context, id *Identity, code string) (bool, error) {
	return s.resolver.HasPermission(ctx, id, code)
}

// Refresh exchanges a refresh token for a new access token.
//
// Roles and permissions are re-read from the database so changes since
// login take effect. The refresh token itself is not rotated and stays
// valid until it expires: there is no revocation list.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	now := s.now()

	account, err := s.accounts.GetByID(ctx, claims.Subject)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if !account.BelongsTo(claims.TenantID) || account.Deleted() || !account.IsActive || account.IsLocked(now) {
		return nil, ErrTokenInvalid
	}

	active, err := s.tenantActive(ctx, account.TenantID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrTokenInvalid
	}

	grants, err := s.resolver.Grants(ctx, account)
	if err != nil {
		return nil, err
	}

	access, exp, err := s.tokens.IssueAccess(accessClaimsFor(account, grants), 0)
	if err != nil {
		return nil, err
	}

	if s.sessions != nil {
		if sess, err := s.sessions.GetByFingerprint(ctx, Fingerprint(refreshToken)); err == nil && sess.IsActive {
			if err := s.sessions.Touch(ctx, sess.ID, now); err != nil {
				s.logger.Warn("touching session failed", "session_id", sess.ID, "error", err)
			}
		}
	}

	s.emit(SecurityEvent{Kind: EventTokenRefreshed, TenantID: account.TenantID, AccountID: account.ID, Username: account.Username})

	return &TokenPair{
		AccessToken:     access,
		TokenType:       "Bearer",
		ExpiresIn:       int64(exp.Sub(now).Seconds()),
		AccessExpiresAt: exp,
	}, nil
}

func accessClaimsFor(a *Account, g *Grants) AccessClaims {
	return AccessClaims{
		AccountID:   a.ID,
		TenantID:    a.TenantID,
		Username:    a.Username,
		Email:       a.Email,
		Roles:       g.Roles,
		Permissions: g.Permissions,
		IsActive:    a.IsActive,
		IsSuperuser: a.IsSuperuser,
	}
}

// Logout deactivates the session opened with refreshToken. The tokens
// themselves stay cryptographically valid until they expire.
func (s *Service) Logout(ctx context.Context, id *Identity, refreshToken string) error {
	if s.sessions != nil && refreshToken != "" {
		sess, err := s.sessions.GetByFingerprint(ctx, Fingerprint(refreshToken))
		switch {
		case errors.Is(err, ErrSessionNotFound):
		case err != nil:
			return fmt.Errorf("finding session: %w", err)
		case sess.AccountID != id.AccountID:
			return ErrSessionNotFound
		default:
			if err := s.sessions.Deactivate(ctx, sess.ID); err != nil {
				return err
			}
		}
	}
	s.emit(SecurityEvent{Kind: EventLogout, TenantID: id.TenantID, AccountID: id.AccountID, Username: id.Username})
	return nil
}

// ListSessions returns the caller's active sessions.
func (s *Service) ListSessions(ctx context.Context, id *Identity) ([]Session, error) {
	if s.sessions == nil {
		return []Session{}, nil
	}
	return s.sessions.ListActive(ctx, id.AccountID, s.now())
}

// Profile is the caller's account with live grants, served by /auth/me.
type Profile struct {
	Account         *Account `json:"account"`
	Roles           []string `json:"roles"`
	Permissions     []string `json:"permissions"`
	PasswordExpired bool     `json:"password_expired"`
}

// Me returns the caller's current account and live grants.
func (s *Service) Me(ctx context.Context, id *Identity) (*Profile, error) {
	account, err := s.accounts.GetByID(ctx, id.AccountID)
	if err != nil {
		return nil, err
	}
	grants, err := s.resolver.Grants(ctx, account)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetByID(ctx, account.TenantID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Account:         account,
		Roles:           grants.Roles,
		Permissions:     grants.Permissions,
		PasswordExpired: s.PasswordPolicyFor(tenant).Expired(account.PasswordChangedAt, s.now()),
	}, nil
}

// ResolveTenant picks the tenant a request operates on. An empty request
// means the caller's own tenant. Only superusers may name another tenant,
// and the named tenant's own isolation still applies to their queries.
func ResolveTenant(id *Identity, requested string) (string, error) {
	if requested == "" || requested == id.TenantID {
		return id.TenantID, nil
	}
	if !id.IsSuperuser {
		return "", &AuthorizationError{Reason: ReasonTenantBoundary, Requirement: requested}
	}
	return requested, nil
}

// TenantCapabilities loads a tenant and returns its feature set.
func (s *Service) TenantCapabilities(ctx context.Context, tenantID string) (*Tenant, Capabilities, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return t, CapabilitiesFor(t), nil
}

// InvalidateTenant drops the cached active flag after a tenant changes.
func (s *Service) InvalidateTenant(tenantID string) {
	s.tenantsC.invalidate(tenantID)
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Token lifetimes used when no override is configured.
const (
	DefaultAccessTTL     = 30 * time.Minute
	DefaultRefreshTTL    = 7 * 24 * time.Hour
	DefaultRememberMeTTL = 7 * 24 * time.Hour
	DefaultIssuer        = "warden"

	minSecretLength = 32
)

// ErrWeakSecret is returned by NewTokenService for a short signing secret.
var ErrWeakSecret = errors.New("jwt signing secret must be at least 32 bytes")

// TokenType tags a token as access or refresh. A token of one type is
// never accepted where the other is required.
type TokenType string

// Token types.
const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the signed payload of every Warden token. Refresh tokens carry
// only the registered claims, tenant and type.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string    `json:"tenant_id"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"perms,omitempty"`
	IsActive    bool      `json:"is_active,omitempty"`
	IsSuperuser bool      `json:"is_superuser,omitempty"`
	Type        TokenType `json:"type"`
}

// AccessClaims is the identity snapshot embedded in an access token.
type AccessClaims struct {
	AccountID   string
	TenantID    string
	Username    string
	Email       string
	Roles       []string
	Permissions []string
	IsActive    bool
	IsSuperuser bool
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
}

// TokenService issues and verifies HS256-signed bearer tokens.
//
// Verification is a pure function of the token, the secret and the clock,
// so a TokenService is safe for concurrent use.
type TokenService struct {
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rememberTTL time.Duration
	now         func() time.Time
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now. Used by tests to move across expiry boundaries.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// WithAccessTTL sets the default access token lifetime.
func WithAccessTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.refreshTTL = d
		}
	}
}

// WithRememberMeTTL sets the access token lifetime granted by "remember me".
func WithRememberMeTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.rememberTTL = d
		}
	}
}

// WithIssuer sets the iss claim written and required on every token.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// NewTokenService creates a TokenService signing with secret.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	s := &TokenService{
		secret:      []byte(secret),
		issuer:      DefaultIssuer,
		accessTTL:   DefaultAccessTTL,
		refreshTTL:  DefaultRefreshTTL,
		rememberTTL: DefaultRememberMeTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the default access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// AccessTTLFor returns the access lifetime for one login. Remember-me
// extends only that issuance; refresh tokens are unaffected.
func (s *TokenService) AccessTTLFor(rememberMe bool) time.Duration {
	if rememberMe {
		return s.rememberTTL
	}
	return s.accessTTL
}

// IssueAccess signs an access token for c valid for ttl (default when ttl <= 0).
func (s *TokenService) IssueAccess(c AccessClaims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	claims := s.baseClaims(c.AccountID, c.TenantID, TokenAccess, ttl)
	claims.Username = c.Username
	claims.Email = c.Email
	claims.Roles = c.Roles
	claims.Permissions = c.Permissions
	claims.IsActive = c.IsActive
	claims.IsSuperuser = c.IsSuperuser
	return s.sign(claims)
}

// IssueRefresh signs a refresh token carrying only subject and tenant.
func (s *TokenService) IssueRefresh(subject, tenantID string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.refreshTTL
	}
	return s.sign(s.baseClaims(subject, tenantID, TokenRefresh, ttl))
}

// IssuePair issues an access token (lifetime accessTTL) and a refresh token.
func (s *TokenService) IssuePair(c AccessClaims, accessTTL time.Duration) (*TokenPair, error) {
	access, accessExp, err := s.IssueAccess(c, accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.IssueRefresh(c.AccountID, c.TenantID, 0)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(accessExp.Sub(s.now()).Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) baseClaims(subject, tenantID string, typ TokenType, ttl time.Duration) *Claims {
	now := s.now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		},
		TenantID: tenantID,
		Type:     typ,
	}
}

func (s *TokenService) sign(claims *Claims) (string, time.Time, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing %s token: %w", claims.Type, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, issuer, expiry and type tag. A token is valid
// while now < exp, at one-second precision.
//
// Every failure returns ErrTokenInvalid and nothing else, so callers cannot
// tell an expired token from a forged one.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" || claims.TenantID == "" {
		return nil, ErrTokenInvalid
	}
	switch claims.Type {
	case TokenAccess, TokenRefresh:
	default:
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyAccess verifies tokenString and requires type "access".
func (s *TokenService) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verifyType(tokenString, TokenAccess)
}

// VerifyRefresh verifies tokenString and requires type "refresh".
func (s *TokenService) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verifyType(tokenString, TokenRefresh)
}

func (s *TokenService) verifyType(tokenString string, want TokenType) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

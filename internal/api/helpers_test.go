package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/device"
	"github.com/nerrad567/warden-core/internal/infrastructure/config"
	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/metrics"
	"github.com/nerrad567/warden-core/internal/ratelimit"
	"github.com/nerrad567/warden-core/migrations"
)

const (
	testSecret   = "test-secret-key-at-least-32-characters-long"
	testPassword = "Correct-Horse-9"
	tenantA      = "tower-a"
	tenantB      = "tower-b"
)

// recordingSink collects published security events.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.SecurityEvent
}

func (s *recordingSink) Publish(ev auth.SecurityEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) has(kind auth.EventKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// testEnv is a Server over a migrated SQLite database with two tenants.
type testEnv struct {
	srv      *Server
	handler  http.Handler
	db       *database.DB
	accounts *auth.SQLiteAccountRepository
	roles    *auth.SQLiteRoleRepository
	tenants  *auth.SQLiteTenantRepository
	devices  *device.Registry
	audit    *audit.SQLiteRepository
	events   *recordingSink
}

type envOption func(*Deps)

func withLimiter(l *ratelimit.SlidingWindow) envOption {
	return func(d *Deps) { d.Limiter = l }
}

func withTrustProxy() envOption {
	return func(d *Deps) { d.Config.TrustProxy = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	env := &testEnv{
		db:       db,
		accounts: auth.NewAccountRepository(db.DB),
		roles:    auth.NewRoleRepository(db.DB),
		tenants:  auth.NewTenantRepository(db.DB),
		audit:    audit.NewSQLiteRepository(db.DB),
		events:   &recordingSink{},
	}
	log := logging.Discard()

	if _, err := auth.SeedSystem(t.Context(), env.accounts, env.roles, env.tenants, log.Logger); err != nil {
		t.Fatalf("SeedSystem() error = %v", err)
	}
	for _, id := range []string{tenantA, tenantB} {
		if err := env.tenants.Create(t.Context(), &auth.Tenant{ID: id, Name: id, IsActive: true}); err != nil {
			t.Fatalf("creating tenant %s: %v", id, err)
		}
	}

	tokens, err := auth.NewTokenService(testSecret)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	svc := auth.NewService(auth.Deps{
		Accounts: env.accounts,
		Roles:    env.roles,
		Tenants:  env.tenants,
		Sessions: auth.NewSessionRepository(db.DB),
		Tokens:   tokens,
		Events:   env.events,
		Logger:   log.Logger,
	}, auth.DefaultConfig())

	env.devices = device.NewRegistry(device.NewSQLiteRepository(db.DB))
	if err := env.devices.RefreshCache(t.Context()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	m := metrics.New()
	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  log,
		Auth:    svc,
		Devices: env.devices,
		Audit:   env.audit,
		Events:  env.events,
		Metrics: m,
		Health: []HealthChecker{
			{Name: "database", Check: db.HealthCheck},
		},
		Version: "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	go srv.hub.Run(t.Context())

	env.srv = srv
	env.handler = srv.Handler()
	return env
}

// seedAccount creates an active account holding the given role codes.
func (e *testEnv) seedAccount(t *testing.T, tenantID, username string, roleCodes ...string) *auth.Account {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	changed := time.Now().UTC()
	account := &auth.Account{
		Username:          username,
		Email:             username + "@example.com",
		DisplayName:       username,
		PasswordHash:      hash,
		IsActive:          true,
		PasswordChangedAt: &changed,
	}
	account.TenantID = tenantID
	if err := e.accounts.Create(t.Context(), account); err != nil {
		t.Fatalf("creating account %s: %v", username, err)
	}
	for _, code := range roleCodes {
		role, err := e.roles.GetRoleByCode(t.Context(), tenantID, code)
		if err != nil {
			t.Fatalf("GetRoleByCode(%s) error = %v", code, err)
		}
		if err := e.roles.Assign(t.Context(), &auth.RoleAssignment{AccountID: account.ID, RoleID: role.ID, TenantID: tenantID}); err != nil {
			t.Fatalf("assigning %s: %v", code, err)
		}
	}
	return account
}

func (e *testEnv) seedSuperuser(t *testing.T, tenantID, username string) *auth.Account {
	t.Helper()
	account := e.seedAccount(t, tenantID, username)
	if _, err := e.db.ExecContext(t.Context(), "UPDATE accounts SET is_superuser = 1 WHERE id = ?", account.ID); err != nil {
		t.Fatalf("promoting %s: %v", username, err)
	}
	account.IsSuperuser = true
	return account
}

// do sends a request through the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// login returns an access token for the account or fails the test.
func (e *testEnv) login(t *testing.T, a *auth.Account) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"tenant_id": a.TenantID,
		"username":  a.Username,
		"password":  testPassword,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s status = %d, body = %s", a.Username, w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &resp)
	return resp.AccessToken
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func newRecorder() *httptest.ResponseRecorder { return httptest.NewRecorder() }

package auth

import (
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/migrations"
)

const (
	testSecret   = "test-secret-key-at-least-32-chars!"
	testPassword = "Correct-Horse-9"
)

// testDB opens a temporary SQLite database with every migration applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
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
	return db.DB
}

func discardLogger() *slog.Logger {
	return logging.Discard().Logger
}

// testClock is a settable clock shared by the token and login services.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (s *recordingSink) Publish(ev SecurityEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

// fixture bundles a seeded database and a Service on a fixed clock.
type fixture struct {
	db       *sql.DB
	clock    *testClock
	accounts *SQLiteAccountRepository
	roles    *SQLiteRoleRepository
	tenants  *SQLiteTenantRepository
	sessions *SQLiteSessionRepository
	tokens   *TokenService
	events   *recordingSink
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testDB(t)
	f := &fixture{
		db:       db,
		clock:    newTestClock(),
		accounts: NewAccountRepository(db),
		roles:    NewRoleRepository(db),
		tenants:  NewTenantRepository(db),
		sessions: NewSessionRepository(db),
		events:   &recordingSink{},
	}

	tokens, err := NewTokenService(testSecret, WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	f.tokens = tokens

	if _, err := SeedSystem(t.Context(), f.accounts, f.roles, f.tenants, discardLogger()); err != nil {
		t.Fatalf("SeedSystem() error = %v", err)
	}

	f.svc = NewService(Deps{
		Accounts: f.accounts,
		Roles:    f.roles,
		Tenants:  f.tenants,
		Sessions: f.sessions,
		Tokens:   tokens,
		Events:   f.events,
		Logger:   discardLogger(),
	}, DefaultConfig(), WithServiceClock(f.clock.Now))
	return f
}

// seedTenant creates an active tenant with the given settings.
func (f *fixture) seedTenant(t *testing.T, id string, settings TenantSettings) *Tenant {
	t.Helper()
	tenant := &Tenant{ID: id, Name: id, IsActive: true, Settings: settings}
	if err := f.tenants.Create(t.Context(), tenant); err != nil {
		t.Fatalf("creating tenant %s: %v", id, err)
	}
	return tenant
}

// seedAccount creates an active account with testPassword and the given
// role codes.
func (f *fixture) seedAccount(t *testing.T, tenantID, username string, roleCodes ...string) *Account {
	t.Helper()

	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	changed := f.clock.Now()
	account := &Account{
		Username:          username,
		Email:             username + "@example.com",
		DisplayName:       username,
		PasswordHash:      hash,
		IsActive:          true,
		PasswordChangedAt: &changed,
	}
	account.TenantID = tenantID
	if err := f.accounts.Create(t.Context(), account); err != nil {
		t.Fatalf("creating account %s: %v", username, err)
	}

	for _, code := range roleCodes {
		role, err := f.roles.GetRoleByCode(t.Context(), tenantID, code)
		if err != nil {
			t.Fatalf("GetRoleByCode(%s) error = %v", code, err)
		}
		if err := f.roles.Assign(t.Context(), &RoleAssignment{AccountID: account.ID, RoleID: role.ID, TenantID: tenantID}); err != nil {
			t.Fatalf("assigning %s: %v", code, err)
		}
	}
	return account
}

func (f *fixture) seedSuperuser(t *testing.T, tenantID, username string) *Account {
	t.Helper()
	account := f.seedAccount(t, tenantID, username)
	if _, err := f.db.ExecContext(t.Context(), "UPDATE accounts SET is_superuser = 1 WHERE id = ?", account.ID); err != nil {
		t.Fatalf("promoting %s: %v", username, err)
	}
	account.IsSuperuser = true
	return account
}

// identityFor logs in as the account and returns the verified identity.
func (f *fixture) identityFor(t *testing.T, a *Account) *Identity {
	t.Helper()
	res, err := f.svc.Authenticate(t.Context(), LoginRequest{TenantID: a.TenantID, Identifier: a.Username, Password: testPassword})
	if err != nil {
		t.Fatalf("Authenticate(%s) error = %v", a.Username, err)
	}
	id, err := f.svc.VerifyBearer(t.Context(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyBearer() error = %v", err)
	}
	return id
}

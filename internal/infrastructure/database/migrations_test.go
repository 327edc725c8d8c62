package database

import (
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_090000_create_tenants.up.sql": {
			Data: []byte("CREATE TABLE test_tenants (id TEXT PRIMARY KEY);"),
		},
		"20260301_090000_create_tenants.down.sql": {
			Data: []byte("DROP TABLE test_tenants;"),
		},
		"20260302_090000_create_accounts.up.sql": {
			Data: []byte("CREATE TABLE test_accounts (id TEXT PRIMARY KEY, tenant_id TEXT REFERENCES test_tenants(id));"),
		},
		"20260302_090000_create_accounts.down.sql": {
			Data: []byte("DROP TABLE test_accounts;"),
		},
		"README.md": {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(t.Context(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := t.Context()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"test_tenants", "test_accounts"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := t.Context()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_accounts") {
		t.Error("test_accounts should be dropped by rollback")
	}
	if !tableExists(t, db, "test_tenants") {
		t.Error("test_tenants should survive a single rollback")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "create_accounts" {
		t.Errorf("pending = %+v, want [create_accounts]", pending)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(t.Context(), nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
	if err := db.Migrate(t.Context(), fstest.MapFS{}); err != nil {
		t.Fatalf("Migrate(empty) error = %v", err)
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"20260301_090000_broken.up.sql": {Data: []byte("CREATE TABLE half_done (id TEXT); NOT VALID SQL;")},
	}

	if err := db.Migrate(t.Context(), fsys); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}
	if tableExists(t, db, "half_done") {
		t.Error("failed migration left a table behind")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260118_120000_create_users.up.sql", "20260118_120000", true, true},
		{"20260118_120000_create_users.down.sql", "20260118_120000", false, true},
		{"readme.txt", "", false, false},
		{"20260118_120000_create_users.sql", "", false, false},
		{"invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && (version != tt.wantVersion || isUp != tt.wantIsUp) {
				t.Errorf("got (%q, %v), want (%q, %v)", version, isUp, tt.wantVersion, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260118_120000_create_users.up.sql", "create_users"},
		{"20260118_120000_initial_schema.down.sql", "initial_schema"},
	}

	for _, tt := range tests {
		if got := extractMigrationName(tt.filename); got != tt.want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

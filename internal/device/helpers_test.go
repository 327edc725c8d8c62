package device

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/infrastructure/database"
	"github.com/nerrad567/warden-core/migrations"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "device-test.db"),
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

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(NewSQLiteRepository(testDB(t)))
	reg.SetClock(func() time.Time { return testNow })
	return reg
}

func mustCreate(t *testing.T, reg *Registry, tenantID, name string, kind Kind) *Device {
	t.Helper()
	d := &Device{Name: name, Kind: kind}
	d.TenantID = tenantID
	if err := reg.Create(t.Context(), "acc-admin", d); err != nil {
		t.Fatalf("Create(%s) error = %v", name, err)
	}
	return d
}

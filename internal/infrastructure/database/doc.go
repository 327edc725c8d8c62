// Package database provides SQLite connectivity for Warden Core.
//
// It owns the connection lifecycle (WAL mode, busy timeout, foreign keys,
// single-writer pool) and a small forward-only migration runner. The
// migration set is passed in as an fs.FS so callers and tests choose which
// schema to apply:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements and the database file is
// created with 0600 permissions.
package database

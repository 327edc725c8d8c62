// Package migrations embeds the SQLite schema into the binary.
//
// Files follow the YYYYMMDD_HHMMSS_description.{up,down}.sql convention and
// are applied by database.DB.Migrate:
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil { ... }
package migrations

import "embed"

// FS holds every migration file at its root.
//
//go:embed *.sql
var FS embed.FS

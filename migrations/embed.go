// Package migrations embeds the device settings schema into the binaries.
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with a matching
// .down.sql and are applied by database.DB.Migrate.
package migrations

import "embed"

// FS holds every migration file at its root.
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds the goose SQL migrations that create the
// schema this core reads and mutates: profiles, vault_entries,
// vault_entry_tombstones, and push_devices.
package migrations

import "embed"

// FS holds the embedded .sql migration files, consumed by
// internal/postgres.Migrate via goose.SetBaseFS.
//
//go:embed *.sql
var FS embed.FS

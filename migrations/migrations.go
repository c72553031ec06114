// Package migrations embeds the tenant schema for the billing ledger.
package migrations

import "embed"

// FS holds every versioned SQL file, applied in version order by db.Migrator.
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds the goose SQL migrations for the ingestion database.
package migrations

import "embed"

// FS holds the migration files applied by database.Open.
//
//go:embed *.sql
var FS embed.FS

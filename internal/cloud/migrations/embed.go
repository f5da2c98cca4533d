// Package migrations embeds the goose SQL migrations for the cloud store.
package migrations

import "embed"

// FS holds the migration files applied by cloud.Open.
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds versioned SQLite schema files.
package migrations

import "embed"

// FS exposes the embedded migration files in lexical order.
//
//go:embed *.sql
var FS embed.FS

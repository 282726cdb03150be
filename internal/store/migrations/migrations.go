// Package migrations embeds the schema migrations for the SQL-backed
// post store, applied through goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

// Package pgmigrations embeds the Postgres variant of the post store
// schema. SQLite and Postgres disagree on autoincrement syntax, so each
// dialect keeps its own migration set.
package pgmigrations

import "embed"

//go:embed *.sql
var Migrations embed.FS

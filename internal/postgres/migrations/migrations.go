// Package migrations embeds the SQL migration files applied by postgres.Migrate via goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

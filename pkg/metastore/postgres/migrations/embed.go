// Package migrations embeds the SQL migration files applied by
// golang-migrate, mirroring pkg/store/metadata/postgres/migrations in the
// teacher repo.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

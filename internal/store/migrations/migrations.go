// Package migrations embeds the schema migration files. Files are ordered
// by entity-family dependency: conversations before members, members before
// messages and transactions, the timeline view after both source tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

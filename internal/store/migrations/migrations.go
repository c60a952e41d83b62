// Package migrations embeds the SQL schema migrations for the offline
// cache. Migrations must stay additive (new tables, columns, indexes
// only) so upgrades never destroy queued un-synced messages.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations embeds the identity service's schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

package migrations

import "embed"

// FS contains the embedded run-store schema.
//
//go:embed *.sql
var FS embed.FS

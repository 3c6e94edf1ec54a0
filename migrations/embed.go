package migrations

import "embed"

// Files exposes embedded SQL migrations. Each driver reads its own directory,
// files within it are applied in lexicographical order.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

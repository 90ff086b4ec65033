// Package migrations holds the embedded goose migrations for the API
// database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

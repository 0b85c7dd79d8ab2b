package postgres

import "embed"

// Migrations holds the goose SQL migrations for the schema this package
// depends on.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Package db embeds the SQL migrations of the metadata and audit tables.
package db

import "embed"

// Migrations holds db/migrations/*.sql.
//
//go:embed migrations/*.sql
var Migrations embed.FS

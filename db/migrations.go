// Package db embeds the postgres schema migrations.
package db

import "embed"

// Migrations holds goose-annotated migrations/NNNN_name.sql files.
//
//go:embed migrations/*.sql
var Migrations embed.FS

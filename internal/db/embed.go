package db

import "embed"

// EmbedMigrations holds the run ledger schema.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS

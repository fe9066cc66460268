// Package migrations embeds the gateway's SQLite schema migrations.
package migrations

import (
	"embed"

	"github.com/nerrad567/sdr-gateway/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations for database.DB.Migrate.
func Source() database.Source {
	return database.Source{FS: files, Dir: "."}
}

// Package migrations embeds the gateway's SQL schema into the binary.
package migrations

import (
	"embed"

	"github.com/ImGhostCode/smart-garden/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}

package migrations

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed 20250519110402_backfill_dm_keys.go
var migrationsFS embed.FS

// Run applies all pending migrations. Safe to call on every startup.
func Run(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

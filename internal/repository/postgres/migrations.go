package postgres

import (
	"context"
	"embed"
	"io/fs"

	"github.com/nerochristian/robloxkeys/pkg/database"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies this package's schema migrations.
func Migrate(ctx context.Context, db database.DBTX) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return err
	}
	return database.Migrate(ctx, db, sub)
}

// Package migrations embeds the archive schema and builds migrate instances
// for it
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Table records the applied version
const Table = "schema_migrations"

// FS holds the numbered up/down SQL files
//
//go:embed *.sql
var FS embed.FS

// New creates a migrate instance on db. An empty dir uses the embedded
// files; otherwise migrations are read from that directory.
func New(db *sql.DB, dir string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: Table})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	if dir == "" {
		src, err := iofs.New(FS, ".")
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "postgres", driver)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	return migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
}

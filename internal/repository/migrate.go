package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MigrationFS returns the embedded goose migrations.
func MigrationFS() fs.FS {
	sub, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		panic(fmt.Sprintf("repository: migrations fs: %v", err))
	}
	return sub
}

func newMigrationProvider(db *sql.DB) (*goose.Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("repository: db must not be nil")
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, MigrationFS())
	if err != nil {
		return nil, fmt.Errorf("repository: create goose provider: %w", err)
	}
	return p, nil
}

// Migrate applies every pending migration and returns the applied versions.
func Migrate(ctx context.Context, db *sql.DB) ([]int64, error) {
	p, err := newMigrationProvider(db)
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: apply migrations: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// MigrationVersion reports the current schema version.
func MigrationVersion(ctx context.Context, db *sql.DB) (int64, error) {
	p, err := newMigrationProvider(db)
	if err != nil {
		return 0, err
	}
	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository: read schema version: %w", err)
	}
	return v, nil
}

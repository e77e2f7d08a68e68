// Package store is the Postgres persistence layer: sync batch history,
// dead-letter failed records, pending-child retries, per-entity sync
// cursors, background-backfill schedules, and the operator-owned entity
// and field-mapping configuration.
package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store wraps the Postgres connection pool shared by every repository
// method in this package.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and runs any pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sqlx.DB, for callers (migrations tooling,
// admin scripts) that need raw access outside this package's repository
// methods.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Package sqlstore implements the storage.Interfaces contract on a
// relational SQLite database, the teacher's alternative to the Redis
// document-KV backend in pkg/storage/redisdoc. Schema migrations are
// managed with github.com/pressly/goose/v3 and driven by
// modernc.org/sqlite (no cgo), grounded on the teacher's
// pkg/storage/sqlite single-writer pragma tuning.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/actingweb/aw/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a single-writer SQLite connection with the pragmas the
// ActingWeb runtime needs for durability under concurrent actors.
type DB struct {
	db *sql.DB
}

// DefaultDBPath returns the default location for the actor database file.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "actingweb", "actingweb.db")
}

// Open creates (if needed) and migrates the database at path, applying
// the same WAL/busy-timeout/foreign-key pragma set the teacher tunes its
// single-writer SQLite connection with.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlstore: create db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	// SQLite has one writer; a pool only adds lock contention.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -2000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("sqlstore: %s: %w", p, err)
		}
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: set dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}

	logger.Infow("sqlstore opened", "path", path)
	return &DB{db: sqlDB}, nil
}

// DB exposes the underlying *sql.DB for direct queries.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Close releases the connection.
func (d *DB) Close() error {
	return d.db.Close()
}

package sqlstore

import (
	"context"
	"database/sql"

	"github.com/actingweb/aw/pkg/storage"
)

// Store is a storage.Interfaces implementation on top of a *DB.
type Store struct {
	db *DB
}

// New opens and migrates the database at path and returns a ready Store.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open DB, used by tests.
func NewWithDB(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) conn() *sql.DB {
	return s.db.DB()
}

func mapNoRows(err error) error {
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	return err
}

var _ storage.Interfaces = (*Store)(nil)

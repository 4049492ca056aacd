package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) HasProperty(ctx context.Context, actorID, name string) (bool, error) {
	var exists int
	err := s.conn().QueryRowContext(ctx,
		`SELECT 1 FROM properties WHERE actor_id = ? AND name = ?`, actorID, name,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) GetListMetadata(ctx context.Context, actorID, name string) (*storage.ListMetadata, error) {
	m := &storage.ListMetadata{ActorID: actorID, Name: name}
	err := s.conn().QueryRowContext(ctx,
		`SELECT description, explanation, created_at, updated_at, version, length
		 FROM list_metadata WHERE actor_id = ? AND name = ?`, actorID, name,
	).Scan(&m.Description, &m.Explanation, &m.CreatedAt, &m.UpdatedAt, &m.Version, &m.Length)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return m, nil
}

func (s *Store) PutListMetadata(ctx context.Context, m *storage.ListMetadata) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO list_metadata (actor_id, name, description, explanation, created_at, updated_at, version, length)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (actor_id, name) DO UPDATE SET
			description = excluded.description,
			explanation = excluded.explanation,
			updated_at  = excluded.updated_at,
			version     = excluded.version,
			length      = excluded.length`,
		m.ActorID, m.Name, m.Description, m.Explanation, m.CreatedAt, m.UpdatedAt, m.Version, m.Length)
	return err
}

func (s *Store) DeleteList(ctx context.Context, actorID, name string) error {
	// list_items carries a composite FK to list_metadata with ON DELETE
	// CASCADE, so deleting the metadata row is enough.
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM list_metadata WHERE actor_id = ? AND name = ?`, actorID, name)
	return err
}

func (s *Store) AppendListItem(ctx context.Context, actorID, name string, value []byte) (int, error) {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var next sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(idx) FROM list_items WHERE actor_id = ? AND name = ?`, actorID, name,
	).Scan(&next); err != nil {
		return 0, err
	}
	idx := 0
	if next.Valid {
		idx = int(next.Int64) + 1
	}
	if err := s.ensureListMetadataTx(ctx, tx, actorID, name); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO list_items (actor_id, name, idx, value) VALUES (?, ?, ?, ?)`,
		actorID, name, idx, value); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_metadata SET length = length + 1, updated_at = ? WHERE actor_id = ? AND name = ?`,
		time.Now(), actorID, name); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return idx, nil
}

func (s *Store) ensureListMetadataTx(ctx context.Context, tx *sql.Tx, actorID, name string) error {
	now := time.Now()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO list_metadata (actor_id, name, created_at, updated_at, version, length)
		 VALUES (?, ?, ?, ?, 0, 0)
		 ON CONFLICT (actor_id, name) DO NOTHING`,
		actorID, name, now, now)
	return err
}

// InsertListItem shifts every item at index >= index up by one to make
// room, mirroring redisdoc's LInsertBefore semantics.
func (s *Store) InsertListItem(ctx context.Context, actorID, name string, index int, value []byte) error {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE list_items SET idx = idx + 1 WHERE actor_id = ? AND name = ? AND idx >= ?`,
		actorID, name, index); err != nil {
		return err
	}
	if err := s.ensureListMetadataTx(ctx, tx, actorID, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO list_items (actor_id, name, idx, value) VALUES (?, ?, ?, ?)`,
		actorID, name, index, value); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_metadata SET length = length + 1, updated_at = ? WHERE actor_id = ? AND name = ?`,
		time.Now(), actorID, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateListItemAt(ctx context.Context, actorID, name string, index int, value []byte) error {
	res, err := s.conn().ExecContext(ctx,
		`UPDATE list_items SET value = ? WHERE actor_id = ? AND name = ? AND idx = ?`,
		value, actorID, name, index)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteListItemAt(ctx context.Context, actorID, name string, index int) error {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM list_items WHERE actor_id = ? AND name = ? AND idx = ?`, actorID, name, index)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_items SET idx = idx - 1 WHERE actor_id = ? AND name = ? AND idx > ?`,
		actorID, name, index); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_metadata SET length = length - 1, updated_at = ? WHERE actor_id = ? AND name = ?`,
		time.Now(), actorID, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetListItems(ctx context.Context, actorID, name string) ([]*storage.ListItem, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT idx, value FROM list_items WHERE actor_id = ? AND name = ? ORDER BY idx`, actorID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.ListItem
	for rows.Next() {
		item := &storage.ListItem{ActorID: actorID, Name: name}
		if err := rows.Scan(&item.Index, &item.Value); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) ClearList(ctx context.Context, actorID, name string) error {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM list_items WHERE actor_id = ? AND name = ?`, actorID, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE list_metadata SET length = 0, updated_at = ? WHERE actor_id = ? AND name = ?`,
		time.Now(), actorID, name); err != nil {
		return err
	}
	return tx.Commit()
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) GetProperty(ctx context.Context, actorID, name string) (*storage.Property, error) {
	p := &storage.Property{ActorID: actorID, Name: name}
	err := s.conn().QueryRowContext(ctx,
		`SELECT value FROM properties WHERE actor_id = ? AND name = ?`, actorID, name,
	).Scan(&p.Value)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return p, nil
}

func (s *Store) SetProperty(ctx context.Context, p *storage.Property) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO properties (actor_id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT (actor_id, name) DO UPDATE SET value = excluded.value`,
		p.ActorID, p.Name, p.Value)
	return err
}

func (s *Store) DeleteProperty(ctx context.Context, actorID, name string) error {
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM properties WHERE actor_id = ? AND name = ?`, actorID, name)
	return err
}

func (s *Store) DeleteAllProperties(ctx context.Context, actorID string) error {
	_, err := s.conn().ExecContext(ctx, `DELETE FROM properties WHERE actor_id = ?`, actorID)
	return err
}

func (s *Store) ListProperties(ctx context.Context, actorID string) ([]*storage.Property, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT name, value FROM properties WHERE actor_id = ?`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Property
	for rows.Next() {
		p := &storage.Property{ActorID: actorID}
		if err := rows.Scan(&p.Name, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) HasList(ctx context.Context, actorID, name string) (bool, error) {
	var exists int
	err := s.conn().QueryRowContext(ctx,
		`SELECT 1 FROM list_metadata WHERE actor_id = ? AND name = ?`, actorID, name,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LookupByIndexedProperty resolves via the dedicated property_index
// lookup table, sqlstore's counterpart to redisdoc's secondary-index hash.
func (s *Store) LookupByIndexedProperty(ctx context.Context, name, value string) (string, error) {
	var actorID string
	err := s.conn().QueryRowContext(ctx,
		`SELECT actor_id FROM property_index WHERE name = ? AND value = ?`, name, value,
	).Scan(&actorID)
	if err != nil {
		return "", mapNoRows(err)
	}
	return actorID, nil
}

func (s *Store) IndexProperty(ctx context.Context, name, value, actorID string) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO property_index (name, value, actor_id) VALUES (?, ?, ?)
		 ON CONFLICT (name, value) DO UPDATE SET actor_id = excluded.actor_id`,
		name, value, actorID)
	return err
}

func (s *Store) UnindexProperty(ctx context.Context, name, value string) error {
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM property_index WHERE name = ? AND value = ?`, name, value)
	return err
}

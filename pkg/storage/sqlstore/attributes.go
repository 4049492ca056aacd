package sqlstore

import (
	"context"
	"time"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) GetAttribute(ctx context.Context, actorID, bucket, name string) (*storage.Attribute, error) {
	a := &storage.Attribute{ActorID: actorID, Bucket: bucket, Name: name}
	err := s.conn().QueryRowContext(ctx,
		`SELECT value, ttl_epoch FROM attributes WHERE actor_id = ? AND bucket = ? AND name = ?`,
		actorID, bucket, name,
	).Scan(&a.Value, &a.TTLEpoch)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if a.TTLEpoch > 0 && time.Now().Unix() >= a.TTLEpoch {
		return nil, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) SetAttribute(ctx context.Context, a *storage.Attribute) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO attributes (actor_id, bucket, name, value, ttl_epoch) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (actor_id, bucket, name) DO UPDATE SET value = excluded.value, ttl_epoch = excluded.ttl_epoch`,
		a.ActorID, a.Bucket, a.Name, a.Value, a.TTLEpoch)
	return err
}

func (s *Store) DeleteAttribute(ctx context.Context, actorID, bucket, name string) error {
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM attributes WHERE actor_id = ? AND bucket = ? AND name = ?`, actorID, bucket, name)
	return err
}

func (s *Store) ListAttributes(ctx context.Context, actorID, bucket string) ([]*storage.Attribute, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT name, value, ttl_epoch FROM attributes WHERE actor_id = ? AND bucket = ?`, actorID, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().Unix()
	var out []*storage.Attribute
	for rows.Next() {
		a := &storage.Attribute{ActorID: actorID, Bucket: bucket}
		if err := rows.Scan(&a.Name, &a.Value, &a.TTLEpoch); err != nil {
			return nil, err
		}
		if a.TTLEpoch > 0 && now >= a.TTLEpoch {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBucket(ctx context.Context, actorID, bucket string) error {
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM attributes WHERE actor_id = ? AND bucket = ?`, actorID, bucket)
	return err
}

package redisdoc

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) GetProperty(ctx context.Context, actorID, name string) (*storage.Property, error) {
	raw, err := s.rdb.HGet(ctx, s.k("props", actorID), name).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &storage.Property{ActorID: actorID, Name: name, Value: raw}, nil
}

func (s *Store) SetProperty(ctx context.Context, p *storage.Property) error {
	return s.rdb.HSet(ctx, s.k("props", p.ActorID), p.Name, p.Value).Err()
}

func (s *Store) DeleteProperty(ctx context.Context, actorID, name string) error {
	return s.rdb.HDel(ctx, s.k("props", actorID), name).Err()
}

func (s *Store) DeleteAllProperties(ctx context.Context, actorID string) error {
	return s.rdb.Del(ctx, s.k("props", actorID)).Err()
}

func (s *Store) ListProperties(ctx context.Context, actorID string) ([]*storage.Property, error) {
	m, err := s.rdb.HGetAll(ctx, s.k("props", actorID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Property, 0, len(m))
	for name, v := range m {
		out = append(out, &storage.Property{ActorID: actorID, Name: name, Value: []byte(v)})
	}
	return out, nil
}

func (s *Store) HasList(ctx context.Context, actorID, name string) (bool, error) {
	return s.rdb.HExists(ctx, s.k("listmeta", actorID), name).Result()
}

func (s *Store) LookupByIndexedProperty(ctx context.Context, name, value string) (string, error) {
	actorID, err := s.rdb.HGet(ctx, s.k("propidx", name), value).Result()
	if err == redis.Nil {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return actorID, nil
}

func (s *Store) IndexProperty(ctx context.Context, name, value, actorID string) error {
	// redisdoc's secondary-index form (see SPEC_FULL.md open-question
	// resolution: sqlstore instead uses a dedicated lookup table).
	return s.rdb.HSet(ctx, s.k("propidx", name), value, actorID).Err()
}

func (s *Store) UnindexProperty(ctx context.Context, name, value string) error {
	return s.rdb.HDel(ctx, s.k("propidx", name), value).Err()
}

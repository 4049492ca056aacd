package redisdoc

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) HasProperty(ctx context.Context, actorID, name string) (bool, error) {
	return s.rdb.HExists(ctx, s.k("props", actorID), name).Result()
}

func (s *Store) GetListMetadata(ctx context.Context, actorID, name string) (*storage.ListMetadata, error) {
	raw, err := s.rdb.HGet(ctx, s.k("listmeta", actorID), name).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m storage.ListMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) PutListMetadata(ctx context.Context, m *storage.ListMetadata) error {
	return s.rdb.HSet(ctx, s.k("listmeta", m.ActorID), m.Name, marshal(m)).Err()
}

func (s *Store) DeleteList(ctx context.Context, actorID, name string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.k("listmeta", actorID), name)
	pipe.Del(ctx, s.k("listitems", actorID, name))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) itemsKey(actorID, name string) string {
	return s.k("listitems", actorID, name)
}

func (s *Store) AppendListItem(ctx context.Context, actorID, name string, value []byte) (int, error) {
	n, err := s.rdb.RPush(ctx, s.itemsKey(actorID, name), value).Result()
	if err != nil {
		return 0, err
	}
	return int(n) - 1, nil
}

func (s *Store) InsertListItem(ctx context.Context, actorID, name string, index int, value []byte) error {
	key := s.itemsKey(actorID, name)
	items, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	if index < 0 || index > len(items) {
		return storage.ErrNotFound
	}
	if index == len(items) {
		return s.rdb.RPush(ctx, key, value).Err()
	}
	pivot := items[index]
	return s.rdb.LInsertBefore(ctx, key, pivot, value).Err()
}

func (s *Store) UpdateListItemAt(ctx context.Context, actorID, name string, index int, value []byte) error {
	err := s.rdb.LSet(ctx, s.itemsKey(actorID, name), int64(index), value).Err()
	if err != nil && err.Error() == "ERR no such key" {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) DeleteListItemAt(ctx context.Context, actorID, name string, index int) error {
	key := s.itemsKey(actorID, name)
	// Redis has no LREM-by-index; mark the slot with a sentinel unique
	// value then remove that sentinel, the idiomatic go-redis pattern for
	// index deletion on a list.
	sentinel := []byte("__deleted_sentinel__")
	if err := s.rdb.LSet(ctx, key, int64(index), sentinel).Err(); err != nil {
		return err
	}
	return s.rdb.LRem(ctx, key, 1, sentinel).Err()
}

func (s *Store) GetListItems(ctx context.Context, actorID, name string) ([]*storage.ListItem, error) {
	raw, err := s.rdb.LRange(ctx, s.itemsKey(actorID, name), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*storage.ListItem, len(raw))
	for i, v := range raw {
		out[i] = &storage.ListItem{ActorID: actorID, Name: name, Index: i, Value: []byte(v)}
	}
	return out, nil
}

func (s *Store) ClearList(ctx context.Context, actorID, name string) error {
	return s.rdb.Del(ctx, s.itemsKey(actorID, name)).Err()
}

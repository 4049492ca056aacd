package redisdoc

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) bucketKey(actorID, bucket string) string {
	return s.k("attrs", actorID, bucket)
}

func (s *Store) GetAttribute(ctx context.Context, actorID, bucket, name string) (*storage.Attribute, error) {
	raw, err := s.rdb.HGet(ctx, s.bucketKey(actorID, bucket), name).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a storage.Attribute
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) SetAttribute(ctx context.Context, a *storage.Attribute) error {
	return s.rdb.HSet(ctx, s.bucketKey(a.ActorID, a.Bucket), a.Name, marshal(a)).Err()
}

func (s *Store) DeleteAttribute(ctx context.Context, actorID, bucket, name string) error {
	return s.rdb.HDel(ctx, s.bucketKey(actorID, bucket), name).Err()
}

func (s *Store) ListAttributes(ctx context.Context, actorID, bucket string) ([]*storage.Attribute, error) {
	m, err := s.rdb.HGetAll(ctx, s.bucketKey(actorID, bucket)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Attribute, 0, len(m))
	for _, raw := range m {
		var a storage.Attribute
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, err
		}
		if a.TTLEpoch > 0 && isExpired(a.TTLEpoch) {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *Store) DeleteBucket(ctx context.Context, actorID, bucket string) error {
	return s.rdb.Del(ctx, s.bucketKey(actorID, bucket)).Err()
}

package redisdoc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/actingweb/aw/pkg/storage"
)

func trustSecretIndexValue(actorID, peerID string) string {
	return actorID + ":" + peerID
}

func (s *Store) CreateTrust(ctx context.Context, t *storage.Trust) error {
	return s.UpdateTrust(ctx, t)
}

func (s *Store) GetTrust(ctx context.Context, actorID, peerID string) (*storage.Trust, error) {
	raw, err := s.rdb.HGet(ctx, s.k("trust", actorID), peerID).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t storage.Trust
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTrustBySecret(ctx context.Context, secret string) (*storage.Trust, error) {
	val, err := s.rdb.Get(ctx, s.k("trustsecret", secret)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(val, ":", 2)
	if len(parts) != 2 {
		return nil, storage.ErrNotFound
	}
	return s.GetTrust(ctx, parts[0], parts[1])
}

func (s *Store) UpdateTrust(ctx context.Context, t *storage.Trust) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.k("trust", t.ActorID), t.PeerID, marshal(t))
	if t.Secret != "" {
		pipe.Set(ctx, s.k("trustsecret", t.Secret), trustSecretIndexValue(t.ActorID, t.PeerID), 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) DeleteTrust(ctx context.Context, actorID, peerID string) error {
	t, err := s.GetTrust(ctx, actorID, peerID)
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.k("trust", actorID), peerID)
	if t != nil && t.Secret != "" {
		pipe.Del(ctx, s.k("trustsecret", t.Secret))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) ListTrusts(ctx context.Context, actorID string) ([]*storage.Trust, error) {
	m, err := s.rdb.HGetAll(ctx, s.k("trust", actorID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Trust, 0, len(m))
	for _, raw := range m {
		var t storage.Trust
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, nil
}

func (s *Store) ListTrustsByRelationship(ctx context.Context, actorID, relationship string) ([]*storage.Trust, error) {
	all, err := s.ListTrusts(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Relationship == relationship {
			out = append(out, t)
		}
	}
	return out, nil
}

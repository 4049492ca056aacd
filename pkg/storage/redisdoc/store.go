// Package redisdoc implements the storage.Interfaces contract as a
// document KV store on Redis, analogous to a hash(partition)+range(sort)
// key NoSQL table: each entity family is a Redis hash keyed by the actor
// id (the partition key) with the entity's secondary id as the hash field
// (the range key). It is grounded on the teacher's
// pkg/authserver/storage Redis backend (github.com/redis/go-redis/v9),
// and is exercised in tests via github.com/alicebob/miniredis/v2.
package redisdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/storage"
)

// Store is a Redis-backed storage.Interfaces implementation.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, allowing multiple logical deployments
	// to share one Redis instance.
	Prefix string
}

// New dials Redis and returns a ready Store.
func New(cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(rdb, cfg.Prefix), nil
}

// NewWithClient wraps an existing client, used by tests against miniredis.
func NewWithClient(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "aw:"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) k(parts ...string) string {
	key := s.prefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Programmer error: every type stored here is a plain struct.
		panic(fmt.Sprintf("redisdoc: marshal: %v", err))
	}
	return b
}

// --- Actors ---

func (s *Store) CreateActor(ctx context.Context, a *storage.Actor) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.k("actors"), a.ID, marshal(a))
	if a.Creator != "" {
		pipe.Set(ctx, s.k("actor_by_creator", a.Creator), a.ID, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetActor(ctx context.Context, id string) (*storage.Actor, error) {
	raw, err := s.rdb.HGet(ctx, s.k("actors"), id).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a storage.Actor
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetActorByCreator(ctx context.Context, creator string) (*storage.Actor, error) {
	id, err := s.rdb.Get(ctx, s.k("actor_by_creator", creator)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetActor(ctx, id)
}

func (s *Store) DeleteActor(ctx context.Context, id string) error {
	a, err := s.GetActor(ctx, id)
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	trusts, err := s.ListTrusts(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.k("actors"), id)
	if a != nil && a.Creator != "" {
		pipe.Del(ctx, s.k("actor_by_creator", a.Creator))
	}
	for _, t := range trusts {
		if t.Secret != "" {
			pipe.Del(ctx, s.k("trustsecret", t.Secret))
		}
	}
	pipe.Del(ctx,
		s.k("props", id),
		s.k("listmeta", id),
		s.k("trust", id),
		s.k("subs", id),
		s.k("suspend", id),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	// Per-list item lists and per-subscription diff hashes have
	// unbounded, dynamically-named keys; scan and remove them.
	s.deleteByPattern(ctx, s.k("listitems", id, "*"))
	s.deleteByPattern(ctx, s.k("diffs", id, "*"))
	s.deleteByPattern(ctx, s.k("attrs", id, "*"))
	s.deleteByPattern(ctx, s.k("cbstate", id, "*"))
	logger.Infow("actor deleted", "actor_id", id)
	return nil
}

func (s *Store) deleteByPattern(ctx context.Context, pattern string) {
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
}

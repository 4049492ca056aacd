package redisdoc

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) cbStateField(peerID, subID string) string {
	return peerID + ":" + subID
}

func (s *Store) GetCallbackState(ctx context.Context, actorID, peerID, subID string) (*storage.CallbackState, error) {
	raw, err := s.rdb.HGet(ctx, s.k("cbstate", actorID), s.cbStateField(peerID, subID)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var st storage.CallbackState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// casCallbackState is a Lua script: it only writes the new value if the
// current stored version matches expectedVersion (or the field is absent
// and expectedVersion is 0), mirroring the teacher's optimistic-concurrency
// pattern for shared counters.
var casCallbackState = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
local expected = tonumber(ARGV[3])
if current == false then
	if expected ~= 0 then
		return 0
	end
else
	local ok, decoded = pcall(cjson.decode, current)
	if not ok or tonumber(decoded.Version) ~= expected then
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

func (s *Store) PutCallbackStateCAS(ctx context.Context, newState *storage.CallbackState, expectedVersion int64) error {
	key := s.k("cbstate", newState.ActorID)
	field := s.cbStateField(newState.PeerID, newState.SubID)
	res, err := casCallbackState.Run(ctx, s.rdb, []string{key}, field, marshal(newState), expectedVersion).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return storage.ErrConflict
	}
	return nil
}

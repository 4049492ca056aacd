package redisdoc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/actingweb/aw/pkg/storage"
)

// --- Clients ---

func (s *Store) CreateClient(ctx context.Context, c *storage.OAuth2Client) error {
	return s.rdb.HSet(ctx, s.k("oauth2clients"), c.ClientID, marshal(c)).Err()
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.OAuth2Client, error) {
	raw, err := s.rdb.HGet(ctx, s.k("oauth2clients"), clientID).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c storage.OAuth2Client
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	return s.rdb.HDel(ctx, s.k("oauth2clients"), clientID).Err()
}

// --- Authorization codes ---
// Codes are short-lived (<=10min), so they get their own expiring key
// rather than living in a hash, mirroring the teacher's token-TTL pattern
// in pkg/authserver.

func (s *Store) PutAuthCode(ctx context.Context, c *storage.OAuth2AuthCode) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.rdb.Set(ctx, s.k("authcode", c.Code), marshal(c), ttl).Err()
}

func (s *Store) GetAuthCode(ctx context.Context, code string) (*storage.OAuth2AuthCode, error) {
	raw, err := s.rdb.Get(ctx, s.k("authcode", code)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c storage.OAuth2AuthCode
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ConsumeAuthCode(ctx context.Context, code string) error {
	c, err := s.GetAuthCode(ctx, code)
	if err != nil {
		return err
	}
	c.Used = true
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.rdb.Set(ctx, s.k("authcode", code), marshal(c), ttl).Err()
}

// --- Access tokens ---

func (s *Store) PutAccessToken(ctx context.Context, t *storage.OAuth2AccessToken) error {
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.k("accesstoken", t.Token), marshal(t), ttl)
	pipe.SAdd(ctx, s.k("clienttokens", t.ClientID), t.Token)
	pipe.Expire(ctx, s.k("clienttokens", t.ClientID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.OAuth2AccessToken, error) {
	raw, err := s.rdb.Get(ctx, s.k("accesstoken", token)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t storage.OAuth2AccessToken
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, s.k("accesstoken", token)).Err()
}

func (s *Store) DeleteAccessTokensForClient(ctx context.Context, clientID string) error {
	tokens, err := s.rdb.SMembers(ctx, s.k("clienttokens", clientID)).Result()
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, tok := range tokens {
		pipe.Del(ctx, s.k("accesstoken", tok))
	}
	pipe.Del(ctx, s.k("clienttokens", clientID))
	_, err = pipe.Exec(ctx)
	return err
}

// --- Refresh tokens ---

func (s *Store) PutRefreshToken(ctx context.Context, t *storage.OAuth2RefreshToken) error {
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.k("refreshtoken", t.Token), marshal(t), ttl)
	pipe.SAdd(ctx, s.k("clientrefresh", t.ClientID), t.Token)
	pipe.Expire(ctx, s.k("clientrefresh", t.ClientID), ttl)
	if t.FamilyID != "" {
		pipe.SAdd(ctx, s.k("refreshfamily", t.FamilyID), t.Token)
		pipe.Expire(ctx, s.k("refreshfamily", t.FamilyID), ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.OAuth2RefreshToken, error) {
	raw, err := s.rdb.Get(ctx, s.k("refreshtoken", token)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t storage.OAuth2RefreshToken
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// casRefreshTokenUsed mirrors casCallbackState: it flips Used false->true
// only if the token is still unused, returning 0 if it was already
// consumed (the rotation race in spec §4.8).
var casRefreshTokenUsed = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then
	return -1
end
local decoded = cjson.decode(current)
if decoded.Used then
	return 0
end
decoded.Used = true
decoded.UsedAt = ARGV[1]
decoded.ReplacedBy = ARGV[2]
local ttl = redis.call('TTL', KEYS[1])
if ttl < 0 then
	ttl = 1
end
redis.call('SET', KEYS[1], cjson.encode(decoded), 'EX', ttl)
return 1
`)

func (s *Store) MarkRefreshTokenUsedCAS(ctx context.Context, token string, replacedBy string, usedAtUnix int64) error {
	res, err := casRefreshTokenUsed.Run(ctx, s.rdb, []string{s.k("refreshtoken", token)}, time.Unix(usedAtUnix, 0).UTC().Format(time.RFC3339), replacedBy).Int()
	if err != nil {
		return err
	}
	switch res {
	case -1:
		return storage.ErrNotFound
	case 0:
		return storage.ErrConflict
	default:
		return nil
	}
}

func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, s.k("refreshtoken", token)).Err()
}

func (s *Store) DeleteRefreshTokensForClient(ctx context.Context, clientID string) error {
	tokens, err := s.rdb.SMembers(ctx, s.k("clientrefresh", clientID)).Result()
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, tok := range tokens {
		pipe.Del(ctx, s.k("refreshtoken", tok))
	}
	pipe.Del(ctx, s.k("clientrefresh", clientID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) DeleteFamily(ctx context.Context, familyID string) error {
	tokens, err := s.rdb.SMembers(ctx, s.k("refreshfamily", familyID)).Result()
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, tok := range tokens {
		pipe.Del(ctx, s.k("refreshtoken", tok))
	}
	pipe.Del(ctx, s.k("refreshfamily", familyID))
	_, err = pipe.Exec(ctx)
	return err
}

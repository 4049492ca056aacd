package redisdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/actingweb/aw/pkg/storage"
)

func subField(peerID, subID string) string {
	return peerID + ":" + subID
}

func (s *Store) CreateSubscription(ctx context.Context, sub *storage.Subscription) error {
	return s.rdb.HSet(ctx, s.k("subs", sub.ActorID), subField(sub.PeerID, sub.SubID), marshal(sub)).Err()
}

func (s *Store) GetSubscription(ctx context.Context, actorID, peerID, subID string) (*storage.Subscription, error) {
	raw, err := s.rdb.HGet(ctx, s.k("subs", actorID), subField(peerID, subID)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sub storage.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, actorID, peerID, subID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.k("subs", actorID), subField(peerID, subID))
	pipe.Del(ctx, s.k("diffs", actorID, subID))
	pipe.Del(ctx, s.k("seqnr", actorID, peerID, subID))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) ListSubscriptions(ctx context.Context, actorID string) ([]*storage.Subscription, error) {
	m, err := s.rdb.HGetAll(ctx, s.k("subs", actorID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Subscription, 0, len(m))
	for _, raw := range m {
		var sub storage.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return nil, err
		}
		out = append(out, &sub)
	}
	return out, nil
}

func (s *Store) ListSubscriptionsForTarget(ctx context.Context, actorID, target, subtarget string) ([]*storage.Subscription, error) {
	all, err := s.ListSubscriptions(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sub := range all {
		if sub.Target == target && (subtarget == "" || sub.SubTarget == subtarget) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *Store) NextSeqNr(ctx context.Context, actorID, peerID, subID string) (int64, error) {
	return s.rdb.Incr(ctx, s.k("seqnr", actorID, peerID, subID)).Result()
}

func diffField(seqnr int64) string {
	return strconv.FormatInt(seqnr, 10)
}

func (s *Store) PutDiff(ctx context.Context, d *storage.SubscriptionDiff) error {
	return s.rdb.HSet(ctx, s.k("diffs", d.ActorID, d.SubID), diffField(d.SeqNr), marshal(d)).Err()
}

func (s *Store) GetDiff(ctx context.Context, actorID, subID string, seqnr int64) (*storage.SubscriptionDiff, error) {
	raw, err := s.rdb.HGet(ctx, s.k("diffs", actorID, subID), diffField(seqnr)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d storage.SubscriptionDiff
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDiffs(ctx context.Context, actorID, subID string) ([]*storage.SubscriptionDiff, error) {
	m, err := s.rdb.HGetAll(ctx, s.k("diffs", actorID, subID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*storage.SubscriptionDiff, 0, len(m))
	for _, raw := range m {
		var d storage.SubscriptionDiff
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, nil
}

func (s *Store) DeleteDiff(ctx context.Context, actorID, subID string, seqnr int64) error {
	return s.rdb.HDel(ctx, s.k("diffs", actorID, subID), diffField(seqnr)).Err()
}

func suspendMember(target, subtarget string) string {
	return fmt.Sprintf("%s:%s", target, subtarget)
}

func (s *Store) Suspend(ctx context.Context, sus *storage.SubscriptionSuspension) error {
	return s.rdb.SAdd(ctx, s.k("suspend", sus.ActorID), suspendMember(sus.Target, sus.SubTarget)).Err()
}

func (s *Store) Resume(ctx context.Context, actorID, target, subtarget string) error {
	return s.rdb.SRem(ctx, s.k("suspend", actorID), suspendMember(target, subtarget)).Err()
}

func (s *Store) IsSuspended(ctx context.Context, actorID, target, subtarget string) (bool, error) {
	members, err := s.rdb.SMembers(ctx, s.k("suspend", actorID)).Result()
	if err != nil {
		return false, err
	}
	for _, m := range members {
		parts := strings.SplitN(m, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] != target {
			continue
		}
		if parts[1] == "" || parts[1] == subtarget {
			return true, nil
		}
	}
	return false, nil
}

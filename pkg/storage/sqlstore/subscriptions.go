package sqlstore

import (
	"context"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) CreateSubscription(ctx context.Context, sub *storage.Subscription) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO subscriptions (actor_id, peer_id, sub_id, target, subtarget, resource, granularity, callback)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (actor_id, peer_id, sub_id) DO UPDATE SET
			target = excluded.target, subtarget = excluded.subtarget, resource = excluded.resource,
			granularity = excluded.granularity, callback = excluded.callback`,
		sub.ActorID, sub.PeerID, sub.SubID, sub.Target, sub.SubTarget, sub.Resource, sub.Granularity, sub.Callback)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, actorID, peerID, subID string) (*storage.Subscription, error) {
	sub := &storage.Subscription{ActorID: actorID, PeerID: peerID, SubID: subID}
	err := s.conn().QueryRowContext(ctx,
		`SELECT target, subtarget, resource, granularity, callback
		 FROM subscriptions WHERE actor_id = ? AND peer_id = ? AND sub_id = ?`,
		actorID, peerID, subID,
	).Scan(&sub.Target, &sub.SubTarget, &sub.Resource, &sub.Granularity, &sub.Callback)
	if err != nil {
		return nil, mapNoRows(err)
	}
	seqnr, err := s.currentSeqNr(ctx, actorID, peerID, subID)
	if err != nil {
		return nil, err
	}
	sub.SeqNr = seqnr
	return sub, nil
}

func (s *Store) currentSeqNr(ctx context.Context, actorID, peerID, subID string) (int64, error) {
	var n int64
	err := s.conn().QueryRowContext(ctx,
		`SELECT value FROM seqnr_counters WHERE actor_id = ? AND peer_id = ? AND sub_id = ?`,
		actorID, peerID, subID,
	).Scan(&n)
	if mapNoRows(err) == storage.ErrNotFound {
		return 0, nil
	}
	return n, err
}

func (s *Store) DeleteSubscription(ctx context.Context, actorID, peerID, subID string) error {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE actor_id = ? AND peer_id = ? AND sub_id = ?`,
		actorID, peerID, subID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM seqnr_counters WHERE actor_id = ? AND peer_id = ? AND sub_id = ?`,
		actorID, peerID, subID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscription_diffs WHERE actor_id = ? AND sub_id = ?`, actorID, subID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListSubscriptions(ctx context.Context, actorID string) ([]*storage.Subscription, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT peer_id, sub_id, target, subtarget, resource, granularity, callback
		 FROM subscriptions WHERE actor_id = ?`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Subscription
	for rows.Next() {
		sub := &storage.Subscription{ActorID: actorID}
		if err := rows.Scan(&sub.PeerID, &sub.SubID, &sub.Target, &sub.SubTarget, &sub.Resource, &sub.Granularity, &sub.Callback); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, sub := range out {
		seqnr, err := s.currentSeqNr(ctx, actorID, sub.PeerID, sub.SubID)
		if err != nil {
			return nil, err
		}
		sub.SeqNr = seqnr
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

// NextSeqNr uses SQLite's UPSERT+RETURNING to atomically allocate the
// next sequence number in one statement; the single-writer connection
// (see Open) makes this safe without an explicit transaction.
func (s *Store) NextSeqNr(ctx context.Context, actorID, peerID, subID string) (int64, error) {
	var n int64
	err := s.conn().QueryRowContext(ctx,
		`INSERT INTO seqnr_counters (actor_id, peer_id, sub_id, value) VALUES (?, ?, ?, 1)
		 ON CONFLICT (actor_id, peer_id, sub_id) DO UPDATE SET value = value + 1
		 RETURNING value`,
		actorID, peerID, subID,
	).Scan(&n)
	return n, err
}

func (s *Store) PutDiff(ctx context.Context, d *storage.SubscriptionDiff) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO subscription_diffs (actor_id, sub_id, seqnr, timestamp, blob) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (actor_id, sub_id, seqnr) DO UPDATE SET timestamp = excluded.timestamp, blob = excluded.blob`,
		d.ActorID, d.SubID, d.SeqNr, d.Timestamp, d.Blob)
	return err
}

func (s *Store) GetDiff(ctx context.Context, actorID, subID string, seqnr int64) (*storage.SubscriptionDiff, error) {
	d := &storage.SubscriptionDiff{ActorID: actorID, SubID: subID, SeqNr: seqnr}
	err := s.conn().QueryRowContext(ctx,
		`SELECT timestamp, blob FROM subscription_diffs WHERE actor_id = ? AND sub_id = ? AND seqnr = ?`,
		actorID, subID, seqnr,
	).Scan(&d.Timestamp, &d.Blob)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return d, nil
}

func (s *Store) ListDiffs(ctx context.Context, actorID, subID string) ([]*storage.SubscriptionDiff, error) {
	rows, err := s.conn().QueryContext(ctx,
		`SELECT seqnr, timestamp, blob FROM subscription_diffs WHERE actor_id = ? AND sub_id = ? ORDER BY seqnr`,
		actorID, subID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.SubscriptionDiff
	for rows.Next() {
		d := &storage.SubscriptionDiff{ActorID: actorID, SubID: subID}
		if err := rows.Scan(&d.SeqNr, &d.Timestamp, &d.Blob); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDiff(ctx context.Context, actorID, subID string, seqnr int64) error {
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM subscription_diffs WHERE actor_id = ? AND sub_id = ? AND seqnr = ?`, actorID, subID, seqnr)
	return err
}

func (s *Store) Suspend(ctx context.Context, sus *storage.SubscriptionSuspension) error {
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO subscription_suspensions (actor_id, target, subtarget) VALUES (?, ?, ?)
		 ON CONFLICT (actor_id, target, subtarget) DO NOTHING`,
		sus.ActorID, sus.Target, sus.SubTarget)
	return err
}

func (s *Store) Resume(ctx context.Context, actorID, target, subtarget string) error {
	_, err := s.conn().ExecContext(ctx,
		`DELETE FROM subscription_suspensions WHERE actor_id = ? AND target = ? AND subtarget = ?`,
		actorID, target, subtarget)
	return err
}

func (s *Store) IsSuspended(ctx context.Context, actorID, target, subtarget string) (bool, error) {
	var exists int
	err := s.conn().QueryRowContext(ctx,
		`SELECT 1 FROM subscription_suspensions
		 WHERE actor_id = ? AND target = ? AND (subtarget = '' OR subtarget = ?) LIMIT 1`,
		actorID, target, subtarget,
	).Scan(&exists)
	if err != nil {
		if mapNoRows(err) == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

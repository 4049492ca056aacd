package sqlstore

import (
	"context"
	"encoding/json"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) GetCallbackState(ctx context.Context, actorID, peerID, subID string) (*storage.CallbackState, error) {
	st := &storage.CallbackState{ActorID: actorID, PeerID: peerID, SubID: subID}
	var pendingBlob []byte
	err := s.conn().QueryRowContext(ctx,
		`SELECT last_processed, pending, version FROM callback_state
		 WHERE actor_id = ? AND peer_id = ? AND sub_id = ?`, actorID, peerID, subID,
	).Scan(&st.LastProcessed, &pendingBlob, &st.Version)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if err := json.Unmarshal(pendingBlob, &st.Pending); err != nil {
		return nil, err
	}
	return st, nil
}

// PutCallbackStateCAS writes newState only if the stored version still
// equals expectedVersion (or the row is absent and expectedVersion is 0),
// the relational analogue of redisdoc's Lua CAS script.
func (s *Store) PutCallbackStateCAS(ctx context.Context, newState *storage.CallbackState, expectedVersion int64) error {
	pendingBlob, err := json.Marshal(newState.Pending)
	if err != nil {
		return err
	}

	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM callback_state WHERE actor_id = ? AND peer_id = ? AND sub_id = ?`,
		newState.ActorID, newState.PeerID, newState.SubID,
	).Scan(&currentVersion)
	switch {
	case mapNoRows(err) == storage.ErrNotFound:
		if expectedVersion != 0 {
			return storage.ErrConflict
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO callback_state (actor_id, peer_id, sub_id, last_processed, pending, version)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			newState.ActorID, newState.PeerID, newState.SubID, newState.LastProcessed, pendingBlob, newState.Version); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if currentVersion != expectedVersion {
			return storage.ErrConflict
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE callback_state SET last_processed = ?, pending = ?, version = ?
			 WHERE actor_id = ? AND peer_id = ? AND sub_id = ?`,
			newState.LastProcessed, pendingBlob, newState.Version,
			newState.ActorID, newState.PeerID, newState.SubID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

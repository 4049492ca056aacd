package sqlstore

import (
	"context"
	"database/sql"

	"github.com/actingweb/aw/pkg/storage"
)

func (s *Store) CreateActor(ctx context.Context, a *storage.Actor) error {
	var creator any
	if a.Creator != "" {
		creator = a.Creator
	}
	_, err := s.conn().ExecContext(ctx,
		`INSERT INTO actors (id, creator, passphrase_hash) VALUES (?, ?, ?)`,
		a.ID, creator, a.PassphraseHash)
	return err
}

func (s *Store) GetActor(ctx context.Context, id string) (*storage.Actor, error) {
	a := &storage.Actor{}
	var creator sql.NullString
	err := s.conn().QueryRowContext(ctx,
		`SELECT id, creator, passphrase_hash FROM actors WHERE id = ?`, id,
	).Scan(&a.ID, &creator, &a.PassphraseHash)
	if err != nil {
		return nil, mapNoRows(err)
	}
	a.Creator = creator.String
	return a, nil
}

func (s *Store) GetActorByCreator(ctx context.Context, creator string) (*storage.Actor, error) {
	a := &storage.Actor{}
	var c sql.NullString
	err := s.conn().QueryRowContext(ctx,
		`SELECT id, creator, passphrase_hash FROM actors WHERE creator = ?`, creator,
	).Scan(&a.ID, &c, &a.PassphraseHash)
	if err != nil {
		return nil, mapNoRows(err)
	}
	a.Creator = c.String
	return a, nil
}

// DeleteActor removes the actor row and all of its data (spec invariant
// 4). attributes, trusts, subscriptions and subscription_suspensions carry
// an ON DELETE CASCADE foreign key to actors(id), and list_items cascades
// from list_metadata. Tables without an actor_id foreign key
// (seqnr_counters, subscription_diffs, callback_state, properties,
// property_index, list_metadata) are cleaned up explicitly since SQLite
// cascades only follow declared foreign keys.
func (s *Store) DeleteActor(ctx context.Context, id string) error {
	tx, err := s.conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seqnr_counters WHERE actor_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_diffs WHERE actor_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM callback_state WHERE actor_id = ?`, id); err != nil {
		return err
	}
	for _, table := range []string{"properties", "property_index", "list_metadata"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE actor_id = ?`, id); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM actors WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actingweb/aw/pkg/storage"
)

func withStore(t *testing.T, fn func(context.Context, *Store)) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(context.Background(), dbPath)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	fn(context.Background(), s)
}

func TestOpen_AppliesMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer db.Close()

	tables := []string{"actors", "properties", "trusts", "subscriptions", "oauth2_clients", "oauth2_refresh_tokens"}
	for _, table := range tables {
		var name string
		err := db.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q should exist", table)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db1, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer db2.Close()

	var count int
	err = db2.DB().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = 'actors'",
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOpen_Pragmas(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, db.DB().Stats().MaxOpenConnections)

	var fk string
	require.NoError(t, db.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, "1", fk)
}

func TestStore_ActorCRUD(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		a := &storage.Actor{ID: "actor-1", Creator: "creator@example.com", PassphraseHash: "hash"}
		require.NoError(t, s.CreateActor(ctx, a))

		got, err := s.GetActor(ctx, "actor-1")
		require.NoError(t, err)
		assert.Equal(t, a.Creator, got.Creator)

		byCreator, err := s.GetActorByCreator(ctx, "creator@example.com")
		require.NoError(t, err)
		assert.Equal(t, "actor-1", byCreator.ID)

		_, err = s.GetActor(ctx, "no-such-actor")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_DeleteActorCascades(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		require.NoError(t, s.CreateActor(ctx, &storage.Actor{ID: "actor-1", Creator: "c@example.com"}))
		require.NoError(t, s.SetProperty(ctx, &storage.Property{ActorID: "actor-1", Name: "foo", Value: []byte("bar")}))
		require.NoError(t, s.CreateTrust(ctx, &storage.Trust{ActorID: "actor-1", PeerID: "peer-1", Secret: "sek"}))
		_, err := s.AppendListItem(ctx, "actor-1", "mylist", []byte(`"item"`))
		require.NoError(t, err)

		require.NoError(t, s.DeleteActor(ctx, "actor-1"))

		_, err = s.GetActor(ctx, "actor-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.GetProperty(ctx, "actor-1", "foo")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.GetTrustBySecret(ctx, "sek")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		items, err := s.GetListItems(ctx, "actor-1", "mylist")
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestStore_IndexedProperty(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		require.NoError(t, s.CreateActor(ctx, &storage.Actor{ID: "actor-1"}))
		require.NoError(t, s.IndexProperty(ctx, "email", "a@b.com", "actor-1"))

		id, err := s.LookupByIndexedProperty(ctx, "email", "a@b.com")
		require.NoError(t, err)
		assert.Equal(t, "actor-1", id)

		require.NoError(t, s.UnindexProperty(ctx, "email", "a@b.com"))
		_, err = s.LookupByIndexedProperty(ctx, "email", "a@b.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_ListItems(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		idx0, err := s.AppendListItem(ctx, "a1", "todo", []byte(`"first"`))
		require.NoError(t, err)
		assert.Equal(t, 0, idx0)

		_, err = s.AppendListItem(ctx, "a1", "todo", []byte(`"third"`))
		require.NoError(t, err)

		require.NoError(t, s.InsertListItem(ctx, "a1", "todo", 1, []byte(`"second"`)))

		items, err := s.GetListItems(ctx, "a1", "todo")
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, []byte(`"second"`), items[1].Value)

		meta, err := s.GetListMetadata(ctx, "a1", "todo")
		require.NoError(t, err)
		assert.Equal(t, 3, meta.Length)

		require.NoError(t, s.DeleteListItemAt(ctx, "a1", "todo", 1))
		items, err = s.GetListItems(ctx, "a1", "todo")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, []byte(`"third"`), items[1].Value)

		require.NoError(t, s.ClearList(ctx, "a1", "todo"))
		items, err = s.GetListItems(ctx, "a1", "todo")
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestStore_AttributesWithTTL(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		require.NoError(t, s.CreateActor(ctx, &storage.Actor{ID: "a1"}))
		require.NoError(t, s.SetAttribute(ctx, &storage.Attribute{
			ActorID: "a1", Bucket: "_internal", Name: "k", Value: []byte("1"),
		}))
		require.NoError(t, s.SetAttribute(ctx, &storage.Attribute{
			ActorID: "a1", Bucket: "_internal", Name: "expiring", Value: []byte("2"),
			TTLEpoch: time.Now().Add(-time.Hour).Unix(),
		}))

		list, err := s.ListAttributes(ctx, "a1", "_internal")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "k", list[0].Name)
	})
}

func TestStore_SubscriptionSeqNr(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		n1, err := s.NextSeqNr(ctx, "a1", "p1", "sub1")
		require.NoError(t, err)
		n2, err := s.NextSeqNr(ctx, "a1", "p1", "sub1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n1)
		assert.Equal(t, int64(2), n2)
	})
}

func TestStore_CallbackStateCAS(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		st := &storage.CallbackState{ActorID: "a1", PeerID: "p1", SubID: "sub1", LastProcessed: 1, Version: 1}
		require.NoError(t, s.PutCallbackStateCAS(ctx, st, 0))

		err := s.PutCallbackStateCAS(ctx, st, 0)
		assert.ErrorIs(t, err, storage.ErrConflict)

		st2 := &storage.CallbackState{ActorID: "a1", PeerID: "p1", SubID: "sub1", LastProcessed: 2, Version: 2}
		require.NoError(t, s.PutCallbackStateCAS(ctx, st2, 1))

		got, err := s.GetCallbackState(ctx, "a1", "p1", "sub1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.LastProcessed)
	})
}

func TestStore_OAuth2RefreshTokenRotation(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		rt := &storage.OAuth2RefreshToken{
			Token: "refresh-1", ClientID: "client-1", ActorID: "a1", FamilyID: "fam-1",
			ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		}
		require.NoError(t, s.PutRefreshToken(ctx, rt))

		require.NoError(t, s.MarkRefreshTokenUsedCAS(ctx, "refresh-1", "refresh-2", time.Now().Unix()))

		got, err := s.GetRefreshToken(ctx, "refresh-1")
		require.NoError(t, err)
		assert.True(t, got.Used)
		assert.Equal(t, "refresh-2", got.ReplacedBy)

		err = s.MarkRefreshTokenUsedCAS(ctx, "refresh-1", "refresh-3", time.Now().Unix())
		assert.ErrorIs(t, err, storage.ErrConflict)
	})
}

func TestStore_OAuth2FamilyRevocation(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		for _, tok := range []string{"r1", "r2"} {
			require.NoError(t, s.PutRefreshToken(ctx, &storage.OAuth2RefreshToken{
				Token: tok, ClientID: "client-1", ActorID: "a1", FamilyID: "fam-1",
				ExpiresAt: time.Now().Add(time.Hour),
			}))
		}
		require.NoError(t, s.DeleteFamily(ctx, "fam-1"))
		for _, tok := range []string{"r1", "r2"} {
			_, err := s.GetRefreshToken(ctx, tok)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		}
	})
}

func TestStore_SubscriptionSuspension(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store) {
		require.NoError(t, s.CreateActor(ctx, &storage.Actor{ID: "a1"}))
		suspended, err := s.IsSuspended(ctx, "a1", "properties", "color")
		require.NoError(t, err)
		assert.False(t, suspended)

		require.NoError(t, s.Suspend(ctx, &storage.SubscriptionSuspension{ActorID: "a1", Target: "properties"}))
		suspended, err = s.IsSuspended(ctx, "a1", "properties", "color")
		require.NoError(t, err)
		assert.True(t, suspended)

		require.NoError(t, s.Resume(ctx, "a1", "properties", ""))
		suspended, err = s.IsSuspended(ctx, "a1", "properties", "color")
		require.NoError(t, err)
		assert.False(t, suspended)
	})
}

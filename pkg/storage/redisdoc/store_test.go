package redisdoc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actingweb/aw/pkg/storage"
)

func withStore(t *testing.T, fn func(context.Context, *Store, *miniredis.Miniredis)) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewWithClient(client, "test:")
	defer func() {
		_ = s.Close()
		mr.Close()
	}()
	fn(context.Background(), s, mr)
}

func TestStore_ActorCRUD(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
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
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		a := &storage.Actor{ID: "actor-1", Creator: "creator@example.com"}
		require.NoError(t, s.CreateActor(ctx, a))
		require.NoError(t, s.SetProperty(ctx, &storage.Property{ActorID: "actor-1", Name: "foo", Value: []byte("bar")}))
		require.NoError(t, s.CreateTrust(ctx, &storage.Trust{ActorID: "actor-1", PeerID: "peer-1", Secret: "sek"}))
		_, err := s.AppendListItem(ctx, "actor-1", "mylist", []byte(`"item"`))
		require.NoError(t, err)

		require.NoError(t, s.DeleteActor(ctx, "actor-1"))

		_, err = s.GetActor(ctx, "actor-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.GetActorByCreator(ctx, "creator@example.com")
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

func TestStore_PropertyCRUD(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		require.NoError(t, s.SetProperty(ctx, &storage.Property{ActorID: "a1", Name: "color", Value: []byte("blue")}))

		got, err := s.GetProperty(ctx, "a1", "color")
		require.NoError(t, err)
		assert.Equal(t, []byte("blue"), got.Value)

		all, err := s.ListProperties(ctx, "a1")
		require.NoError(t, err)
		assert.Len(t, all, 1)

		require.NoError(t, s.DeleteProperty(ctx, "a1", "color"))
		_, err = s.GetProperty(ctx, "a1", "color")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_IndexedProperty(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
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
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
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

		require.NoError(t, s.UpdateListItemAt(ctx, "a1", "todo", 0, []byte(`"updated"`)))
		items, err = s.GetListItems(ctx, "a1", "todo")
		require.NoError(t, err)
		assert.Equal(t, []byte(`"updated"`), items[0].Value)

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
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
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

		require.NoError(t, s.DeleteBucket(ctx, "a1", "_internal"))
		list, err = s.ListAttributes(ctx, "a1", "_internal")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestStore_TrustBySecret(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		trust := &storage.Trust{ActorID: "a1", PeerID: "p1", Secret: "topsecret", Relationship: "friend"}
		require.NoError(t, s.CreateTrust(ctx, trust))

		got, err := s.GetTrustBySecret(ctx, "topsecret")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.ActorID)
		assert.Equal(t, "p1", got.PeerID)

		byRel, err := s.ListTrustsByRelationship(ctx, "a1", "friend")
		require.NoError(t, err)
		require.Len(t, byRel, 1)

		require.NoError(t, s.DeleteTrust(ctx, "a1", "p1"))
		_, err = s.GetTrustBySecret(ctx, "topsecret")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_SubscriptionSeqNrAndDiffs(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		sub := &storage.Subscription{ActorID: "a1", PeerID: "p1", SubID: "sub1", Target: "properties"}
		require.NoError(t, s.CreateSubscription(ctx, sub))

		n1, err := s.NextSeqNr(ctx, "a1", "p1", "sub1")
		require.NoError(t, err)
		n2, err := s.NextSeqNr(ctx, "a1", "p1", "sub1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n1)
		assert.Equal(t, int64(2), n2)

		require.NoError(t, s.PutDiff(ctx, &storage.SubscriptionDiff{ActorID: "a1", SubID: "sub1", SeqNr: n1, Blob: []byte("{}")}))
		d, err := s.GetDiff(ctx, "a1", "sub1", n1)
		require.NoError(t, err)
		assert.Equal(t, n1, d.SeqNr)

		diffs, err := s.ListDiffs(ctx, "a1", "sub1")
		require.NoError(t, err)
		assert.Len(t, diffs, 1)

		require.NoError(t, s.DeleteDiff(ctx, "a1", "sub1", n1))
		_, err = s.GetDiff(ctx, "a1", "sub1", n1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_SubscriptionSuspension(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		suspended, err := s.IsSuspended(ctx, "a1", "properties", "color")
		require.NoError(t, err)
		assert.False(t, suspended)

		require.NoError(t, s.Suspend(ctx, &storage.SubscriptionSuspension{ActorID: "a1", Target: "properties"}))
		suspended, err = s.IsSuspended(ctx, "a1", "properties", "color")
		require.NoError(t, err)
		assert.True(t, suspended, "suspending a target with no subtarget should cover all subtargets")

		require.NoError(t, s.Resume(ctx, "a1", "properties", ""))
		suspended, err = s.IsSuspended(ctx, "a1", "properties", "color")
		require.NoError(t, err)
		assert.False(t, suspended)
	})
}

func TestStore_CallbackStateCAS(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		_, err := s.GetCallbackState(ctx, "a1", "p1", "sub1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		st := &storage.CallbackState{ActorID: "a1", PeerID: "p1", SubID: "sub1", LastProcessed: 1, Version: 1}
		require.NoError(t, s.PutCallbackStateCAS(ctx, st, 0))

		got, err := s.GetCallbackState(ctx, "a1", "p1", "sub1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.LastProcessed)

		err = s.PutCallbackStateCAS(ctx, st, 0)
		assert.ErrorIs(t, err, storage.ErrConflict, "stale expected version must be rejected")

		st2 := &storage.CallbackState{ActorID: "a1", PeerID: "p1", SubID: "sub1", LastProcessed: 2, Version: 2}
		require.NoError(t, s.PutCallbackStateCAS(ctx, st2, 1))
		got, err = s.GetCallbackState(ctx, "a1", "p1", "sub1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.LastProcessed)
	})
}

func TestStore_OAuth2ClientCRUD(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		c := &storage.OAuth2Client{ClientID: "client-1", ClientName: "Test App", RedirectURIs: []string{"https://example.com/cb"}}
		require.NoError(t, s.CreateClient(ctx, c))

		got, err := s.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "Test App", got.ClientName)

		require.NoError(t, s.DeleteClient(ctx, "client-1"))
		_, err = s.GetClient(ctx, "client-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_OAuth2AuthCodeLifecycle(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, mr *miniredis.Miniredis) {
		code := &storage.OAuth2AuthCode{Code: "code-1", ClientID: "client-1", ExpiresAt: time.Now().Add(10 * time.Minute)}
		require.NoError(t, s.PutAuthCode(ctx, code))

		got, err := s.GetAuthCode(ctx, "code-1")
		require.NoError(t, err)
		assert.False(t, got.Used)

		require.NoError(t, s.ConsumeAuthCode(ctx, "code-1"))
		got, err = s.GetAuthCode(ctx, "code-1")
		require.NoError(t, err)
		assert.True(t, got.Used)

		mr.FastForward(11 * time.Minute)
		_, err = s.GetAuthCode(ctx, "code-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_OAuth2AccessTokenCRUD(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		at := &storage.OAuth2AccessToken{Token: "tok-1", ClientID: "client-1", ActorID: "a1", ExpiresAt: time.Now().Add(time.Hour)}
		require.NoError(t, s.PutAccessToken(ctx, at))

		got, err := s.GetAccessToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.ActorID)

		require.NoError(t, s.DeleteAccessToken(ctx, "tok-1"))
		_, err = s.GetAccessToken(ctx, "tok-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_OAuth2AccessTokensRevokedForClient(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
		for i, tok := range []string{"tok-a", "tok-b"} {
			require.NoError(t, s.PutAccessToken(ctx, &storage.OAuth2AccessToken{
				Token: tok, ClientID: "client-1", ActorID: "a1", ExpiresAt: time.Now().Add(time.Duration(i+1) * time.Hour),
			}))
		}
		require.NoError(t, s.DeleteAccessTokensForClient(ctx, "client-1"))
		for _, tok := range []string{"tok-a", "tok-b"} {
			_, err := s.GetAccessToken(ctx, tok)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		}
	})
}

func TestStore_OAuth2RefreshTokenRotation(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
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
		assert.ErrorIs(t, err, storage.ErrConflict, "replaying an already-used refresh token must conflict")

		err = s.MarkRefreshTokenUsedCAS(ctx, "no-such-token", "x", time.Now().Unix())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestStore_OAuth2RefreshTokenFamilyRevocation(t *testing.T) {
	withStore(t, func(ctx context.Context, s *Store, _ *miniredis.Miniredis) {
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

package trust

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actingweb/aw/pkg/access"
	"github.com/actingweb/aw/pkg/storage"
	"github.com/actingweb/aw/pkg/storage/sqlstore"
)

func newTestManager(t *testing.T) (*Manager, storage.Interfaces) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := access.NewRegistry(store)
	require.NoError(t, reg.Initialize(ctx))
	require.NoError(t, store.CreateActor(ctx, &storage.Actor{ID: "actor-1"}))

	m := NewManager(store, reg, http.DefaultClient, func(actorID string) string {
		return "https://self.example.com/" + actorID
	})
	return m, store
}

func TestCreateReciprocalTrust(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req InboundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "friend", req.Relationship)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(InboundRequest{PeerID: "peer-123"})
	}))
	defer srv.Close()

	trust, err := m.CreateReciprocalTrust(ctx, "actor-1", srv.URL, "friend", "", "")
	require.NoError(t, err)
	assert.Equal(t, "/trust/friend", gotPath)
	assert.Equal(t, "peer-123", trust.PeerID)
	assert.True(t, trust.Approved)
	assert.True(t, trust.Verified)
	assert.False(t, trust.PeerApproved)
}

func TestCreateReciprocalTrust_UnknownType(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	_, err := m.CreateReciprocalTrust(context.Background(), "actor-1", "https://peer.example.com", "bogus", "", "")
	require.Error(t, err)
}

func TestCreateReciprocalTrust_RetriesOn5xxThenSucceeds(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(InboundRequest{PeerID: "peer-ok"})
	}))
	defer srv.Close()

	trust, err := m.CreateReciprocalTrust(ctx, "actor-1", srv.URL, "friend", "", "")
	require.NoError(t, err)
	assert.Equal(t, "peer-ok", trust.PeerID)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestCreateReciprocalTrust_4xxIsPermanent(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := m.CreateReciprocalTrust(ctx, "actor-1", srv.URL, "friend", "", "")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCreateVerifiedTrust_PendingApproval(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	trust, err := m.CreateVerifiedTrust(ctx, "actor-1", InboundRequest{
		PeerID: "peer-2", BaseURI: "https://peer.example.com", Type: "friend", Secret: "s3cret",
	})
	require.NoError(t, err)
	assert.False(t, trust.Approved)
	assert.True(t, trust.Verified)
	assert.False(t, trust.Usable())
}

func TestApprove_FiresHookOnceBothSidesApproved(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	var fired []string
	m.SetNotifier(notifierFunc(func(_ context.Context, hook, _, _ string) {
		fired = append(fired, hook)
	}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	trust, err := m.CreateVerifiedTrust(ctx, "actor-1", InboundRequest{
		PeerID: "peer-2", BaseURI: srv.URL, Type: "friend", Approved: true,
	})
	require.NoError(t, err)

	got, err := m.Approve(ctx, "actor-1", trust.PeerID)
	require.NoError(t, err)
	assert.True(t, got.Usable())
	assert.Contains(t, fired, "trust_fully_approved_local")
}

func TestDelete_CascadesCleanupAndFiresHook(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	trust, err := m.CreateVerifiedTrust(ctx, "actor-1", InboundRequest{
		PeerID: "peer-2", BaseURI: srv.URL, Type: "friend",
	})
	require.NoError(t, err)
	trust.OAuthClientID = "client-abc"
	require.NoError(t, store.UpdateTrust(ctx, trust))

	var cleaned []string
	m.SetCleanup(cleanupFunc{
		cancelSubs: func(_ context.Context, actorID, peerID string) error {
			cleaned = append(cleaned, "subs:"+actorID+":"+peerID)
			return nil
		},
		revokeTokens: func(_ context.Context, clientID string) error {
			cleaned = append(cleaned, "tokens:"+clientID)
			return nil
		},
	})

	var fired []string
	m.SetNotifier(notifierFunc(func(_ context.Context, hook, _, _ string) {
		fired = append(fired, hook)
	}))

	require.NoError(t, m.Delete(ctx, "actor-1", "peer-2"))

	_, err = store.GetTrust(ctx, "actor-1", "peer-2")
	require.Error(t, err)
	assert.Contains(t, cleaned, "subs:actor-1:peer-2")
	assert.Contains(t, cleaned, "tokens:client-abc")
	assert.Contains(t, fired, "trust_deleted")
}

func TestFetchCapabilities_CachesUntilTTLExpires(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch r.URL.Path {
		case "/meta/actingweb/supported":
			_, _ = w.Write([]byte("www,oauth,trust"))
		case "/meta/actingweb/version":
			_, _ = w.Write([]byte("1.4"))
		}
	}))
	defer srv.Close()

	_, err := m.CreateVerifiedTrust(ctx, "actor-1", InboundRequest{PeerID: "peer-2", BaseURI: srv.URL, Type: "friend"})
	require.NoError(t, err)

	caps, err := m.FetchCapabilities(ctx, "actor-1", "peer-2")
	require.NoError(t, err)
	assert.Equal(t, "1.4", caps.Version)
	assert.Equal(t, 2, hits)

	// Second call within TTL must not hit the network again.
	_, err = m.FetchCapabilities(ctx, "actor-1", "peer-2")
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}

func TestFetchCapabilities_PeerGoneOn404(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := m.CreateVerifiedTrust(ctx, "actor-1", InboundRequest{PeerID: "peer-2", BaseURI: srv.URL, Type: "friend"})
	require.NoError(t, err)

	_, err = m.FetchCapabilities(ctx, "actor-1", "peer-2")
	require.Error(t, err)
}

type notifierFunc func(ctx context.Context, hookName, actorID, peerID string)

func (f notifierFunc) Fire(ctx context.Context, hookName, actorID, peerID string) {
	f(ctx, hookName, actorID, peerID)
}

type cleanupFunc struct {
	cancelSubs   func(ctx context.Context, actorID, peerID string) error
	revokeTokens func(ctx context.Context, clientID string) error
}

func (c cleanupFunc) CancelSubscriptionsForPeer(ctx context.Context, actorID, peerID string) error {
	return c.cancelSubs(ctx, actorID, peerID)
}

func (c cleanupFunc) RevokeTokensForClient(ctx context.Context, clientID string) error {
	return c.revokeTokens(ctx, clientID)
}

package subscriptions

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
	awactor "github.com/actingweb/aw/pkg/actor"
	"github.com/actingweb/aw/pkg/storage"
	"github.com/actingweb/aw/pkg/storage/sqlstore"
	"github.com/actingweb/aw/pkg/trust"
)

type testRig struct {
	engine   *Engine
	store    storage.Interfaces
	factory  *awactor.Factory
	trustMgr *trust.Manager
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := access.NewRegistry(store)
	require.NoError(t, reg.Initialize(ctx))
	evaluator := access.NewEvaluator(reg)
	trustMgr := trust.NewManager(store, reg, http.DefaultClient, func(id string) string { return "https://self.example.com/" + id })
	engine := NewEngine(store, trustMgr, reg, evaluator, http.DefaultClient)
	factory := awactor.NewFactory(store, awactor.Config{}, engine)

	return &testRig{engine: engine, store: store, factory: factory, trustMgr: trustMgr}
}

func (r *testRig) approvedTrust(t *testing.T, actorID, peerID, trustType string) {
	t.Helper()
	ctx := context.Background()
	_, err := r.trustMgr.CreateVerifiedTrust(ctx, actorID, trust.InboundRequest{
		PeerID: peerID, BaseURI: "https://peer.example.com", Type: trustType, Approved: true,
	})
	require.NoError(t, err)
	_, err = r.trustMgr.Approve(ctx, actorID, peerID)
	require.NoError(t, err)
}

func TestRegisterPropertyDiff_DeliversToSubscribedPeerWithReadAccess(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)
	ctx := context.Background()

	a, err := r.factory.Create(ctx, "", "", "owner@example.com", "pw")
	require.NoError(t, err)
	r.approvedTrust(t, a.ID, "peer-1", "friend")

	sub, err := r.engine.Subscribe(ctx, a.ID, "peer-1", TargetProperties, "note", "", storage.GranularityHigh)
	require.NoError(t, err)

	var enqueued []Job
	r.engine.SetEnqueuer(enqueuerFunc(func(_ context.Context, job Job) error {
		enqueued = append(enqueued, job)
		return nil
	}))

	require.NoError(t, a.Set(ctx, "note", []byte("hello")))

	require.Len(t, enqueued, 1)
	assert.Equal(t, sub.SubID, enqueued[0].SubID)
	assert.Equal(t, DiffTypeDiff, enqueued[0].Type)

	diffs, err := r.store.ListDiffs(ctx, a.ID, sub.SubID)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "hello", string(diffs[0].Blob))
}

func TestSubscribe_RejectsTargetExcludedByTrustType(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)
	ctx := context.Background()

	a, err := r.factory.Create(ctx, "", "", "owner@example.com", "pw")
	require.NoError(t, err)
	r.approvedTrust(t, a.ID, "peer-1", "friend")

	_, err = r.engine.Subscribe(ctx, a.ID, "peer-1", TargetProperties, "private/secret", "", storage.GranularityHigh)
	require.Error(t, err) // friend's default permissions deny private/* for subscribe too
}

func TestRegisterPropertyDiff_SuspendedSkipsEntirely(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)
	ctx := context.Background()

	a, err := r.factory.Create(ctx, "", "", "owner@example.com", "pw")
	require.NoError(t, err)
	r.approvedTrust(t, a.ID, "peer-1", "friend")

	sub, err := r.engine.Subscribe(ctx, a.ID, "peer-1", TargetProperties, "note", "", storage.GranularityHigh)
	require.NoError(t, err)

	require.NoError(t, r.engine.Suspend(ctx, a.ID, TargetProperties, "note"))

	var enqueued []Job
	r.engine.SetEnqueuer(enqueuerFunc(func(_ context.Context, job Job) error {
		enqueued = append(enqueued, job)
		return nil
	}))
	require.NoError(t, a.Set(ctx, "note", []byte("hidden")))
	assert.Empty(t, enqueued)

	diffs, err := r.store.ListDiffs(ctx, a.ID, sub.SubID)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestResume_EmitsResyncPerAffectedSubscription(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)
	ctx := context.Background()

	a, err := r.factory.Create(ctx, "", "", "owner@example.com", "pw")
	require.NoError(t, err)
	r.approvedTrust(t, a.ID, "peer-1", "friend")

	sub, err := r.engine.Subscribe(ctx, a.ID, "peer-1", TargetProperties, "note", "", storage.GranularityHigh)
	require.NoError(t, err)
	require.NoError(t, r.engine.Suspend(ctx, a.ID, TargetProperties, "note"))

	var enqueued []Job
	r.engine.SetEnqueuer(enqueuerFunc(func(_ context.Context, job Job) error {
		enqueued = append(enqueued, job)
		return nil
	}))

	require.NoError(t, r.engine.Resume(ctx, a.ID, TargetProperties, "note"))
	require.Len(t, enqueued, 1)
	assert.Equal(t, DiffTypeResync, enqueued[0].Type)
	assert.Equal(t, sub.SubID, enqueued[0].SubID)
}

func TestRegisterListDiff_EncodesListDiffPayload(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)
	ctx := context.Background()

	a, err := r.factory.Create(ctx, "", "", "owner@example.com", "pw")
	require.NoError(t, err)
	r.approvedTrust(t, a.ID, "peer-1", "friend")
	sub, err := r.engine.Subscribe(ctx, a.ID, "peer-1", TargetProperties, "memories", "", storage.GranularityHigh)
	require.NoError(t, err)

	_, err = a.AppendItem(ctx, "memories", []byte(`"first"`))
	require.NoError(t, err)

	diffs, err := r.store.ListDiffs(ctx, a.ID, sub.SubID)
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	var decoded awactor.ListDiff
	require.NoError(t, json.Unmarshal(diffs[0].Blob, &decoded))
	assert.Equal(t, awactor.ListOpAppend, decoded.Operation)
	assert.Equal(t, 1, decoded.Length)
}

func TestSubscribeToPeer_PersistsMirrorAndAppliesBaseline(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)
	ctx := context.Background()

	a, err := r.factory.Create(ctx, "", "", "owner@example.com", "pw")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]string{"subscriptionid": "sub-abc"})
		default:
			_, _ = w.Write([]byte(`{"note":"baseline"}`))
		}
	}))
	defer srv.Close()

	_, err = r.trustMgr.CreateVerifiedTrust(ctx, a.ID, trust.InboundRequest{PeerID: "peer-2", BaseURI: srv.URL, Type: "friend"})
	require.NoError(t, err)

	var applied []byte
	r.engine.SetBaselineApplier(baselineFunc(func(_ context.Context, _, _, _ string, data []byte) error {
		applied = data
		return nil
	}))

	sub, err := r.engine.SubscribeToPeer(ctx, a.ID, "peer-2", TargetProperties, "note", "properties/note", storage.GranularityHigh)
	require.NoError(t, err)
	assert.Equal(t, "sub-abc", sub.SubID)
	assert.True(t, sub.Callback)
	assert.JSONEq(t, `{"note":"baseline"}`, string(applied))
}

func TestDelete_ClearsPeerCacheWhenLastOutboundSubscription(t *testing.T) {
	t.Parallel()
	r := newTestRig(t)
	ctx := context.Background()

	a, err := r.factory.Create(ctx, "", "", "owner@example.com", "pw")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]string{"subscriptionid": "sub-xyz"})
		}
	}))
	defer srv.Close()

	_, err = r.trustMgr.CreateVerifiedTrust(ctx, a.ID, trust.InboundRequest{PeerID: "peer-3", BaseURI: srv.URL, Type: "friend"})
	require.NoError(t, err)

	sub, err := r.engine.SubscribeToPeer(ctx, a.ID, "peer-3", TargetProperties, "note", "", storage.GranularityHigh)
	require.NoError(t, err)

	cleared := false
	r.engine.SetPeerCacheCleaner(cleanerFunc(func(_ context.Context, _, _ string) error {
		cleared = true
		return nil
	}))

	require.NoError(t, r.engine.Delete(ctx, a.ID, "peer-3", sub.SubID))
	assert.True(t, cleared)
}

type enqueuerFunc func(ctx context.Context, job Job) error

func (f enqueuerFunc) Enqueue(ctx context.Context, job Job) error { return f(ctx, job) }

type baselineFunc func(ctx context.Context, actorID, target, subtarget string, data []byte) error

func (f baselineFunc) ApplyBaseline(ctx context.Context, actorID, target, subtarget string, data []byte) error {
	return f(ctx, actorID, target, subtarget, data)
}

type cleanerFunc func(ctx context.Context, actorID, peerID string) error

func (f cleanerFunc) ClearPeerCache(ctx context.Context, actorID, peerID string) error {
	return f(ctx, actorID, peerID)
}

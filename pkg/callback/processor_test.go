package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
	"github.com/actingweb/aw/pkg/storage/sqlstore"
)

func newTestProcessor(t *testing.T, cfg Config) (*Processor, storage.Interfaces) {
	t.Helper()
	store, err := sqlstore.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewProcessor(store, http.DefaultClient, cfg), store
}

type recordingHandler struct {
	diffs   []string
	resyncs []string
}

func (h *recordingHandler) HandleDiff(_ context.Context, _, _, _, _ string, data []byte) error {
	h.diffs = append(h.diffs, string(data))
	return nil
}

func (h *recordingHandler) HandleResync(_ context.Context, _, _, _, _ string, data []byte) error {
	h.resyncs = append(h.resyncs, string(data))
	return nil
}

func TestProcess_InOrderDeliveryApplies(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Config{})
	h := &recordingHandler{}
	p.SetHandler(h)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 1, Data: []byte(`"a"`)}))
	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 2, Data: []byte(`"b"`)}))

	assert.Equal(t, []string{`"a"`, `"b"`}, h.diffs)
}

func TestProcess_DuplicateIsAcked(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Config{})
	h := &recordingHandler{}
	p.SetHandler(h)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 1, Data: []byte(`"a"`)}))
	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 1, Data: []byte(`"a"`)}))
	assert.Len(t, h.diffs, 1)
}

func TestProcess_GapBuffersThenDrainsOnArrival(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Config{})
	h := &recordingHandler{}
	p.SetHandler(h)
	ctx := context.Background()

	// Sequence 2 arrives before 1: buffered, no handler call yet.
	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 2, Data: []byte(`"b"`)}))
	assert.Empty(t, h.diffs)

	// Sequence 1 arrives: applies 1, then drains buffered 2.
	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 1, Data: []byte(`"a"`)}))
	assert.Equal(t, []string{`"a"`, `"b"`}, h.diffs)
}

func TestProcess_PendingQueueFullReturnsRateLimited(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Config{MaxPending: 1})
	ctx := context.Background()

	// seq 1 never arrives; seq 2 fills the one-slot gap queue, so seq 3
	// is rejected.
	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 2, Data: []byte(`"x"`)}))
	err := p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 3, Data: []byte(`"y"`)})
	require.Error(t, err)
	var e *awerrors.Error
	require.True(t, awerrors.As(err, &e))
	assert.Equal(t, awerrors.KindRateLimited, e.Kind)
}

func TestProcess_StaleGapTriggersResyncViaSubscriptionResource(t *testing.T) {
	t.Parallel()
	p, store := newTestProcessor(t, Config{GapTimeout: -1 * time.Second}) // force "stale" immediately
	h := &recordingHandler{}
	p.SetHandler(h)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"full":"state"}`))
	}))
	defer srv.Close()

	require.NoError(t, store.CreateActor(ctx, &storage.Actor{ID: "actor-1"}))
	require.NoError(t, store.CreateSubscription(ctx, &storage.Subscription{
		ActorID: "actor-1", PeerID: "peer-1", SubID: "sub-1",
		Target: "properties", SubTarget: "note", Resource: srv.URL + "/properties/note",
	}))

	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 5, Data: []byte(`"gap"`)}))
	require.Len(t, h.resyncs, 1)
	assert.JSONEq(t, `{"full":"state"}`, h.resyncs[0])

	state, err := store.GetCallbackState(ctx, "actor-1", "peer-1", "sub-1")
	require.NoError(t, err)
	assert.Empty(t, state.Pending)
}

func TestProcess_ResyncEnvelopeReplacesState(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Config{})
	h := &recordingHandler{}
	p.SetHandler(h)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{
		Sequence: 9, Type: EnvelopeResync, Data: []byte(`{"all":"new"}`),
	}))
	require.Len(t, h.resyncs, 1)

	// A lower, previously-unseen sequence now arrives and must be treated
	// as a duplicate since resync fast-forwarded last_processed.
	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{Sequence: 3, Data: []byte(`"old"`)}))
	assert.Empty(t, h.diffs)
}

func TestProcess_LowGranularityFetchesURL(t *testing.T) {
	t.Parallel()
	p, _ := newTestProcessor(t, Config{})
	h := &recordingHandler{}
	p.SetHandler(h)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"fetched"`))
	}))
	defer srv.Close()

	require.NoError(t, p.Process(ctx, "actor-1", "peer-1", "sub-1", Envelope{
		Sequence: 1, Granularity: "low", URL: srv.URL + "/properties/note",
	}))
	require.Len(t, h.diffs, 1)
	assert.Equal(t, `"fetched"`, h.diffs[0])
}

package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actingweb/aw/pkg/auth"
)

func TestLifecycle_FireRunsRegisteredHooks(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var got atomic.Int32
	r.OnLifecycle(EventActorCreated, func(ctx context.Context, actorID, peerID string) error {
		got.Add(1)
		assert.Equal(t, "actor-1", actorID)
		return nil
	})
	r.OnLifecycle(EventActorCreated, func(ctx context.Context, actorID, peerID string) error {
		got.Add(1)
		return nil
	})

	r.Fire(context.Background(), string(EventActorCreated), "actor-1", "")
	assert.Equal(t, int32(2), got.Load())
}

func TestLifecycle_FireSwallowsErrors(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.OnLifecycle(EventTrustDeleted, func(ctx context.Context, actorID, peerID string) error {
		return errors.New("boom")
	})
	assert.NotPanics(t, func() {
		r.Fire(context.Background(), string(EventTrustDeleted), "a", "p")
	})
}

func TestProperty_TransformAndReject(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.OnProperty("prefs/*", PropertyPut, func(ctx context.Context, rc *auth.Context, actorID, name string, value []byte) ([]byte, error) {
		return append([]byte("prefixed:"), value...), nil
	}))

	out, err := r.DispatchProperty(context.Background(), nil, "a1", "prefs/theme", PropertyPut, []byte("dark"))
	require.NoError(t, err)
	assert.Equal(t, "prefixed:dark", string(out))

	out, err = r.DispatchProperty(context.Background(), nil, "a1", "other", PropertyPut, []byte("dark"))
	require.NoError(t, err)
	assert.Equal(t, "dark", string(out))

	require.NoError(t, r.OnProperty("locked", PropertyPut, func(ctx context.Context, rc *auth.Context, actorID, name string, value []byte) ([]byte, error) {
		return nil, errors.New("read-only")
	}))
	_, err = r.DispatchProperty(context.Background(), nil, "a1", "locked", PropertyPut, []byte("x"))
	require.Error(t, err)
}

func TestCallback_DispatchUnknownReturnsNotOK(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, ok, err := r.DispatchCallback(context.Background(), nil, "a1", "unknown", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	r.OnCallback("ping", func(ctx context.Context, rc *auth.Context, actorID, name string, body []byte) ([]byte, error) {
		return []byte("pong"), nil
	})
	resp, ok, err := r.DispatchCallback(context.Background(), nil, "a1", "ping", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pong", string(resp))
}

func TestDispatch_SyncMethod(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.OnMethod("echo", func(ctx context.Context, rc *auth.Context, actorID, name string, params map[string]any) (any, error) {
		return params["x"], nil
	})

	v, ok, err := r.Dispatch(context.Background(), CallMethod, nil, "a1", "echo", map[string]any{"x": 42})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok, err = r.Dispatch(context.Background(), CallMethod, nil, "a1", "missing", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatch_AsyncActionReturnsAccepted(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	done := make(chan struct{})
	r.OnAsyncAction("sync-mailbox", func(ctx context.Context, rc *auth.Context, actorID, name string, params map[string]any) (any, error) {
		close(done)
		return nil, nil
	})

	_, ok, err := r.Dispatch(context.Background(), CallAction, nil, "a1", "sync-mailbox", nil)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrAsyncAccepted)
	<-done
}

func TestNames_ListsRegisteredTools(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.OnTool("search", func(ctx context.Context, rc *auth.Context, actorID, name string, params map[string]any) (any, error) {
		return nil, nil
	})
	assert.ElementsMatch(t, []string{"search"}, r.Names(CallTool))
}

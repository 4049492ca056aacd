package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actingweb/aw/pkg/actor"
	"github.com/actingweb/aw/pkg/storage"
	"github.com/actingweb/aw/pkg/storage/sqlstore"
)

func newTestStore(t *testing.T) storage.Interfaces {
	t.Helper()
	store, err := sqlstore.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAuthenticate_CreatorBasic(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	factory := actor.NewFactory(store, actor.Config{}, nil)
	a, err := factory.Create(context.Background(), "", "", "alice@example.com", "s3cret")
	require.NoError(t, err)

	p := NewPipeline(store, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice@example.com", "s3cret")

	c, err := p.Authenticate(req, a.ID)
	require.NoError(t, err)
	assert.Equal(t, KindOwner, c.Kind)
	assert.True(t, c.Owner())
}

func TestAuthenticate_CreatorBasic_WrongPassphrase(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	factory := actor.NewFactory(store, actor.Config{}, nil)
	a, err := factory.Create(context.Background(), "", "", "alice@example.com", "s3cret")
	require.NoError(t, err)

	p := NewPipeline(store, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice@example.com", "wrong")

	_, err = p.Authenticate(req, a.ID)
	require.Error(t, err)
}

func TestAuthenticate_PeerBearer(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	factory := actor.NewFactory(store, actor.Config{}, nil)
	a, err := factory.Create(context.Background(), "", "", "alice@example.com", "s3cret")
	require.NoError(t, err)

	require.NoError(t, store.CreateTrust(context.Background(), &storage.Trust{
		ActorID: a.ID, PeerID: "peer-1", Secret: "shared-secret-xyz",
		Approved: true, PeerApproved: true, Verified: true,
	}))

	p := NewPipeline(store, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer shared-secret-xyz")

	c, err := p.Authenticate(req, a.ID)
	require.NoError(t, err)
	assert.Equal(t, KindPeer, c.Kind)
	require.NotNil(t, c.Trust)
	assert.Equal(t, "peer-1", c.Trust.PeerID)
}

type fakeResolver struct {
	actorID, clientID, scope string
	err                      error
}

func (f fakeResolver) ResolveAccessToken(context.Context, string) (string, string, string, error) {
	return f.actorID, f.clientID, f.scope, f.err
}

func TestAuthenticate_OAuth2Bearer(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	factory := actor.NewFactory(store, actor.Config{}, nil)
	a, err := factory.Create(context.Background(), "", "", "alice@example.com", "s3cret")
	require.NoError(t, err)

	p := NewPipeline(store, fakeResolver{actorID: a.ID, clientID: "client-1", scope: "actingweb.mcp"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer opaque-access-token")

	c, err := p.Authenticate(req, a.ID)
	require.NoError(t, err)
	assert.Equal(t, KindClient, c.Kind)
	assert.Equal(t, "client-1", c.OAuthClientID)
}

func TestAuthenticate_NoCredential(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	p := NewPipeline(store, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := p.Authenticate(req, "some-actor")
	require.Error(t, err)
}

package actor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage/sqlstore"
)

func newTestFactory(t *testing.T, cfg Config) *Factory {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlstore.New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewFactory(store, cfg, nil)
}

func TestCreateAndGetByID(t *testing.T) {
	t.Parallel()
	f := newTestFactory(t, Config{})
	ctx := context.Background()

	a, err := f.Create(ctx, "", "", "alice@example.com", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	got, err := f.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Creator)
}

func TestUniqueCreatorRejectsDuplicate(t *testing.T) {
	t.Parallel()
	f := newTestFactory(t, Config{UniqueCreator: true})
	ctx := context.Background()

	_, err := f.Create(ctx, "", "", "bob@example.com", "pw")
	require.NoError(t, err)

	_, err = f.Create(ctx, "", "", "bob@example.com", "pw2")
	require.Error(t, err)
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.KindInvalidRequest, e.Kind)
}

func TestPropertyRoundTrip(t *testing.T) {
	t.Parallel()
	f := newTestFactory(t, Config{})
	ctx := context.Background()
	a, err := f.Create(ctx, "", "", "carol@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, "note", []byte("hello")))
	v, err := a.Get(ctx, "note")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(v))

	require.NoError(t, a.Delete(ctx, "note"))
	v, err = a.Get(ctx, "note")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPropertyListNameCollision(t *testing.T) {
	t.Parallel()
	f := newTestFactory(t, Config{})
	ctx := context.Background()
	a, err := f.Create(ctx, "", "", "dave@example.com", "pw")
	require.NoError(t, err)

	_, err = a.AppendItem(ctx, "memory", []byte(`"x"`))
	require.NoError(t, err)

	err = a.Set(ctx, "memory", []byte("scalar"))
	require.Error(t, err)
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.KindInvalidRequest, e.Kind)
}

func TestListAppendAndMetadata(t *testing.T) {
	t.Parallel()
	f := newTestFactory(t, Config{})
	ctx := context.Background()
	a, err := f.Create(ctx, "", "", "erin@example.com", "pw")
	require.NoError(t, err)

	idx, err := a.AppendItem(ctx, "memory_travel", []byte(`{"place":"Paris"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = a.AppendItem(ctx, "memory_travel", []byte(`{"place":"Rome"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	m, err := a.GetListMetadata(ctx, "memory_travel")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Length)

	items, err := a.ListItems(ctx, "memory_travel")
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestIndexedPropertyLookup(t *testing.T) {
	t.Parallel()
	f := newTestFactory(t, Config{IndexedProperties: []string{"email"}})
	ctx := context.Background()
	a, err := f.Create(ctx, "", "", "", "pw")
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "email", []byte("frank@example.com")))

	found, err := f.GetFromProperty(ctx, "email", "frank@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
}

func TestDeriveIDIsStableForSameURL(t *testing.T) {
	t.Parallel()
	id1 := DeriveID("https://example.com/actor")
	id2 := DeriveID("https://example.com/actor")
	id3 := DeriveID("https://example.com/other")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Len(t, id1, 32)
}

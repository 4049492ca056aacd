package access

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actingweb/aw/pkg/storage/sqlstore"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlstore.New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	r := NewRegistry(store)
	require.NoError(t, r.Initialize(context.Background()))
	return r
}

func TestEvaluator_FriendAllowsReadExceptPrivate(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(newTestRegistry(t))

	d := e.Evaluate(context.Background(), "actor:peer", nil, Request{
		TrustType: "friend", Category: CategoryProperties, Target: "note", Operation: OpRead,
	})
	assert.Equal(t, Allowed, d)

	d = e.Evaluate(context.Background(), "actor:peer", nil, Request{
		TrustType: "friend", Category: CategoryProperties, Target: "private/notes", Operation: OpRead,
	})
	assert.Equal(t, Denied, d)
}

func TestEvaluator_UnknownTrustTypeDenied(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(newTestRegistry(t))

	d := e.Evaluate(context.Background(), "actor:peer", nil, Request{
		TrustType: "nonexistent", Category: CategoryProperties, Target: "note", Operation: OpRead,
	})
	assert.Equal(t, Denied, d)
}

func TestEvaluator_OverrideUnionsAllowButNeverNarrowsDeny(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(newTestRegistry(t))

	override := &Override{Permissions: map[Category]PermissionSet{
		CategoryProperties: {
			Allowed:    []string{"memory_*"},
			Operations: []Operation{OpRead, OpWrite},
			Denied:     []string{"memory_personal"},
		},
	}}

	d := e.Evaluate(context.Background(), "actor:peer", nil, Request{
		TrustType: "friend", Override: override, Category: CategoryProperties, Target: "memory_travel", Operation: OpWrite,
	})
	assert.Equal(t, Allowed, d)

	// base exclusion still enforced (union, never narrowed by override)
	d = e.Evaluate(context.Background(), "actor:peer", nil, Request{
		TrustType: "friend", Override: override, Category: CategoryProperties, Target: "private/x", Operation: OpRead,
	})
	assert.Equal(t, Denied, d)

	// override's own exclusion also enforced
	d = e.Evaluate(context.Background(), "actor:peer", nil, Request{
		TrustType: "friend", Override: override, Category: CategoryProperties, Target: "memory_personal", Operation: OpWrite,
	})
	assert.Equal(t, Denied, d)
}

func TestEvaluator_CategoryWithNoPatternsIsNotFound(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(newTestRegistry(t))

	d := e.Evaluate(context.Background(), "actor:peer", nil, Request{
		TrustType: "viewer", Category: CategoryTools, Target: "anything", Operation: OpRead,
	})
	assert.Equal(t, NotFound, d)
}

func TestEvaluator_MemoizationReturnsSameDecision(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(newTestRegistry(t))
	memo := NewMemo()
	req := Request{TrustType: "friend", Category: CategoryProperties, Target: "note", Operation: OpRead}

	d1 := e.Evaluate(context.Background(), "actor:peer", memo, req)
	d2 := e.Evaluate(context.Background(), "actor:peer", memo, req)
	assert.Equal(t, d1, d2)
	assert.Equal(t, Allowed, d1)
}

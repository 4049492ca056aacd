package actor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
)

// ListOperation enumerates the diff operations a list mutation can emit
// (spec §4.4 diff payload shape for list properties).
type ListOperation string

// List diff operations.
const (
	ListOpAppend     ListOperation = "append"
	ListOpInsert     ListOperation = "insert"
	ListOpUpdate     ListOperation = "update"
	ListOpExtend     ListOperation = "extend"
	ListOpDelete     ListOperation = "delete"
	ListOpPop        ListOperation = "pop"
	ListOpClear      ListOperation = "clear"
	ListOpDeleteAll  ListOperation = "delete_all"
	ListOpMetadata   ListOperation = "metadata"
)

// ListDiff is the payload shape for a list-property subscription diff
// (spec §4.4): "length is required for all list diffs".
type ListDiff struct {
	List      string          `json:"list"`
	Operation ListOperation   `json:"operation"`
	Item      json.RawMessage `json:"item,omitempty"`
	Items     json.RawMessage `json:"items,omitempty"`
	Index     *int            `json:"index,omitempty"`
	Length    int             `json:"length"`
}

// checkListCollision enforces invariant 1 in the opposite direction: a
// list operation on a name that is already a scalar property fails.
func (a *Actor) checkListCollision(ctx context.Context, name string) error {
	_, err := a.factory.store.GetProperty(ctx, a.ID, name)
	if err == nil {
		return errors.NewInvalidRequestError("a scalar property named '"+name+"' already exists", nil)
	}
	return nil
}

func (a *Actor) ensureListMetadata(ctx context.Context, name string) (*storage.ListMetadata, error) {
	m, err := a.factory.store.GetListMetadata(ctx, a.ID, name)
	if err == nil {
		return m, nil
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindNotFound {
		return nil, errors.NewFatalError("reading list metadata", err)
	}
	now := timeNow()
	m = &storage.ListMetadata{ActorID: a.ID, Name: name, CreatedAt: now, UpdatedAt: now, Version: 1}
	if err := a.factory.store.PutListMetadata(ctx, m); err != nil {
		return nil, errors.NewFatalError("creating list metadata", err)
	}
	return m, nil
}

func (a *Actor) bumpListMetadata(ctx context.Context, m *storage.ListMetadata, length int) error {
	m.UpdatedAt = timeNow()
	m.Version++
	m.Length = length
	return a.factory.store.PutListMetadata(ctx, m)
}

func timeNow() time.Time { return time.Now().UTC() }

// AppendItem appends value to list property name, returning its index.
func (a *Actor) AppendItem(ctx context.Context, name string, value json.RawMessage) (int, error) {
	if err := a.checkListCollision(ctx, name); err != nil {
		return 0, err
	}
	m, err := a.ensureListMetadata(ctx, name)
	if err != nil {
		return 0, err
	}
	idx, err := a.factory.store.AppendListItem(ctx, a.ID, name, value)
	if err != nil {
		return 0, errors.NewFatalError("appending list item", err)
	}
	if err := a.bumpListMetadata(ctx, m, idx+1); err != nil {
		return 0, errors.NewFatalError("updating list metadata", err)
	}
	diff := ListDiff{List: name, Operation: ListOpAppend, Item: value, Index: intPtr(idx), Length: idx + 1}
	return idx, a.factory.diffs.RegisterListDiff(ctx, a.ID, name, diff)
}

// InsertItem inserts value at index, shifting subsequent items.
func (a *Actor) InsertItem(ctx context.Context, name string, index int, value json.RawMessage) error {
	if err := a.checkListCollision(ctx, name); err != nil {
		return err
	}
	m, err := a.ensureListMetadata(ctx, name)
	if err != nil {
		return err
	}
	if err := a.factory.store.InsertListItem(ctx, a.ID, name, index, value); err != nil {
		return errors.NewFatalError("inserting list item", err)
	}
	if err := a.bumpListMetadata(ctx, m, m.Length+1); err != nil {
		return errors.NewFatalError("updating list metadata", err)
	}
	diff := ListDiff{List: name, Operation: ListOpInsert, Item: value, Index: intPtr(index), Length: m.Length}
	return a.factory.diffs.RegisterListDiff(ctx, a.ID, name, diff)
}

// UpdateItemAt overwrites the item at index.
func (a *Actor) UpdateItemAt(ctx context.Context, name string, index int, value json.RawMessage) error {
	m, err := a.factory.store.GetListMetadata(ctx, a.ID, name)
	if err != nil {
		return wrapNotFound(err, "list")
	}
	if err := a.factory.store.UpdateListItemAt(ctx, a.ID, name, index, value); err != nil {
		return errors.NewFatalError("updating list item", err)
	}
	if err := a.bumpListMetadata(ctx, m, m.Length); err != nil {
		return errors.NewFatalError("updating list metadata", err)
	}
	diff := ListDiff{List: name, Operation: ListOpUpdate, Item: value, Index: intPtr(index), Length: m.Length}
	return a.factory.diffs.RegisterListDiff(ctx, a.ID, name, diff)
}

// DeleteItemAt removes the item at index.
func (a *Actor) DeleteItemAt(ctx context.Context, name string, index int) error {
	m, err := a.factory.store.GetListMetadata(ctx, a.ID, name)
	if err != nil {
		return wrapNotFound(err, "list")
	}
	if err := a.factory.store.DeleteListItemAt(ctx, a.ID, name, index); err != nil {
		return errors.NewFatalError("deleting list item", err)
	}
	newLen := m.Length - 1
	if newLen < 0 {
		newLen = 0
	}
	if err := a.bumpListMetadata(ctx, m, newLen); err != nil {
		return errors.NewFatalError("updating list metadata", err)
	}
	diff := ListDiff{List: name, Operation: ListOpDelete, Index: intPtr(index), Length: newLen}
	return a.factory.diffs.RegisterListDiff(ctx, a.ID, name, diff)
}

// Extend appends multiple items in one operation.
func (a *Actor) Extend(ctx context.Context, name string, items []json.RawMessage) error {
	if err := a.checkListCollision(ctx, name); err != nil {
		return err
	}
	m, err := a.ensureListMetadata(ctx, name)
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, err := a.factory.store.AppendListItem(ctx, a.ID, name, it); err != nil {
			return errors.NewFatalError("extending list", err)
		}
	}
	newLen := m.Length + len(items)
	if err := a.bumpListMetadata(ctx, m, newLen); err != nil {
		return errors.NewFatalError("updating list metadata", err)
	}
	itemsBlob, _ := json.Marshal(items)
	diff := ListDiff{List: name, Operation: ListOpExtend, Items: itemsBlob, Length: newLen}
	return a.factory.diffs.RegisterListDiff(ctx, a.ID, name, diff)
}

// ClearList empties the list but keeps its metadata row.
func (a *Actor) ClearList(ctx context.Context, name string) error {
	m, err := a.factory.store.GetListMetadata(ctx, a.ID, name)
	if err != nil {
		return wrapNotFound(err, "list")
	}
	if err := a.factory.store.ClearList(ctx, a.ID, name); err != nil {
		return errors.NewFatalError("clearing list", err)
	}
	if err := a.bumpListMetadata(ctx, m, 0); err != nil {
		return errors.NewFatalError("updating list metadata", err)
	}
	diff := ListDiff{List: name, Operation: ListOpClear, Length: 0}
	return a.factory.diffs.RegisterListDiff(ctx, a.ID, name, diff)
}

// DeleteList removes the list and its metadata entirely.
func (a *Actor) DeleteList(ctx context.Context, name string) error {
	if err := a.factory.store.DeleteList(ctx, a.ID, name); err != nil {
		return errors.NewFatalError("deleting list", err)
	}
	diff := ListDiff{List: name, Operation: ListOpDeleteAll, Length: 0}
	return a.factory.diffs.RegisterListDiff(ctx, a.ID, name, diff)
}

// ListItems returns every item in the list, in order.
func (a *Actor) ListItems(ctx context.Context, name string) ([]*storage.ListItem, error) {
	items, err := a.factory.store.GetListItems(ctx, a.ID, name)
	if err != nil {
		return nil, errors.NewFatalError("reading list items", err)
	}
	return items, nil
}

// GetListMetadata returns the list's metadata row.
func (a *Actor) GetListMetadata(ctx context.Context, name string) (*storage.ListMetadata, error) {
	m, err := a.factory.store.GetListMetadata(ctx, a.ID, name)
	if err != nil {
		return nil, wrapNotFound(err, "list")
	}
	return m, nil
}

// PutListMetadata updates the description/explanation of a list and emits
// a "metadata" diff.
func (a *Actor) PutListMetadata(ctx context.Context, name, description, explanation string) error {
	m, err := a.factory.store.GetListMetadata(ctx, a.ID, name)
	if err != nil {
		return wrapNotFound(err, "list")
	}
	m.Description = description
	m.Explanation = explanation
	if err := a.bumpListMetadata(ctx, m, m.Length); err != nil {
		return errors.NewFatalError("updating list metadata", err)
	}
	diff := ListDiff{List: name, Operation: ListOpMetadata, Length: m.Length}
	return a.factory.diffs.RegisterListDiff(ctx, a.ID, name, diff)
}

// HasProperty reports whether name is a scalar property (used by the
// engine to enforce the namespace-collision invariant from the list side).
func (a *Actor) HasProperty(ctx context.Context, name string) (bool, error) {
	has, err := a.factory.store.HasProperty(ctx, a.ID, name)
	if err != nil {
		return false, errors.NewFatalError("checking property existence", err)
	}
	return has, nil
}

func intPtr(i int) *int { return &i }

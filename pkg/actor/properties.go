package actor

import (
	"context"
	"strings"

	"github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
)

// Get reads a scalar property. Returns (nil, nil) if unset.
func (a *Actor) Get(ctx context.Context, name string) ([]byte, error) {
	p, err := a.factory.store.GetProperty(ctx, a.ID, name)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) && e.Kind == errors.KindNotFound {
			return nil, nil
		}
		return nil, errors.NewFatalError("reading property", err)
	}
	return p.Value, nil
}

// List returns every scalar property on the actor.
func (a *Actor) List(ctx context.Context) ([]*storage.Property, error) {
	props, err := a.factory.store.ListProperties(ctx, a.ID)
	if err != nil {
		return nil, errors.NewFatalError("listing properties", err)
	}
	return props, nil
}

// Set writes a scalar property (spec §4.1 property write algorithm):
// checks the property/list name collision, updates the indexed reverse
// lookup if applicable, then registers a subscription diff.
func (a *Actor) Set(ctx context.Context, name string, value []byte) error {
	if err := a.checkNameCollision(ctx, name); err != nil {
		return err
	}

	var previous []byte
	if a.isIndexed(name) {
		if prev, err := a.Get(ctx, name); err == nil {
			previous = prev
		}
	}

	p := &storage.Property{ActorID: a.ID, Name: name, Value: value}
	if err := a.factory.store.SetProperty(ctx, p); err != nil {
		return errors.NewFatalError("writing property", err)
	}

	if a.isIndexed(name) {
		if previous != nil && string(previous) != string(value) {
			_ = a.factory.store.UnindexProperty(ctx, name, string(previous))
		}
		if err := a.factory.store.IndexProperty(ctx, name, string(value), a.ID); err != nil {
			return errors.NewFatalError("indexing property", err)
		}
	}

	return a.factory.diffs.RegisterPropertyDiff(ctx, a.ID, name, value, false)
}

// Delete removes a scalar property.
func (a *Actor) Delete(ctx context.Context, name string) error {
	if a.isIndexed(name) {
		if prev, err := a.Get(ctx, name); err == nil && prev != nil {
			_ = a.factory.store.UnindexProperty(ctx, name, string(prev))
		}
	}
	if err := a.factory.store.DeleteProperty(ctx, a.ID, name); err != nil {
		return errors.NewFatalError("deleting property", err)
	}
	return a.factory.diffs.RegisterPropertyDiff(ctx, a.ID, name, nil, true)
}

// DeleteAll removes every scalar property on the actor.
func (a *Actor) DeleteAll(ctx context.Context) error {
	if err := a.factory.store.DeleteAllProperties(ctx, a.ID); err != nil {
		return errors.NewFatalError("deleting all properties", err)
	}
	return nil
}

func (a *Actor) isIndexed(name string) bool {
	for _, n := range a.factory.cfg.IndexedProperties {
		if n == name {
			return true
		}
	}
	return false
}

// checkNameCollision enforces spec invariant 1: a scalar property and a
// list property of the same name are mutually exclusive.
func (a *Actor) checkNameCollision(ctx context.Context, name string) error {
	hasList, err := a.factory.store.HasList(ctx, a.ID, name)
	if err != nil {
		return errors.NewFatalError("checking name collision", err)
	}
	if hasList {
		return errors.NewInvalidRequestError("a list property named '"+name+"' already exists", nil)
	}
	return nil
}

// SupportedOptions returns the live set of option tags to advertise at
// /meta/actingweb/supported (spec §6), reflecting runtime config (e.g.
// devtest disabled in production removes its tag).
func (f *Factory) SupportedOptions() []string {
	tags := []string{
		"www", "oauth", "callbacks", "trust", "onewaytrust", "subscriptions",
		"actions", "resources", "methods", "sessions", "nestedproperties",
		"listproperties", "trustpermissions", "subscriptionresync",
		"subscriptionbatch", "callbackcompression", "subscriptionstats",
		"subscriptionhealth", "permissioncallback", "permissionquery",
	}
	if !f.cfg.DevtestEnabled {
		return tags
	}
	return append(tags, "devtest")
}

// NormalizePropertyPath splits a deep property path such as
// "prefs/theme/color" into its top-level property name and the remaining
// sub-path, supporting the "nestedproperties" option tag.
func NormalizePropertyPath(path string) (name string, subpath string) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

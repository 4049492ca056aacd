package access

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/storage"
)

// trustTypeBucket is the reserved attribute bucket in the system actor
// holding TrustType rows (spec §3).
const trustTypeBucket = "_trust_types"

// overrideBucket is the reserved per-actor attribute bucket holding
// TrustPermissionOverride rows (spec §3).
const overrideBucket = "_trust_permissions"

// Registry holds the trust-type registry, loaded eagerly at startup to
// avoid cold-load stalls during OAuth2 flows (spec §4.3, §9).
type Registry struct {
	mu    sync.RWMutex
	store storage.Interfaces
	types map[string]*TrustType
}

// NewRegistry constructs a Registry with the built-in default trust types
// already present; call Initialize to eagerly merge in any persisted
// custom trust types from storage.
func NewRegistry(store storage.Interfaces) *Registry {
	r := &Registry{store: store, types: make(map[string]*TrustType)}
	for _, t := range defaultTrustTypes() {
		tt := t
		r.types[tt.Name] = &tt
	}
	return r
}

// Initialize loads persisted trust types from the reserved system actor
// and merges them atop the built-in defaults (spec §4.3
// "initialize_singletons" — eager loading is a hard requirement).
func (r *Registry) Initialize(ctx context.Context) error {
	if err := storage.EnsureReservedActors(ctx, r.store); err != nil {
		return errors.NewFatalError("ensuring reserved system actors", err)
	}
	attrs, err := r.store.ListAttributes(ctx, storage.SystemActorID, trustTypeBucket)
	if err != nil {
		return errors.NewFatalError("loading trust type registry", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range attrs {
		var tt TrustType
		if err := json.Unmarshal(a.Value, &tt); err != nil {
			logger.Warnf("skipping malformed trust type %q: %v", a.Name, err)
			continue
		}
		r.types[tt.Name] = &tt
	}
	logger.Infof("access: trust type registry initialized with %d types", len(r.types))
	return nil
}

// Get returns a copy of the named trust type, or (nil, false) if unknown.
func (r *Registry) Get(name string) (*TrustType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tt, ok := r.types[name]
	if !ok {
		return nil, false
	}
	cp := *tt
	return &cp, true
}

// Put persists a (custom or updated) trust type both in memory and in
// storage, so application code can register new relationship kinds.
func (r *Registry) Put(ctx context.Context, tt TrustType) error {
	if tt.Name == "" {
		return errors.NewInvalidRequestError("trust type name is required", nil)
	}
	blob, err := json.Marshal(tt)
	if err != nil {
		return errors.NewInvalidRequestError("encoding trust type", err)
	}
	if err := r.store.SetAttribute(ctx, &storage.Attribute{
		ActorID: storage.SystemActorID,
		Bucket:  trustTypeBucket,
		Name:    tt.Name,
		Value:   blob,
	}); err != nil {
		return errors.NewFatalError("persisting trust type", err)
	}
	r.mu.Lock()
	cp := tt
	r.types[tt.Name] = &cp
	r.mu.Unlock()
	return nil
}

// Names returns the registered trust type names, for /meta/trusttypes.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for n := range r.types {
		out = append(out, n)
	}
	return out
}

// GetOverride loads a per-relationship permission override, or nil if none
// is set.
func (r *Registry) GetOverride(ctx context.Context, actorID, peerID string) (*Override, error) {
	key := overrideKey(actorID, peerID)
	attr, err := r.store.GetAttribute(ctx, actorID, overrideBucket, key)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.NewFatalError("loading permission override", err)
	}
	var o Override
	if err := json.Unmarshal(attr.Value, &o); err != nil {
		return nil, errors.NewFatalError("decoding permission override", err)
	}
	o.ActorID, o.PeerID = actorID, peerID
	return &o, nil
}

// PutOverride persists a per-relationship permission override.
func (r *Registry) PutOverride(ctx context.Context, o Override) error {
	blob, err := json.Marshal(o)
	if err != nil {
		return errors.NewInvalidRequestError("encoding permission override", err)
	}
	return r.store.SetAttribute(ctx, &storage.Attribute{
		ActorID: o.ActorID,
		Bucket:  overrideBucket,
		Name:    overrideKey(o.ActorID, o.PeerID),
		Value:   blob,
	})
}

// DeleteOverride removes a per-relationship permission override (called
// when a trust is deleted — spec invariant 5).
func (r *Registry) DeleteOverride(ctx context.Context, actorID, peerID string) error {
	return r.store.DeleteAttribute(ctx, actorID, overrideBucket, overrideKey(actorID, peerID))
}

func overrideKey(actorID, peerID string) string {
	return fmt.Sprintf("%s:%s", actorID, peerID)
}

func isNotFound(err error) bool {
	var e *errors.Error
	return errors.As(err, &e) && e.Kind == errors.KindNotFound
}

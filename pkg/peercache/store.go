// Package peercache supplies the composition root's default
// implementations of subscriptions.BaselineApplier,
// subscriptions.PeerCacheCleaner, and callback.Handler: it is where a
// peer's baseline GET response and every subsequent inbound diff/resync
// land once the subscription engine and callback processor have done
// their own bookkeeping (spec §4.4 "perform baseline GET ... to
// establish initial state", spec §4.5 "applies arriving diffs/resyncs").
//
// Grounded on pkg/access/registry.go's reserved-attribute-bucket
// pattern (spec §3: "library-internal buckets use a reserved `_`
// prefix") rather than a bespoke cache package: cached peer state is
// just another per-actor attribute bucket, so it rides the same
// storage.Interfaces.AttributeStore contract every other internal
// bucket uses, with no new storage method required.
package peercache

import (
	"context"
	"fmt"

	"github.com/actingweb/aw/pkg/hooks"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/storage"

	awerrors "github.com/actingweb/aw/pkg/errors"
)

// HookName is the hooks.Registry callback name application code can
// register against (via Registry.OnCallback) to observe every piece of
// peer state this package caches, regardless of whether it arrived as a
// subscription baseline, a diff, or a resync.
const HookName = "_peer_cache_update"

const baselineBucket = "_peer_cache_baseline"

func peerBucket(peerID string) string { return "_peer_cache:" + peerID }

// Store caches peer-delivered subscription state in the receiving
// actor's own attribute store.
type Store struct {
	store storage.Interfaces
	hooks *hooks.Registry
}

// New constructs a Store. hooks may be nil; the observer hook is then
// simply never fired.
func New(store storage.Interfaces, h *hooks.Registry) *Store {
	return &Store{store: store, hooks: h}
}

func baselineKey(target, subtarget string) string {
	if subtarget == "" {
		return target
	}
	return target + "/" + subtarget
}

// ApplyBaseline implements subscriptions.BaselineApplier. The baseline
// cache is keyed by (target, subtarget) only: the BaselineApplier
// interface does not carry a peerID (an existing asymmetry with
// HandleDiff/HandleResync below, kept rather than redesigned — see
// DESIGN.md), so a baseline is shared storage for whichever peer last
// supplied it. This is correct for the common case of one outbound
// subscription per (target, subtarget); an actor with two peers feeding
// baselines for the same subtarget will see the more recent one win.
func (s *Store) ApplyBaseline(ctx context.Context, actorID, target, subtarget string, data []byte) error {
	if err := s.store.SetAttribute(ctx, &storage.Attribute{
		ActorID: actorID,
		Bucket:  baselineBucket,
		Name:    baselineKey(target, subtarget),
		Value:   data,
	}); err != nil {
		return err
	}
	s.notify(ctx, actorID, data)
	return nil
}

// Baseline returns the cached baseline for (target, subtarget), or nil
// if none has been applied yet.
func (s *Store) Baseline(ctx context.Context, actorID, target, subtarget string) ([]byte, error) {
	a, err := s.store.GetAttribute(ctx, actorID, baselineBucket, baselineKey(target, subtarget))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return a.Value, nil
}

// ClearPeerCache implements subscriptions.PeerCacheCleaner: it drops
// every cached diff/resync for peerID. It does NOT remove cached
// baselines, since those carry no peerID to select by (see ApplyBaseline's
// doc comment) — a baseline is cleared only when a fresher one overwrites
// it.
func (s *Store) ClearPeerCache(ctx context.Context, actorID, peerID string) error {
	return s.store.DeleteBucket(ctx, actorID, peerBucket(peerID))
}

// HandleDiff implements callback.Handler.
func (s *Store) HandleDiff(ctx context.Context, actorID, peerID, subID, target string, data []byte) error {
	return s.cache(ctx, actorID, peerID, subID, target, data)
}

// HandleResync implements callback.Handler: a resync simply overwrites
// whatever was cached for this (peer, subscription, target).
func (s *Store) HandleResync(ctx context.Context, actorID, peerID, subID, target string, data []byte) error {
	return s.cache(ctx, actorID, peerID, subID, target, data)
}

// Get returns the most recently cached diff/resync payload for a given
// (peer, subscription, target), or nil if nothing has arrived yet.
func (s *Store) Get(ctx context.Context, actorID, peerID, subID, target string) ([]byte, error) {
	a, err := s.store.GetAttribute(ctx, actorID, peerBucket(peerID), fmt.Sprintf("%s:%s", subID, target))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return a.Value, nil
}

func isNotFound(err error) bool {
	var e *awerrors.Error
	return awerrors.As(err, &e) && e.Kind == awerrors.KindNotFound
}

func (s *Store) cache(ctx context.Context, actorID, peerID, subID, target string, data []byte) error {
	if err := s.store.SetAttribute(ctx, &storage.Attribute{
		ActorID: actorID,
		Bucket:  peerBucket(peerID),
		Name:    fmt.Sprintf("%s:%s", subID, target),
		Value:   data,
	}); err != nil {
		return err
	}
	s.notify(ctx, actorID, data)
	return nil
}

func (s *Store) notify(ctx context.Context, actorID string, data []byte) {
	if s.hooks == nil {
		return
	}
	if _, _, err := s.hooks.DispatchCallback(ctx, nil, actorID, HookName, data); err != nil {
		logger.Warnf("peercache: %s hook for actor %s failed: %v", HookName, actorID, err)
	}
}

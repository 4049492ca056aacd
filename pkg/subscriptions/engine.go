package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/actingweb/aw/pkg/access"
	"github.com/actingweb/aw/pkg/actor"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/netclient"
	"github.com/actingweb/aw/pkg/storage"
	"github.com/actingweb/aw/pkg/trust"
)

// Enqueuer is the fan-out manager's intake, wired in after construction
// so pkg/subscriptions does not import pkg/fanout (which sits above it
// in the dependency order — spec §9 "manager structs hold a weak
// back-reference").
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// BaselineApplier lets the composition root seed application state after
// an outbound subscription's baseline GET (spec §4.4: "perform baseline
// GET on the subscribed resource to establish initial state").
type BaselineApplier interface {
	ApplyBaseline(ctx context.Context, actorID, target, subtarget string, data []byte) error
}

// PeerCacheCleaner clears any cached remote-peer state once the last
// outbound subscription to a peer is removed (spec §4.4 delete).
type PeerCacheCleaner interface {
	ClearPeerCache(ctx context.Context, actorID, peerID string) error
}

type noopEnqueuer struct{}

func (noopEnqueuer) Enqueue(context.Context, Job) error { return nil }

type noopBaseline struct{}

func (noopBaseline) ApplyBaseline(context.Context, string, string, string, []byte) error { return nil }

type noopCacheCleaner struct{}

func (noopCacheCleaner) ClearPeerCache(context.Context, string, string) error { return nil }

// Engine is the subscription manager: it implements actor.DiffRegistrar,
// CRUD for subscriptions, and suspend/resume.
type Engine struct {
	store     storage.Interfaces
	trustMgr  *trust.Manager
	registry  *access.Registry
	evaluator *access.Evaluator
	client    *http.Client

	enqueuer Enqueuer
	baseline BaselineApplier
	cleaner  PeerCacheCleaner
}

// NewEngine constructs an Engine. client is used for the outbound
// subscribe POST and baseline GET; pass one built by pkg/netclient.
func NewEngine(store storage.Interfaces, trustMgr *trust.Manager, registry *access.Registry, evaluator *access.Evaluator, client *http.Client) *Engine {
	return &Engine{
		store:     store,
		trustMgr:  trustMgr,
		registry:  registry,
		evaluator: evaluator,
		client:    client,
		enqueuer:  noopEnqueuer{},
		baseline:  noopBaseline{},
		cleaner:   noopCacheCleaner{},
	}
}

// SetEnqueuer wires in the fan-out manager.
func (e *Engine) SetEnqueuer(q Enqueuer) {
	if q == nil {
		q = noopEnqueuer{}
	}
	e.enqueuer = q
}

// SetBaselineApplier wires in the application's baseline-seeding logic.
func (e *Engine) SetBaselineApplier(b BaselineApplier) {
	if b == nil {
		b = noopBaseline{}
	}
	e.baseline = b
}

// SetPeerCacheCleaner wires in the cached-remote-peer-state cleanup.
func (e *Engine) SetPeerCacheCleaner(c PeerCacheCleaner) {
	if c == nil {
		c = noopCacheCleaner{}
	}
	e.cleaner = c
}

var _ actor.DiffRegistrar = (*Engine)(nil)

// RegisterPropertyDiff implements actor.DiffRegistrar for scalar property
// writes (spec §4.4): full new value, or nil on delete.
func (e *Engine) RegisterPropertyDiff(ctx context.Context, actorID, name string, value []byte, deleted bool) error {
	blob := value
	if deleted {
		blob = []byte{}
	}
	return e.registerDiff(ctx, actorID, TargetProperties, name, blob)
}

// RegisterListDiff implements actor.DiffRegistrar for list mutations: the
// payload is the JSON-encoded actor.ListDiff (spec §4.4 list diff shape).
func (e *Engine) RegisterListDiff(ctx context.Context, actorID, name string, diff actor.ListDiff) error {
	blob, err := json.Marshal(diff)
	if err != nil {
		return awerrors.NewFatalError("encoding list diff", err)
	}
	return e.registerDiff(ctx, actorID, TargetLists, name, blob)
}

func (e *Engine) registerDiff(ctx context.Context, actorID, target, subtarget string, blob []byte) error {
	suspended, err := e.store.IsSuspended(ctx, actorID, target, subtarget)
	if err != nil {
		return awerrors.NewFatalError("checking subscription suspension", err)
	}
	if suspended {
		return nil
	}

	subs, err := e.store.ListSubscriptions(ctx, actorID)
	if err != nil {
		return awerrors.NewFatalError("listing subscriptions", err)
	}

	category := categoryFor(target)
	memo := access.NewMemo()

	for _, sub := range subs {
		if sub.Target != target || !subtargetMatches(sub.SubTarget, subtarget) {
			continue
		}
		if !e.subscriberCanRead(ctx, actorID, sub.PeerID, category, subtarget, memo) {
			continue
		}

		seqnr, err := e.store.NextSeqNr(ctx, actorID, sub.PeerID, sub.SubID)
		if err != nil {
			logger.Warnf("subscriptions: allocating seqnr for %s/%s/%s: %v", actorID, sub.PeerID, sub.SubID, err)
			continue
		}
		if err := e.store.PutDiff(ctx, &storage.SubscriptionDiff{
			ActorID: actorID, SubID: sub.SubID, SeqNr: seqnr, Timestamp: time.Now().UTC(), Blob: blob,
		}); err != nil {
			logger.Warnf("subscriptions: storing diff for %s/%s: %v", actorID, sub.SubID, err)
			continue
		}
		if err := e.enqueuer.Enqueue(ctx, Job{
			ActorID: actorID, PeerID: sub.PeerID, SubID: sub.SubID, SeqNr: seqnr,
			Granularity: sub.Granularity, Type: DiffTypeDiff,
		}); err != nil {
			logger.Warnf("subscriptions: enqueueing fan-out for %s/%s: %v", actorID, sub.SubID, err)
		}
	}
	return nil
}

func (e *Engine) subscriberCanRead(ctx context.Context, actorID, peerID string, category access.Category, target string, memo *access.Memo) bool {
	t, err := e.trustMgr.Get(ctx, actorID, peerID)
	if err != nil || !t.Usable() {
		return false
	}
	override, err := e.registry.GetOverride(ctx, actorID, peerID)
	if err != nil {
		override = nil
	}
	decision := e.evaluator.Evaluate(ctx, actorID+"|"+peerID, memo, access.Request{
		TrustType: t.PeerType,
		Override:  override,
		Category:  category,
		Target:    target,
		Operation: access.OpRead,
	})
	return decision == access.Allowed
}

// Subscribe handles an inbound POST /subscriptions/{peerid}: the caller
// (peerID) wants diffs for (target, subtarget, resource). Requires the
// peer's trust to grant subscribe on target (spec §4.4).
func (e *Engine) Subscribe(ctx context.Context, actorID, peerID, target, subtarget, resource string, granularity storage.Granularity) (*storage.Subscription, error) {
	t, err := e.trustMgr.Get(ctx, actorID, peerID)
	if err != nil {
		return nil, err
	}
	if !t.Usable() {
		return nil, awerrors.NewForbiddenError("trust relationship is not yet active", nil)
	}
	override, _ := e.registry.GetOverride(ctx, actorID, peerID)
	decision := e.evaluator.Evaluate(ctx, actorID+"|"+peerID, nil, access.Request{
		TrustType: t.PeerType, Override: override, Category: categoryFor(target),
		Target: subtarget, Operation: access.OpSubscribe,
	})
	if decision != access.Allowed {
		return nil, awerrors.NewForbiddenError("trust does not grant subscribe on this target", nil)
	}

	sub := &storage.Subscription{
		ActorID: actorID, PeerID: peerID, SubID: uuid.NewString(),
		Target: target, SubTarget: subtarget, Resource: resource,
		Granularity: granularity, SeqNr: 0, Callback: false,
	}
	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return nil, awerrors.NewFatalError("creating inbound subscription", err)
	}
	return sub, nil
}

// SubscribeToPeer initiates an outbound subscription: POST to the peer,
// and on success insert the local mirror row with callback=true, then
// fetch the subscribed resource's current state as a baseline (spec
// §4.4: "peers may have pre-existing data").
func (e *Engine) SubscribeToPeer(ctx context.Context, actorID, peerID, target, subtarget, resource string, granularity storage.Granularity) (*storage.Subscription, error) {
	t, err := e.trustMgr.Get(ctx, actorID, peerID)
	if err != nil {
		return nil, err
	}
	if t.BaseURI == "" {
		return nil, awerrors.NewInvalidRequestError("trust has no peer base URI", nil)
	}

	reqBody := map[string]any{
		"target": target, "subtarget": subtarget, "resource": resource, "granularity": granularity,
	}
	payload, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURI+"/subscriptions/"+actorID, bytes.NewReader(payload))
	if err != nil {
		return nil, awerrors.NewFatalError("building subscribe request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, awerrors.New(awerrors.KindPeerUnavailable, "subscribing to peer", err)
	}
	defer resp.Body.Close()
	body := new(bytes.Buffer)
	_, _ = body.ReadFrom(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, awerrors.New(awerrors.KindPeerUnavailable, fmt.Sprintf("peer rejected subscription: %d", resp.StatusCode),
			netclient.NewHTTPError(resp.StatusCode, req.URL.String(), body.String()))
	}

	var decoded struct {
		SubscriptionID string `json:"subscriptionid"`
	}
	_ = json.Unmarshal(body.Bytes(), &decoded)
	subID := decoded.SubscriptionID
	if subID == "" {
		subID = uuid.NewString()
	}

	sub := &storage.Subscription{
		ActorID: actorID, PeerID: peerID, SubID: subID,
		Target: target, SubTarget: subtarget, Resource: resource,
		Granularity: granularity, SeqNr: 0, Callback: true,
	}
	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return nil, awerrors.NewFatalError("persisting outbound subscription", err)
	}

	if resource != "" {
		if baseline, err := e.fetchBaseline(ctx, t.BaseURI, resource); err != nil {
			logger.Warnf("subscriptions: baseline fetch for %s failed: %v", resource, err)
		} else if err := e.baseline.ApplyBaseline(ctx, actorID, target, subtarget, baseline); err != nil {
			logger.Warnf("subscriptions: applying baseline for %s failed: %v", resource, err)
		}
	}
	return sub, nil
}

func (e *Engine) fetchBaseline(ctx context.Context, baseURI, resource string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURI+"/"+resource, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, netclient.NewHTTPError(resp.StatusCode, req.URL.String(), buf.String())
	}
	return buf.Bytes(), nil
}

// Delete removes a subscription: the local row, a best-effort peer
// DELETE for outbound subscriptions, and — if it was the last outbound
// subscription to that peer — the cached remote-peer state (spec §4.4).
func (e *Engine) Delete(ctx context.Context, actorID, peerID, subID string) error {
	sub, err := e.store.GetSubscription(ctx, actorID, peerID, subID)
	if err != nil {
		return wrapNotFound(err)
	}

	if sub.Callback {
		if t, err := e.trustMgr.Get(ctx, actorID, peerID); err == nil && t.BaseURI != "" {
			req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, t.BaseURI+"/subscriptions/"+actorID+"/"+subID, nil)
			if req != nil {
				if resp, err := e.client.Do(req); err != nil {
					logger.Warnf("subscriptions: best-effort peer unsubscribe failed: %v", err)
				} else {
					_ = resp.Body.Close()
				}
			}
		}
	}

	if err := e.store.DeleteSubscription(ctx, actorID, peerID, subID); err != nil {
		return awerrors.NewFatalError("deleting subscription", err)
	}

	if sub.Callback {
		remaining, err := e.store.ListSubscriptions(ctx, actorID)
		if err == nil {
			lastToPeer := true
			for _, s := range remaining {
				if s.PeerID == peerID && s.Callback {
					lastToPeer = false
					break
				}
			}
			if lastToPeer {
				if err := e.cleaner.ClearPeerCache(ctx, actorID, peerID); err != nil {
					logger.Warnf("subscriptions: clearing cached peer state for %s/%s: %v", actorID, peerID, err)
				}
			}
		}
	}
	return nil
}

// List returns every subscription an actor holds.
func (e *Engine) List(ctx context.Context, actorID string) ([]*storage.Subscription, error) {
	subs, err := e.store.ListSubscriptions(ctx, actorID)
	if err != nil {
		return nil, awerrors.NewFatalError("listing subscriptions", err)
	}
	return subs, nil
}

// Get returns a single subscription row.
func (e *Engine) Get(ctx context.Context, actorID, peerID, subID string) (*storage.Subscription, error) {
	sub, err := e.store.GetSubscription(ctx, actorID, peerID, subID)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return sub, nil
}

// Suspend pauses diff registration for (target, subtarget) — a
// developer-only API (spec §4.4).
func (e *Engine) Suspend(ctx context.Context, actorID, target, subtarget string) error {
	if err := e.store.Suspend(ctx, &storage.SubscriptionSuspension{ActorID: actorID, Target: target, SubTarget: subtarget}); err != nil {
		return awerrors.NewFatalError("suspending subscriptions", err)
	}
	return nil
}

// Resume lifts a suspension and emits one resync callback per affected
// subscription, at a freshly incremented seqnr (spec §4.4).
func (e *Engine) Resume(ctx context.Context, actorID, target, subtarget string) error {
	if err := e.store.Resume(ctx, actorID, target, subtarget); err != nil {
		return awerrors.NewFatalError("resuming subscriptions", err)
	}

	subs, err := e.store.ListSubscriptionsForTarget(ctx, actorID, target, subtarget)
	if err != nil {
		return awerrors.NewFatalError("listing subscriptions for resync", err)
	}
	for _, sub := range subs {
		seqnr, err := e.store.NextSeqNr(ctx, actorID, sub.PeerID, sub.SubID)
		if err != nil {
			logger.Warnf("subscriptions: allocating resync seqnr for %s/%s: %v", actorID, sub.SubID, err)
			continue
		}
		if err := e.store.PutDiff(ctx, &storage.SubscriptionDiff{ActorID: actorID, SubID: sub.SubID, SeqNr: seqnr, Timestamp: time.Now().UTC()}); err != nil {
			logger.Warnf("subscriptions: storing resync diff for %s/%s: %v", actorID, sub.SubID, err)
			continue
		}
		if err := e.enqueuer.Enqueue(ctx, Job{
			ActorID: actorID, PeerID: sub.PeerID, SubID: sub.SubID, SeqNr: seqnr,
			Granularity: sub.Granularity, Type: DiffTypeResync,
		}); err != nil {
			logger.Warnf("subscriptions: enqueueing resync for %s/%s: %v", actorID, sub.SubID, err)
		}
	}
	return nil
}

func wrapNotFound(err error) error {
	var e *awerrors.Error
	if awerrors.As(err, &e) && e.Kind == awerrors.KindNotFound {
		return awerrors.NewNotFoundError("subscription not found", err)
	}
	return awerrors.NewFatalError("looking up subscription", err)
}

// Package hooks implements the typed hook registry (spec §4.9): a
// dispatch table keyed by (hook_kind, selector) that lets application
// code observe lifecycle transitions, transform or reject property
// writes, and expose methods/actions/tools/resources/prompts under the
// accessor's evaluated permissions. Grounded on spec §9's "dynamic hook
// callables and decorators" design note: rather than a map of arbitrary
// callables keyed by string, every hook kind has its own function
// signature, so a misregistered hook is a compile error, not a runtime
// surprise.
package hooks

import (
	"context"
	"sync"

	"github.com/gobwas/glob"

	"github.com/actingweb/aw/pkg/auth"
	"github.com/actingweb/aw/pkg/logger"
)

// LifecycleEvent enumerates the named lifecycle hooks of spec §4.9.
type LifecycleEvent string

// Lifecycle events.
const (
	EventActorCreated            LifecycleEvent = "actor_created"
	EventTrustInitiated          LifecycleEvent = "trust_initiated"
	EventTrustRequestReceived    LifecycleEvent = "trust_request_received"
	EventTrustApproved           LifecycleEvent = "trust_approved"
	EventTrustFullyApprovedLocal LifecycleEvent = "trust_fully_approved_local"
	EventTrustFullyApprovedPeer  LifecycleEvent = "trust_fully_approved_remote"
	EventTrustDeleted            LifecycleEvent = "trust_deleted"
	EventOAuthSuccess            LifecycleEvent = "oauth_success"
	EventEmailVerificationNeeded LifecycleEvent = "email_verification_required"
	EventEmailVerified           LifecycleEvent = "email_verified"
	EventSubscriptionDeleted     LifecycleEvent = "subscription_deleted"
)

// PropertyOperation is the verb a property hook observes.
type PropertyOperation string

// Property hook operations, named after the HTTP verbs they answer to.
const (
	PropertyGet    PropertyOperation = "get"
	PropertyPut    PropertyOperation = "put"
	PropertyPost   PropertyOperation = "post"
	PropertyDelete PropertyOperation = "delete"
)

// LifecycleFunc observes a lifecycle transition. Hook failures never
// corrupt the operation that fired them (spec §7): the registry logs and
// swallows any error a lifecycle hook returns.
type LifecycleFunc func(ctx context.Context, actorID, peerID string) error

// PropertyFunc observes (and may transform or reject) a property
// read/write. Returning a non-nil error rejects the operation;
// returning a non-nil value replaces the property value in place
// (spec §4.9: "may transform/reject values").
type PropertyFunc func(ctx context.Context, rc *auth.Context, actorID, name string, value []byte) ([]byte, error)

// CallbackFunc answers an actor-level /callbacks/{name} callback or the
// app-level /bot callback.
type CallbackFunc func(ctx context.Context, rc *auth.Context, actorID, name string, body []byte) ([]byte, error)

// CallFunc answers a /methods, /actions, or MCP tool/prompt/resource
// invocation, running under the evaluated permissions of rc's accessor.
type CallFunc func(ctx context.Context, rc *auth.Context, actorID, name string, params map[string]any) (any, error)

type propertyHook struct {
	pattern glob.Glob
	op      PropertyOperation
	fn      PropertyFunc
}

type callEntry struct {
	fn    CallFunc
	async bool
}

// Registry is the process-wide hook dispatch table. It is safe for
// concurrent registration and dispatch.
type Registry struct {
	mu sync.RWMutex

	lifecycle map[LifecycleEvent][]LifecycleFunc
	property  []propertyHook
	callbacks map[string]CallbackFunc

	methods   map[string]callEntry
	actions   map[string]callEntry
	tools     map[string]callEntry
	resources map[string]callEntry
	prompts   map[string]callEntry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		lifecycle: make(map[LifecycleEvent][]LifecycleFunc),
		callbacks: make(map[string]CallbackFunc),
		methods:   make(map[string]callEntry),
		actions:   make(map[string]callEntry),
		tools:     make(map[string]callEntry),
		resources: make(map[string]callEntry),
		prompts:   make(map[string]callEntry),
	}
}

// OnLifecycle registers fn to run on event.
func (r *Registry) OnLifecycle(event LifecycleEvent, fn LifecycleFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycle[event] = append(r.lifecycle[event], fn)
}

// Fire dispatches a lifecycle event by name. Its signature matches
// pkg/trust.Notifier's Fire method.
func (r *Registry) Fire(ctx context.Context, hookName, actorID, peerID string) {
	r.mu.RLock()
	fns := append([]LifecycleFunc{}, r.lifecycle[LifecycleEvent(hookName)]...)
	r.mu.RUnlock()
	for _, fn := range fns {
		if err := fn(ctx, actorID, peerID); err != nil {
			logger.Warnw("hooks: lifecycle hook failed", "event", hookName, "actor_id", actorID, "peer_id", peerID, "error", err)
		}
	}
}

// OnProperty registers fn to observe property operations on names
// matching pattern (a glob, e.g. "prefs/*").
func (r *Registry) OnProperty(pattern string, op PropertyOperation, fn PropertyFunc) error {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.property = append(r.property, propertyHook{pattern: g, op: op, fn: fn})
	return nil
}

// DispatchProperty runs every matching property hook in registration
// order, threading the (possibly transformed) value through each. A
// hook returning an error aborts the chain and is propagated to the
// caller, which MUST reject the operation.
func (r *Registry) DispatchProperty(ctx context.Context, rc *auth.Context, actorID, name string, op PropertyOperation, value []byte) ([]byte, error) {
	r.mu.RLock()
	matches := make([]propertyHook, 0)
	for _, h := range r.property {
		if h.op == op && h.pattern.Match(name) {
			matches = append(matches, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range matches {
		out, err := h.fn(ctx, rc, actorID, name, value)
		if err != nil {
			return nil, err
		}
		if out != nil {
			value = out
		}
	}
	return value, nil
}

// OnCallback registers fn for the named actor-level /callbacks/{name}
// target or the reserved app-level name "_bot", which is dispatched for
// POST /bot. No app-level /oauth callback is dispatched to this table.
func (r *Registry) OnCallback(name string, fn CallbackFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[name] = fn
}

// DispatchCallback runs the registered callback hook for name, if any.
// ok is false when no hook is registered (caller should 404).
func (r *Registry) DispatchCallback(ctx context.Context, rc *auth.Context, actorID, name string, body []byte) (resp []byte, ok bool, err error) {
	r.mu.RLock()
	fn, found := r.callbacks[name]
	r.mu.RUnlock()
	if !found {
		return nil, false, nil
	}
	resp, err = fn(ctx, rc, actorID, name, body)
	return resp, true, err
}

func registerCall(mu *sync.RWMutex, m map[string]callEntry, name string, fn CallFunc, async bool) {
	mu.Lock()
	defer mu.Unlock()
	m[name] = callEntry{fn: fn, async: async}
}

// OnMethod registers a /methods/{name} handler.
func (r *Registry) OnMethod(name string, fn CallFunc) { registerCall(&r.mu, r.methods, name, fn, false) }

// OnAsyncMethod registers a /methods/{name} handler that runs
// detached from the request: Dispatch returns immediately once the
// goroutine is scheduled (spec §4.9: "support both sync and async
// handlers").
func (r *Registry) OnAsyncMethod(name string, fn CallFunc) {
	registerCall(&r.mu, r.methods, name, fn, true)
}

// OnAction registers a /actions/{name} handler.
func (r *Registry) OnAction(name string, fn CallFunc) { registerCall(&r.mu, r.actions, name, fn, false) }

// OnAsyncAction registers an asynchronous /actions/{name} handler.
func (r *Registry) OnAsyncAction(name string, fn CallFunc) {
	registerCall(&r.mu, r.actions, name, fn, true)
}

// OnTool registers an MCP tool handler.
func (r *Registry) OnTool(name string, fn CallFunc) { registerCall(&r.mu, r.tools, name, fn, false) }

// OnResource registers a /resources/{name} (and MCP resource) handler.
func (r *Registry) OnResource(name string, fn CallFunc) {
	registerCall(&r.mu, r.resources, name, fn, false)
}

// OnPrompt registers an MCP prompt handler.
func (r *Registry) OnPrompt(name string, fn CallFunc) { registerCall(&r.mu, r.prompts, name, fn, false) }

// CallKind enumerates the exposed-surface dispatch tables.
type CallKind string

// Call kinds.
const (
	CallMethod   CallKind = "method"
	CallAction   CallKind = "action"
	CallTool     CallKind = "tool"
	CallResource CallKind = "resource"
	CallPrompt   CallKind = "prompt"
)

// ErrAsyncAccepted is returned by Dispatch when an async handler was
// scheduled; callers should respond 202 Accepted rather than waiting.
var ErrAsyncAccepted = asyncAccepted{}

type asyncAccepted struct{}

func (asyncAccepted) Error() string { return "hooks: handler accepted for async execution" }

func (r *Registry) tableFor(kind CallKind) map[string]callEntry {
	switch kind {
	case CallMethod:
		return r.methods
	case CallAction:
		return r.actions
	case CallTool:
		return r.tools
	case CallResource:
		return r.resources
	case CallPrompt:
		return r.prompts
	default:
		return nil
	}
}

// Dispatch invokes the named handler of the given kind under rc's
// evaluated permissions (the caller is expected to have already run
// access control before calling Dispatch). For a synchronous handler it
// returns the handler's result directly; for an async handler it
// schedules the call on a detached goroutine and returns
// ErrAsyncAccepted.
func (r *Registry) Dispatch(ctx context.Context, kind CallKind, rc *auth.Context, actorID, name string, params map[string]any) (any, bool, error) {
	r.mu.RLock()
	table := r.tableFor(kind)
	entry, ok := table[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !entry.async {
		v, err := entry.fn(ctx, rc, actorID, name, params)
		return v, true, err
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		if _, err := entry.fn(detached, rc, actorID, name, params); err != nil {
			logger.Warnw("hooks: async handler failed", "kind", kind, "name", name, "actor_id", actorID, "error", err)
		}
	}()
	return nil, true, ErrAsyncAccepted
}

// Names returns the registered handler names for a call kind, used by
// /methods, /actions, and MCP surface discovery listings.
func (r *Registry) Names(kind CallKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table := r.tableFor(kind)
	out := make([]string, 0, len(table))
	for n := range table {
		out = append(out, n)
	}
	return out
}

package access

import (
	"context"
	"fmt"
	"sync"

	"github.com/gobwas/glob"

	"github.com/actingweb/aw/pkg/logger"
)

// Request is one access-control question (spec §4.3 step 3).
type Request struct {
	TrustType    string
	Override     *Override
	Category     Category
	Target       string
	Operation    Operation
}

// Evaluator evaluates permission requests against the trust-type registry
// and per-relationship overrides, with per-request memoization (spec
// §4.3: "memoized per (accessor, category, target) within a request").
type Evaluator struct {
	registry *Registry

	globMu    sync.Mutex
	globCache map[string]glob.Glob

	cedarMu    sync.Mutex
	cedarCache map[string]*cedarOverlay
}

// NewEvaluator constructs an Evaluator bound to a trust-type registry.
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{
		registry:   registry,
		globCache:  make(map[string]glob.Glob),
		cedarCache: make(map[string]*cedarOverlay),
	}
}

// Memo is a per-request memoization cache. Callers create one per inbound
// request and thread it through every Evaluate call for that request.
type Memo struct {
	mu    sync.Mutex
	cache map[string]Decision
}

// NewMemo creates an empty per-request memoization cache.
func NewMemo() *Memo {
	return &Memo{cache: make(map[string]Decision)}
}

func memoKey(accessorKey string, r Request) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", accessorKey, r.TrustType, r.Category, r.Target, r.Operation)
}

// Evaluate evaluates one access request, applying the algorithm of spec
// §4.3 step 3: explicit deny wins, then allow+operation, then "category
// has patterns but no match => denied", then not_found. accessorKey
// identifies the accessor (e.g. "actor:peer") for memoization purposes.
func (e *Evaluator) Evaluate(ctx context.Context, accessorKey string, memo *Memo, r Request) Decision {
	key := memoKey(accessorKey, r)
	if memo != nil {
		memo.mu.Lock()
		if d, ok := memo.cache[key]; ok {
			memo.mu.Unlock()
			return d
		}
		memo.mu.Unlock()
	}

	d := e.evaluateUncached(ctx, r)

	if memo != nil {
		memo.mu.Lock()
		memo.cache[key] = d
		memo.mu.Unlock()
	}
	return d
}

func (e *Evaluator) evaluateUncached(_ context.Context, r Request) Decision {
	tt, ok := e.registry.Get(r.TrustType)
	if !ok {
		logger.Audit("access denied: unknown trust type", "trust_type", r.TrustType, "category", r.Category)
		return Denied
	}

	base, hasBase := tt.BasePermissions[r.Category]

	allowed := append([]string{}, base.Allowed...)
	denied := append([]string{}, base.Denied...)
	ops := base.Operations
	var overrideSet PermissionSet
	hasOverride := false
	if r.Override != nil {
		if ov, ok := r.Override.Permissions[r.Category]; ok {
			overrideSet = ov
			hasOverride = true
			// §4.3 step 2: allowed := union(base, override.allowed);
			// excluded := union(base.excluded, override.excluded) — a
			// fail-safe union that can never let an override narrow a
			// base exclusion.
			allowed = append(allowed, ov.Allowed...)
			denied = append(denied, ov.Denied...)
			if len(ov.Operations) > 0 {
				ops = unionOps(ops, ov.Operations)
			}
		}
	}

	if cedarDecided, cedarAllow := e.cedarDecision(tt, r); cedarDecided {
		if !cedarAllow {
			logger.Audit("access denied by cedar overlay", "trust_type", r.TrustType, "category", r.Category, "target", r.Target)
			return Denied
		}
		return Allowed
	}

	for _, pat := range denied {
		if e.matches(pat, r.Target) {
			logger.Audit("access denied: explicit deny pattern matched", "trust_type", r.TrustType, "category", r.Category, "pattern", pat, "target", r.Target)
			return Denied
		}
	}

	if hasOperation(ops, r.Operation) {
		for _, pat := range allowed {
			if e.matches(pat, r.Target) {
				return Allowed
			}
		}
	}

	if hasBase && len(base.Allowed) > 0 {
		logger.Audit("access denied: no allow pattern matched", "trust_type", r.TrustType, "category", r.Category, "target", r.Target)
		return Denied
	}
	if hasOverride && len(overrideSet.Allowed) > 0 {
		logger.Audit("access denied: no allow pattern matched", "trust_type", r.TrustType, "category", r.Category, "target", r.Target)
		return Denied
	}

	return NotFound
}

func (e *Evaluator) cedarDecision(tt *TrustType, r Request) (decided bool, allow bool) {
	if len(tt.ACLRules) == 0 {
		return false, false
	}
	e.cedarMu.Lock()
	overlay, ok := e.cedarCache[tt.Name]
	if !ok {
		var err error
		overlay, err = newCedarOverlay(tt.ACLRules)
		if err != nil {
			logger.Warnf("access: trust type %q has invalid acl_rules, ignoring cedar overlay: %v", tt.Name, err)
			overlay = nil
		}
		e.cedarCache[tt.Name] = overlay
	}
	e.cedarMu.Unlock()
	return overlay.evaluate("", r.Category, r.Target, r.Operation)
}

func (e *Evaluator) matches(pattern, target string) bool {
	e.globMu.Lock()
	g, ok := e.globCache[pattern]
	if !ok {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			logger.Warnf("access: invalid pattern %q, treating as non-matching", pattern)
			compiled = nil
		}
		g = compiled
		e.globCache[pattern] = g
	}
	e.globMu.Unlock()
	if g == nil {
		return false
	}
	return g.Match(target)
}

func hasOperation(ops []Operation, op Operation) bool {
	if len(ops) == 0 {
		// A category with no operations list defined is treated as
		// granting any operation once a pattern matches (e.g. resources
		// categories that don't distinguish verbs).
		return true
	}
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// EffectivePermissions computes the merged per-category permission set a
// peer holding trustType (with an optional override) currently has,
// applying the same fail-safe union rule as evaluateUncached (spec §4.3
// step 2). Used by GET /permissions/{peerid} and
// GET /trust/{rel}/{peerid}?permissions=true to show the caller what a
// peer can actually do, rather than re-deriving it request by request.
func (e *Evaluator) EffectivePermissions(trustType string, override *Override) map[Category]PermissionSet {
	tt, ok := e.registry.Get(trustType)
	if !ok {
		return nil
	}
	categories := []Category{CategoryProperties, CategoryMethods, CategoryActions, CategoryTools, CategoryResources, CategoryPrompts}
	out := make(map[Category]PermissionSet, len(categories))
	for _, cat := range categories {
		base := tt.BasePermissions[cat]
		merged := PermissionSet{
			Allowed:    append([]string{}, base.Allowed...),
			Denied:     append([]string{}, base.Denied...),
			Operations: base.Operations,
		}
		if override != nil {
			if ov, ok := override.Permissions[cat]; ok {
				merged.Allowed = append(merged.Allowed, ov.Allowed...)
				merged.Denied = append(merged.Denied, ov.Denied...)
				if len(ov.Operations) > 0 {
					merged.Operations = unionOps(merged.Operations, ov.Operations)
				}
			}
		}
		out[cat] = merged
	}
	return out
}

func unionOps(a, b []Operation) []Operation {
	seen := make(map[Operation]bool, len(a)+len(b))
	out := make([]Operation, 0, len(a)+len(b))
	for _, o := range append(append([]Operation{}, a...), b...) {
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out
}

// permissions.go implements the per-relationship permission override
// surface (spec §4.3, §6): reading and editing the override a creator
// has layered atop a peer's trust-type base permissions, and resolving
// the effective (merged) permission set for a peer.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/actingweb/aw/pkg/access"
	apierrors "github.com/actingweb/aw/pkg/api/errors"
	awerrors "github.com/actingweb/aw/pkg/errors"
)

// The {relationship}/{peerid}/permissions override CRUD routes (spec
// §6) are registered directly on trustRouter (trust.go), since they
// share its path prefix; this file keeps only the handler bodies and
// the effective-permissions surface, which is mounted at its own
// top-level /permissions prefix.

func effectivePermissionsRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/{peerid}", apierrors.ErrorHandler(wrap(deps, getEffectivePermissions)))
	return r
}

func requireOwner(r *http.Request) error {
	rc := authContext(r)
	if rc == nil || !rc.Owner() {
		return awerrors.NewForbiddenError("only the actor owner may manage permission overrides", nil)
	}
	return nil
}

func getOverride(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	if err := requireOwner(r); err != nil {
		return err
	}
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	o, err := deps.Registry.GetOverride(r.Context(), a.ID, peerID)
	if err != nil {
		return err
	}
	if o == nil {
		return writeJSON(w, http.StatusOK, map[string]any{"permissions": map[string]any{}})
	}
	return writeJSON(w, http.StatusOK, o)
}

func putOverride(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	if err := requireOwner(r); err != nil {
		return err
	}
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")

	var o access.Override
	if err := readJSON(r, &o); err != nil {
		return err
	}
	o.ActorID = a.ID
	o.PeerID = peerID
	if err := deps.Registry.PutOverride(r.Context(), o); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func deleteOverride(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	if err := requireOwner(r); err != nil {
		return err
	}
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	if err := deps.Registry.DeleteOverride(r.Context(), a.ID, peerID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// getEffectivePermissions answers GET /permissions/{peerid}: the merged
// (trust-type base + override) permission set currently in force for a
// peer, as actually consulted by the evaluator (spec §4.3).
func getEffectivePermissions(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	if err := requireOwner(r); err != nil {
		return err
	}
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")

	t, err := deps.Trusts.Get(r.Context(), a.ID, peerID)
	if err != nil {
		return err
	}
	override, err := deps.Registry.GetOverride(r.Context(), a.ID, peerID)
	if err != nil {
		override = nil
	}
	perms := deps.Evaluator.EffectivePermissions(t.PeerType, override)
	return writeJSON(w, http.StatusOK, perms)
}

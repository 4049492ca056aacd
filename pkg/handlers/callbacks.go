// callbacks.go implements the inbound callback surface (spec §4.5, §6):
// the per-subscription sequencing endpoint peers POST diffs to, plus the
// actor-level /callbacks/{name} and app-level /bot hooks that let
// application code observe arbitrary inbound notifications outside the
// subscription machinery. Grounded on pkg/callback.Processor, which owns
// the actual gap/resync/back-pressure state machine; this file only
// translates the wire envelope and enforces who may call it.
package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/actingweb/aw/pkg/api/errors"
	"github.com/actingweb/aw/pkg/callback"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
)

// bearerMatches reports whether r carries an "Authorization: Bearer"
// header equal to token, using a constant-time comparison (spec §7:
// token handling must not leak timing information).
func bearerMatches(r *http.Request, token string) bool {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return false
	}
	presented := strings.TrimPrefix(h, prefix)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

func callbacksRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Post("/subscriptions/{peerid}/{subid}", apierrors.ErrorHandler(wrap(deps, postSubscriptionCallback)))
	r.Delete("/subscriptions/{peerid}/{subid}", apierrors.ErrorHandler(wrap(deps, deleteSubscriptionCallback)))
	r.Post("/{name}", apierrors.ErrorHandler(wrap(deps, postNamedCallback)))
	return r
}

// postSubscriptionCallback answers POST /callbacks/subscriptions/{peerid}/{subid}
// (spec §4.5, §6): the envelope this actor's own outbound subscription
// receives from the peer it subscribed to. Only that peer's trust may
// post here — a 2xx durably clears the diff on the sender's side, so
// accepting from anyone else would let an unrelated peer spoof delivery.
func postSubscriptionCallback(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	subID := chi.URLParam(r, "subid")

	if rc == nil || rc.Trust == nil || rc.Trust.PeerID != peerID {
		return awerrors.NewForbiddenError("callback must be authenticated as the subscribed-to peer", nil)
	}

	var env callback.Envelope
	if err := readJSON(r, &env); err != nil {
		return err
	}
	if err := deps.Callbacks.Process(r.Context(), a.ID, peerID, subID, env); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

// deleteSubscriptionCallback answers DELETE on the same path: the peer
// is tearing down its outbound subscription to us and wants its local
// callback state (pending queue, last-processed sequence) discarded.
func deleteSubscriptionCallback(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	subID := chi.URLParam(r, "subid")

	if rc == nil || rc.Trust == nil || rc.Trust.PeerID != peerID {
		return awerrors.NewForbiddenError("callback must be authenticated as the subscribed-to peer", nil)
	}
	state, err := deps.Store.GetCallbackState(r.Context(), a.ID, peerID, subID)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	reset := &storage.CallbackState{ActorID: a.ID, PeerID: peerID, SubID: subID}
	if err := deps.Store.PutCallbackStateCAS(r.Context(), reset, state.Version); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// postNamedCallback answers POST /callbacks/{name} (spec §4.9): an
// actor-level callback dispatched through the typed hook registry rather
// than the subscription machinery, for application-defined notifications
// (e.g. a payment webhook bound to one actor). Requires an active trust
// or owner credential; the hook itself decides what the name means.
func postNamedCallback(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	name := chi.URLParam(r, "name")
	if rc == nil {
		return awerrors.NewUnauthenticatedError("no credential presented", nil)
	}
	if !rc.Owner() && (rc.Trust == nil || !rc.Trust.Usable()) {
		return awerrors.NewForbiddenError("no active trust relationship", nil)
	}

	body, err := readRawBody(r)
	if err != nil {
		return err
	}
	resp, ok, err := deps.Hooks.DispatchCallback(r.Context(), rc, a.ID, name, body)
	if err != nil {
		return err
	}
	if !ok {
		return awerrors.NewNotFoundError("no callback hook registered for "+name, nil)
	}
	if len(resp) == 0 {
		w.WriteHeader(http.StatusOK)
		return nil
	}
	return writeRaw(w, http.StatusOK, resp)
}

// botRouter implements the app-level /bot surface (spec §6): a
// callback with no actor id, authenticated against a single
// deployment-wide bearer token rather than a per-actor trust secret.
func botRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Post("/", apierrors.ErrorHandler(func(w http.ResponseWriter, r *http.Request) error {
		return postBotCallback(deps, w, r)
	}))
	return r
}

func postBotCallback(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	if deps.Config.BotToken == "" {
		return awerrors.NewNotFoundError("bot callback not configured", nil)
	}
	if !bearerMatches(r, deps.Config.BotToken) {
		return awerrors.NewUnauthenticatedError("invalid bot token", nil)
	}
	body, err := readRawBody(r)
	if err != nil {
		return err
	}
	resp, ok, err := deps.Hooks.DispatchCallback(r.Context(), nil, "", "_bot", body)
	if err != nil {
		return err
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return nil
	}
	if len(resp) == 0 {
		w.WriteHeader(http.StatusOK)
		return nil
	}
	return writeRaw(w, http.StatusOK, resp)
}

// subscriptions.go implements the /subscriptions surface (spec §4.4,
// §6): subscribing to (or accepting a subscription from) a peer, and
// draining the buffered diff queue by sequence number.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/actingweb/aw/pkg/api/errors"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
)

// rawJSON returns blob as a json.RawMessage, substituting "null" for an
// empty blob so it marshals as a valid JSON value.
func rawJSON(blob []byte) json.RawMessage {
	if len(blob) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(blob)
}

func subscriptionsRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(wrap(deps, listSubscriptions)))
	r.Post("/", apierrors.ErrorHandler(wrap(deps, createSubscription)))
	r.Post("/{peerid}", apierrors.ErrorHandler(wrap(deps, createSubscription)))
	r.Get("/{peerid}", apierrors.ErrorHandler(wrap(deps, listPeerSubscriptions)))
	r.Get("/{peerid}/{subid}", apierrors.ErrorHandler(wrap(deps, getSubscription)))
	r.Delete("/{peerid}/{subid}", apierrors.ErrorHandler(wrap(deps, deleteSubscription)))
	r.Get("/{peerid}/{subid}/{seqnr}", apierrors.ErrorHandler(wrap(deps, getSubscriptionDiff)))
	return r
}

type subscriptionRequest struct {
	PeerID      string             `json:"peerid"`
	Target      string             `json:"target"`
	SubTarget   string             `json:"subtarget,omitempty"`
	Resource    string             `json:"resource,omitempty"`
	Granularity storage.Granularity `json:"granularity,omitempty"`
}

type subscriptionResponse struct {
	PeerID      string              `json:"peerid"`
	SubID       string              `json:"subscriptionid"`
	Target      string              `json:"target"`
	SubTarget   string              `json:"subtarget,omitempty"`
	Resource    string              `json:"resource,omitempty"`
	Granularity storage.Granularity `json:"granularity"`
	SeqNr       int64               `json:"sequence"`
	Callback    bool                `json:"callback"`
}

func toSubscriptionResponse(s *storage.Subscription) subscriptionResponse {
	return subscriptionResponse{
		PeerID:      s.PeerID,
		SubID:       s.SubID,
		Target:      s.Target,
		SubTarget:   s.SubTarget,
		Resource:    s.Resource,
		Granularity: s.Granularity,
		SeqNr:       s.SeqNr,
		Callback:    s.Callback,
	}
}

func listSubscriptions(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	if rc == nil || !rc.Owner() {
		return awerrors.NewForbiddenError("only the actor owner may list all subscriptions", nil)
	}
	subs, err := deps.Subscriptions.List(r.Context(), a.ID)
	if err != nil {
		return err
	}
	out := make([]subscriptionResponse, len(subs))
	for i, s := range subs {
		out[i] = toSubscriptionResponse(s)
	}
	return writeJSON(w, http.StatusOK, out)
}

func listPeerSubscriptions(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	if rc == nil || !(rc.Owner() || rc.Trust != nil && rc.Trust.PeerID == peerID) {
		return awerrors.NewForbiddenError("not permitted to view this peer's subscriptions", nil)
	}
	subs, err := deps.Subscriptions.List(r.Context(), a.ID)
	if err != nil {
		return err
	}
	var out []subscriptionResponse
	for _, s := range subs {
		if s.PeerID == peerID {
			out = append(out, toSubscriptionResponse(s))
		}
	}
	return writeJSON(w, http.StatusOK, out)
}

// createSubscription answers POST /subscriptions[/{peerid}]. The owner
// subscribes outward to a peer's resource (SubscribeToPeer, with
// baseline seeding); a peer subscribes inward to ours (Subscribe).
func createSubscription(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)

	var req subscriptionRequest
	if err := readJSON(r, &req); err != nil {
		return err
	}
	if p := chi.URLParam(r, "peerid"); p != "" {
		req.PeerID = p
	}
	if req.Granularity == "" {
		req.Granularity = storage.GranularityHigh
	}

	var (
		sub *storage.Subscription
		err error
	)
	if rc != nil && rc.Owner() {
		sub, err = deps.Subscriptions.SubscribeToPeer(r.Context(), a.ID, req.PeerID, req.Target, req.SubTarget, req.Resource, req.Granularity)
	} else {
		if rc == nil || rc.Trust == nil || rc.Trust.PeerID != req.PeerID {
			return awerrors.NewForbiddenError("not permitted to subscribe as this peer", nil)
		}
		sub, err = deps.Subscriptions.Subscribe(r.Context(), a.ID, req.PeerID, req.Target, req.SubTarget, req.Resource, req.Granularity)
	}
	if err != nil {
		return err
	}
	w.Header().Set("Location", selfURL(deps, a.ID)+"/subscriptions/"+sub.PeerID+"/"+sub.SubID)
	return writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

func getSubscription(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	subID := chi.URLParam(r, "subid")
	if rc == nil || !(rc.Owner() || rc.Trust != nil && rc.Trust.PeerID == peerID) {
		return awerrors.NewForbiddenError("not permitted to view this subscription", nil)
	}
	sub, err := deps.Subscriptions.Get(r.Context(), a.ID, peerID, subID)
	if err != nil {
		return err
	}
	diffs, err := deps.Store.ListDiffs(r.Context(), a.ID, subID)
	if err != nil {
		return err
	}
	resp := toSubscriptionResponse(sub)
	data := make([]map[string]any, len(diffs))
	for i, d := range diffs {
		data[i] = map[string]any{"sequence": d.SeqNr, "timestamp": d.Timestamp, "data": rawJSON(d.Blob)}
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"peerid":      resp.PeerID,
		"subscriptionid": resp.SubID,
		"target":      resp.Target,
		"subtarget":   resp.SubTarget,
		"resource":    resp.Resource,
		"granularity": resp.Granularity,
		"sequence":    resp.SeqNr,
		"data":        data,
	})
}

// getSubscriptionDiff answers GET /subscriptions/{peerid}/{subid}/{seqnr}:
// returns one buffered diff and clears it (spec §4.4: fetching a diff
// acknowledges it, same as a successfully delivered callback).
func getSubscriptionDiff(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	subID := chi.URLParam(r, "subid")
	if rc == nil || !(rc.Owner() || rc.Trust != nil && rc.Trust.PeerID == peerID) {
		return awerrors.NewForbiddenError("not permitted to view this subscription", nil)
	}
	seqnr, err := strconv.ParseInt(chi.URLParam(r, "seqnr"), 10, 64)
	if err != nil {
		return awerrors.NewInvalidRequestError("seqnr must be an integer", err)
	}
	diff, err := deps.Store.GetDiff(r.Context(), a.ID, subID, seqnr)
	if err != nil {
		return err
	}
	if err := deps.Store.DeleteDiff(r.Context(), a.ID, subID, seqnr); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"sequence": diff.SeqNr, "timestamp": diff.Timestamp, "data": rawJSON(diff.Blob),
	})
}

func deleteSubscription(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	subID := chi.URLParam(r, "subid")
	if rc == nil || !(rc.Owner() || rc.Trust != nil && rc.Trust.PeerID == peerID) {
		return awerrors.NewForbiddenError("not permitted to delete this subscription", nil)
	}
	if err := deps.Subscriptions.Delete(r.Context(), a.ID, peerID, subID); err != nil {
		return err
	}
	deps.Hooks.Fire(r.Context(), "subscription_deleted", a.ID, peerID)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// trust.go implements the /trust surface (spec §4.2, §6): establishing,
// listing, approving and deleting bilateral trust relationships. Reads
// and writes go through pkg/trust.Manager; this file only translates
// the wire envelope and enforces who may call what.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/actingweb/aw/pkg/access"
	apierrors "github.com/actingweb/aw/pkg/api/errors"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
	"github.com/actingweb/aw/pkg/trust"
)

func trustRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(wrap(deps, listTrusts)))
	r.Post("/", apierrors.ErrorHandler(wrap(deps, createTrust)))
	r.Get("/{relationship}", apierrors.ErrorHandler(wrap(deps, listTrusts)))
	r.Post("/{relationship}", apierrors.ErrorHandler(wrap(deps, createTrust)))
	r.Get("/{relationship}/{peerid}", apierrors.ErrorHandler(wrap(deps, getTrust)))
	r.Put("/{relationship}/{peerid}", apierrors.ErrorHandler(wrap(deps, updateTrust)))
	r.Delete("/{relationship}/{peerid}", apierrors.ErrorHandler(wrap(deps, deleteTrust)))
	r.Get("/{relationship}/{peerid}/shared_properties", apierrors.ErrorHandler(wrap(deps, getSharedProperties)))
	r.Get("/{relationship}/{peerid}/permissions", apierrors.ErrorHandler(wrap(deps, getOverride)))
	r.Put("/{relationship}/{peerid}/permissions", apierrors.ErrorHandler(wrap(deps, putOverride)))
	r.Delete("/{relationship}/{peerid}/permissions", apierrors.ErrorHandler(wrap(deps, deleteOverride)))
	return r
}

type trustResponse struct {
	PeerID         string `json:"peerid"`
	BaseURI        string `json:"baseuri"`
	Type           string `json:"type"`
	Relationship   string `json:"relationship"`
	Secret         string `json:"secret,omitempty"`
	Desc           string `json:"desc"`
	Approved       bool   `json:"approved"`
	PeerApproved   bool   `json:"peer_approved"`
	Verified       bool   `json:"verified"`
	EstablishedVia string `json:"established_via,omitempty"`
}

func toTrustResponse(t *storage.Trust, includeSecret bool) trustResponse {
	resp := trustResponse{
		PeerID:         t.PeerID,
		BaseURI:        t.BaseURI,
		Type:           t.PeerType,
		Relationship:   t.Relationship,
		Desc:           t.Description,
		Approved:       t.Approved,
		PeerApproved:   t.PeerApproved,
		Verified:       t.Verified,
		EstablishedVia: string(t.EstablishedVia),
	}
	if includeSecret {
		resp.Secret = t.Secret
	}
	return resp
}

// listTrusts answers GET /trust and GET /trust/{relationship}: only the
// actor's creator may enumerate its trust relationships.
func listTrusts(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	if rc == nil || !rc.Owner() {
		return awerrors.NewForbiddenError("only the actor owner may list trust relationships", nil)
	}
	rel := chi.URLParam(r, "relationship")
	trusts, err := deps.Trusts.List(r.Context(), a.ID, rel)
	if err != nil {
		return err
	}
	out := make([]trustResponse, len(trusts))
	for i, t := range trusts {
		out[i] = toTrustResponse(t, true)
	}
	return writeJSON(w, http.StatusOK, out)
}

// createTrust answers POST /trust[/{relationship}]. Two distinct callers
// reach it: the owner, initiating an outbound trust to a peer (an
// InboundRequest body naming peerid/baseuri but no secret), and a peer
// actor, opening an inbound trust against us (spec §4.2: "either side may
// initiate").
func createTrust(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)

	var req trust.InboundRequest
	if err := readJSON(r, &req); err != nil {
		return err
	}
	rel := chi.URLParam(r, "relationship")
	if rel == "" {
		rel = req.Relationship
	}
	typ := req.Type
	if typ == "" {
		typ = rel
	}

	if rc != nil && rc.Owner() {
		t, err := deps.Trusts.CreateReciprocalTrust(r.Context(), a.ID, req.BaseURI, typ, rel, req.Desc)
		if err != nil {
			return err
		}
		deps.Hooks.Fire(r.Context(), "trust_initiated", a.ID, t.PeerID)
		w.Header().Set("Location", selfURL(deps, a.ID)+"/trust/"+t.Relationship+"/"+t.PeerID)
		return writeJSON(w, http.StatusCreated, toTrustResponse(t, true))
	}

	req.Relationship = rel
	req.Type = typ
	t, err := deps.Trusts.CreateVerifiedTrust(r.Context(), a.ID, req)
	if err != nil {
		return err
	}
	deps.Hooks.Fire(r.Context(), "trust_request_received", a.ID, t.PeerID)
	w.Header().Set("Location", selfURL(deps, a.ID)+"/trust/"+t.Relationship+"/"+t.PeerID)
	return writeJSON(w, http.StatusCreated, toTrustResponse(t, true))
}

func getTrust(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")

	if rc == nil || !(rc.Owner() || rc.Trust != nil && rc.Trust.PeerID == peerID) {
		return awerrors.NewForbiddenError("not permitted to view this trust relationship", nil)
	}
	t, err := deps.Trusts.Get(r.Context(), a.ID, peerID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, toTrustResponse(t, rc.Owner()))
}

type updateTrustRequest struct {
	Approved *bool   `json:"approved,omitempty"`
	Desc     *string `json:"desc,omitempty"`
}

// updateTrust answers PUT /trust/{relationship}/{peerid}: the owner
// approves a relationship (approved:false leaves the approval unchanged),
// or edits its description; a peer notifies us of its own approval decision (spec
// §4.2: "peer_approved flips on the peer's PUT, not ours").
func updateTrust(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")

	var req updateTrustRequest
	if err := readJSON(r, &req); err != nil {
		return err
	}

	if rc != nil && rc.Owner() {
		if req.Desc != nil {
			if _, err := deps.Trusts.UpdateDesc(r.Context(), a.ID, peerID, *req.Desc); err != nil {
				return err
			}
		}
		if req.Approved != nil && *req.Approved {
			t, err := deps.Trusts.Approve(r.Context(), a.ID, peerID)
			if err != nil {
				return err
			}
			deps.Hooks.Fire(r.Context(), "trust_approved", a.ID, peerID)
			if t.Usable() {
				deps.Hooks.Fire(r.Context(), "trust_fully_approved_local", a.ID, peerID)
			}
		}
		t, err := deps.Trusts.Get(r.Context(), a.ID, peerID)
		if err != nil {
			return err
		}
		return writeJSON(w, http.StatusOK, toTrustResponse(t, true))
	}

	if rc == nil || rc.Trust == nil || rc.Trust.PeerID != peerID {
		return awerrors.NewForbiddenError("not permitted to update this trust relationship", nil)
	}
	approved := req.Approved != nil && *req.Approved
	t, err := deps.Trusts.NotifyPeerApproval(r.Context(), a.ID, peerID, approved)
	if err != nil {
		return err
	}
	if approved {
		deps.Hooks.Fire(r.Context(), "trust_fully_approved_remote", a.ID, peerID)
	}
	return writeJSON(w, http.StatusOK, toTrustResponse(t, false))
}

// getSharedProperties answers GET /trust/{rel}/{peerid}/shared_properties
// (spec §6): the subset of this actor's scalar properties that peerid's
// trust relationship currently grants read access to, evaluated the same
// way a live GET /properties/{name} request from that peer would be.
// Owner-only: it exposes which of the owner's own properties are visible
// to a given peer, which is itself sensitive information.
func getSharedProperties(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	if rc == nil || !rc.Owner() {
		return awerrors.NewForbiddenError("only the actor owner may inspect shared properties", nil)
	}

	t, err := deps.Trusts.Get(r.Context(), a.ID, peerID)
	if err != nil {
		return err
	}
	override, err := deps.Registry.GetOverride(r.Context(), a.ID, peerID)
	if err != nil {
		override = nil
	}
	props, err := a.List(r.Context())
	if err != nil {
		return err
	}
	shared := make([]string, 0, len(props))
	for _, p := range props {
		decision := deps.Evaluator.Evaluate(r.Context(), a.ID+"|"+peerID, nil, access.Request{
			TrustType: t.PeerType,
			Override:  override,
			Category:  access.CategoryProperties,
			Target:    p.Name,
			Operation: access.OpRead,
		})
		if decision == access.Allowed {
			shared = append(shared, p.Name)
		}
	}
	return writeJSON(w, http.StatusOK, shared)
}

func deleteTrust(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	peerID := chi.URLParam(r, "peerid")
	if rc == nil || !(rc.Owner() || rc.Trust != nil && rc.Trust.PeerID == peerID) {
		return awerrors.NewForbiddenError("not permitted to delete this trust relationship", nil)
	}
	if err := deps.Trusts.Delete(r.Context(), a.ID, peerID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

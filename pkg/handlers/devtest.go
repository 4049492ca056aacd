// devtest.go implements the /devtest surface (spec §6: "Test-only; MUST
// be disabled in production"). It is mounted only when
// config.DevtestEnabled is set, and exposes the shortcuts integration
// tests need that the normal protocol intentionally makes hard: reading
// every property and list in one call, and force-deleting an actor
// without going through DELETE on the factory root.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/actingweb/aw/pkg/api/errors"
	awerrors "github.com/actingweb/aw/pkg/errors"
)

func devtestRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(devtestGate(deps))
	r.Get("/", apierrors.ErrorHandler(wrap(deps, devtestDump)))
	r.Delete("/", apierrors.ErrorHandler(wrap(deps, devtestDeleteActor)))
	return r
}

// devtestGate 404s every /devtest route when the deployment has not
// opted in, so the surface is invisible (not merely forbidden) in
// production, matching the teacher's pattern of hiding disabled routes
// rather than 403ing them.
func devtestGate(deps *Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !deps.Config.DevtestEnabled {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// devtestDump answers GET /devtest/: the actor's full property and list
// state in one response, for test assertions that would otherwise need
// one request per property.
func devtestDump(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	if rc == nil || !rc.Owner() {
		return awerrors.NewForbiddenError("devtest dump requires owner credentials", nil)
	}
	props, err := a.List(r.Context())
	if err != nil {
		return err
	}
	out := make(map[string]any, len(props))
	for _, p := range props {
		out[p.Name] = rawJSON(p.Value)
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"id":         a.ID,
		"creator":    a.Creator,
		"properties": out,
	})
}

// devtestDeleteActor answers DELETE /devtest/: an unconditional actor
// teardown for test cleanup between cases, bypassing the peer-teardown
// niceties of the real trust-delete path.
func devtestDeleteActor(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	if rc == nil || !rc.Owner() {
		return awerrors.NewForbiddenError("devtest delete requires owner credentials", nil)
	}
	if err := deps.Actors.Delete(r.Context(), a.ID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

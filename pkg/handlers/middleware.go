package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/actingweb/aw/pkg/netclient"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware stashes an inbound (or freshly minted) request id
// in the response header and request context, so outbound peer calls
// can propagate it via netclient.PropagateRequestID (spec §5: "an
// inbound X-Request-ID is preserved and a X-Parent-Request-ID is added
// to outbound peer calls").
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := netclient.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware resolves the request's credential against the actor
// named by the "actor_id" chi route parameter and stores the result for
// downstream handlers (spec §4.7). It does not itself reject
// unauthenticated requests: some routes (discovery, for example)
// are reachable without a trust relationship, so the decision to
// require a non-nil accessor is left to checkAccess and to individual
// handlers.
func authMiddleware(deps *Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := chi.URLParam(r, "actor_id")
			rc, err := deps.Auth.Authenticate(r, actorID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, withAuthContext(r, rc))
		})
	}
}

// actorMiddleware loads the actor named by "actor_id" and 404s before
// any resource-specific handler runs, matching the teacher's pattern of
// resolving the path resource once in middleware rather than in every
// handler (pkg/api/v1/discovery.go's route grouping).
func actorMiddleware(deps *Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := chi.URLParam(r, "actor_id")
			a, err := deps.Actors.GetByID(r.Context(), actorID)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, withActorContext(r, a))
		})
	}
}

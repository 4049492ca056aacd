// router.go assembles every resource family in this package into the
// single chi.Router an HTTP server listens with (spec §6's wire
// protocol table). Grounded on the teacher's cmd/thv/app composition of
// pkg/api/v1 routers into one top-level mux: each family keeps its own
// XRouter(deps) constructor, and this file only mounts them at their
// protocol path.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/actingweb/aw/pkg/api/errors"
)

// NewRouter builds the complete ActingWeb wire-protocol router for one
// engine instance. It is the single entry point host applications (and
// cmd/actingwebd) use to expose this module over HTTP.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/", apierrors.ErrorHandler(wrap(deps, getFactory)))
	r.Post("/", apierrors.ErrorHandler(wrap(deps, createActor)))

	r.Mount("/oauth", oauthRouter(deps))
	r.Get("/.well-known/oauth-authorization-server", deps.OAuth.WellKnownMetadata)
	r.Get("/.well-known/jwks.json", deps.OAuth.JWKSDocument)
	r.Mount("/bot", botRouter(deps))

	r.Route("/{actor_id}", func(ar chi.Router) {
		ar.Use(authMiddleware(deps))
		ar.Use(actorMiddleware(deps))

		ar.Mount("/meta", metaRouter(deps))
		ar.Mount("/properties", propertiesRouter(deps))
		ar.Mount("/trust", trustRouter(deps))
		ar.Mount("/subscriptions", subscriptionsRouter(deps))
		ar.Mount("/callbacks", callbacksRouter(deps))
		ar.Mount("/permissions", effectivePermissionsRouter(deps))
		ar.Mount("/methods", callRouter(deps, familyMethods))
		ar.Mount("/actions", callRouter(deps, familyActions))
		ar.Mount("/tools", callRouter(deps, familyTools))
		ar.Mount("/resources", callRouter(deps, familyResources))
		ar.Mount("/prompts", callRouter(deps, familyPrompts))
		ar.Mount("/devtest", devtestRouter(deps))
	})

	return r
}

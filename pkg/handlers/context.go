// Package handlers implements the wire protocol (spec §6): the
// composition root that wires every lower-layer package together, and
// the go-chi routers and handlers exposing that wiring over HTTP.
// Grounded on the teacher's pkg/api/v1 (stacklok-toolhive): one
// XRoutes struct plus an XRouter(...) constructor per resource family,
// decorated with pkg/api/errors.ErrorHandler so every handler can simply
// return an error instead of hand-rolling a response on every failure
// path.
package handlers

import (
	"context"
	"net/http"

	"github.com/actingweb/aw/pkg/actor"
	"github.com/actingweb/aw/pkg/auth"
)

type ctxKey int

const (
	ctxKeyAuth ctxKey = iota
	ctxKeyActor
)

func withAuthContext(r *http.Request, rc *auth.Context) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ctxKeyAuth, rc))
}

// authContext returns the accessor resolved by the authentication
// middleware for this request, or nil if none ran (a bug in route
// wiring, since every actor-scoped route requires it).
func authContext(r *http.Request) *auth.Context {
	rc, _ := r.Context().Value(ctxKeyAuth).(*auth.Context)
	return rc
}

func withActorContext(r *http.Request, a *actor.Actor) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ctxKeyActor, a))
}

func actorContext(r *http.Request) *actor.Actor {
	a, _ := r.Context().Value(ctxKeyActor).(*actor.Actor)
	return a
}

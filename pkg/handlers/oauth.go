// oauth.go mounts the OAuth2 authorization server (spec §4.8, §6) at
// its wire-protocol paths. Every handler here is implemented by
// pkg/oauth2server.Server; this file is pure routing — there is no
// actor in scope yet when any of these run (the resource owner is
// resolved either by creator basic auth inside Server.Authorize or by
// the upstream-IdP login flow in AuthorizeStart/Callback).
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func oauthRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Post("/register", deps.OAuth.Register)
	r.Get("/authorize", deps.OAuth.AuthorizeStart)
	r.Post("/authorize", deps.OAuth.AuthorizeStart)
	r.Get("/callback", deps.OAuth.Callback)
	r.Post("/token", deps.OAuth.Token)
	r.Post("/revoke", deps.OAuth.Revoke)
	r.Post("/logout", deps.OAuth.Logout)
	return r
}

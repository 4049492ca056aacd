package oauth2server

import (
	"net/http"
	"time"

	"github.com/actingweb/aw/pkg/actor"
	"github.com/actingweb/aw/pkg/storage"
)

// devtestGrantType is a non-standard grant accepted only when the actor
// runtime was started with devtest mode enabled (pkg/config.Config.DevtestEnabled),
// mirroring the spec's devtest passphrase shortcut (§4.8 Non-goals carve
// devtest auth out of the interactive OAuth2 flow, but it still needs a
// token-endpoint grant so MCP/test clients can obtain a bearer token
// without a browser).
const devtestGrantType = "urn:actingweb:params:oauth:grant-type:devtest-passphrase"

// clientCredentialsFromRequest extracts client_id/client_secret from
// either HTTP Basic auth (RFC 6749 §2.3.1) or the POST body, the same
// precedence fosite itself uses for its registered grants.
func clientCredentialsFromRequest(r *http.Request) (clientID, clientSecret string, ok bool) {
	if id, secret, basicOK := r.BasicAuth(); basicOK {
		return id, secret, true
	}
	id := r.PostForm.Get("client_id")
	if id == "" {
		return "", "", false
	}
	return id, r.PostForm.Get("client_secret"), true
}

// handleClientCredentialsGrant implements the client_credentials grant
// (spec §4.8's service-to-service MCP clients): no actor subject, the
// token is scoped to the client alone and carries no refresh token.
func (s *Server) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID, clientSecret, ok := clientCredentialsFromRequest(r)
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication required")
		return
	}
	row, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	if row.ClientSecretHash == "" || hashSecret(clientSecret) != row.ClientSecretHash {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}
	if !grantAllowed(row.GrantTypes, "client_credentials") {
		writeOAuthError(w, http.StatusBadRequest, "unauthorized_client", "client is not authorized for client_credentials")
		return
	}

	scope := r.PostForm.Get("scope")
	now := s.now()
	token := newOpaqueToken()
	expiresAt := now.Add(s.fconfig.AccessTokenLifespan)
	if err := s.store.PutAccessToken(ctx, newAccessTokenRow(token, clientID, "", scope, expiresAt)); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not mint access token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(expiresAt.Sub(now).Seconds()),
		Scope:       scope,
	})
}

// handleDevtestGrant exchanges an actor's creator passphrase directly for
// a bearer token, bypassing the authorization_code/consent dance
// entirely. Disabled unless the caller wired devtestEnabled true at
// construction (NewServer), since it is a deliberate auth shortcut meant
// only for local development and integration tests (spec §4.8 Non-goals).
func (s *Server) handleDevtestGrant(w http.ResponseWriter, r *http.Request) {
	if !s.devtestEnabled {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "devtest grant is disabled")
		return
	}
	ctx := r.Context()
	clientID, _, ok := clientCredentialsFromRequest(r)
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication required")
		return
	}
	actorID := r.PostForm.Get("actor_id")
	passphrase := r.PostForm.Get("passphrase")
	if actorID == "" || passphrase == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "actor_id and passphrase are required")
		return
	}

	row, err := s.store.GetActor(ctx, actorID)
	if err != nil || actor.HashPassphrase(passphrase) != row.PassphraseHash {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "invalid actor_id or passphrase")
		return
	}

	now := s.now()
	token := newOpaqueToken()
	expiresAt := now.Add(s.fconfig.AccessTokenLifespan)
	if err := s.store.PutAccessToken(ctx, newAccessTokenRow(token, clientID, actorID, "actingweb", expiresAt)); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not mint access token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(expiresAt.Sub(now).Seconds()),
		Scope:       "actingweb",
	})
}

func grantAllowed(grantTypes []string, want string) bool {
	for _, g := range grantTypes {
		if g == want {
			return true
		}
	}
	return false
}

func newAccessTokenRow(token, clientID, actorID, scope string, expiresAt time.Time) *storage.OAuth2AccessToken {
	return &storage.OAuth2AccessToken{
		Token:     token,
		ClientID:  clientID,
		ActorID:   actorID,
		Scope:     scope,
		ExpiresAt: expiresAt,
	}
}

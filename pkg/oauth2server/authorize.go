package oauth2server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/trust"
)

// AuthorizeStart implements the front door of /oauth/authorize (spec
// §4.8): an MCP/API client arrives with the standard OAuth2 authorize
// parameters but no end-user session yet. This handler renders an
// email/IdP-selection form (or a JSON equivalent for an
// "Accept: application/json" SPA caller) before anything is delegated to
// fosite, since fosite has no notion of "go authenticate with Google
// first". A POST with a chosen provider proceeds straight to the
// redirect. GET never mutates state, so it is safe to re-render on
// back-navigation.
func (s *Server) AuthorizeStart(w http.ResponseWriter, r *http.Request) {
	if s.idps == nil || len(s.idps.Names()) == 0 {
		writeOAuthError(w, http.StatusServiceUnavailable, "server_error", "no identity providers configured")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	q := r.Form

	st := authorizeState{
		ClientID:            q.Get("client_id"),
		MCPState:            q.Get("state"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		EmailHint:           q.Get("email_hint"),
		Provider:            q.Get("provider"),
		TrustType:           q.Get("trust_type"),
	}
	if st.ClientID == "" || st.RedirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id and redirect_uri are required")
		return
	}
	if st.TrustType == "" {
		st.TrustType = s.defaultTrustType
	}

	row, err := s.store.GetClient(r.Context(), st.ClientID)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}
	cl := &client{row: row}
	if !cl.MatchRedirectURI(st.RedirectURI) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not registered for this client")
		return
	}

	providerName := st.Provider
	if r.Method == http.MethodPost {
		providerName = r.PostForm.Get("provider")
		st.EmailHint = r.PostForm.Get("email_hint")
	}

	if providerName == "" {
		s.renderProviderSelection(w, r, st)
		return
	}

	provider, ok := s.idps.Get(providerName)
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unsupported provider %q", providerName))
		return
	}
	st.Provider = providerName

	token, err := s.encryptState(st)
	if err != nil {
		logger.Errorw("oauth2server: encrypting authorize state", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not start authorization")
		return
	}
	http.Redirect(w, r, provider.AuthCodeURL(token), http.StatusFound)
}

var authorizeFormTemplate = template.Must(template.New("authorize").Parse(`<!DOCTYPE html>
<html><head><title>Sign in</title></head><body>
<h1>Sign in to continue</h1>
<p>{{.ClientID}} is requesting access.</p>
<form method="POST" action="{{.Action}}">
<input type="hidden" name="client_id" value="{{.ClientID}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="scope" value="{{.Scope}}">
<input type="hidden" name="state" value="{{.MCPState}}">
<input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
<input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
<input type="hidden" name="trust_type" value="{{.TrustType}}">
<label>Email <input type="email" name="email_hint" value="{{.EmailHint}}"></label>
{{range .Providers}}<button type="submit" name="provider" value="{{.}}">Continue with {{.}}</button>{{end}}
</form>
</body></html>`))

func (s *Server) renderProviderSelection(w http.ResponseWriter, r *http.Request, st authorizeState) {
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_id":   st.ClientID,
			"email_hint":  st.EmailHint,
			"providers":   s.idps.Names(),
			"state":       st.MCPState,
			"redirect_uri": st.RedirectURI,
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		authorizeState
		Action    string
		Providers []string
	}{authorizeState: st, Action: r.URL.Path, Providers: s.idps.Names()}
	if err := authorizeFormTemplate.Execute(w, data); err != nil {
		logger.Errorw("oauth2server: rendering authorize form", "error", err)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// Callback implements GET /oauth/callback (spec §4.8): validates the
// encrypted state, exchanges the upstream authorization code for the
// user's verified email, resolves or creates the bound actor, optionally
// binds an MCP trust relationship to the requesting client, then replays
// the original authorize request — now with a resolved actor — through
// the standard fosite authorize path so the requesting client receives
// its authorization code exactly as if it had authenticated directly.
func (s *Server) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		writeOAuthError(w, http.StatusBadRequest, "access_denied", q.Get("error_description"))
		return
	}
	code := q.Get("code")
	stateToken := q.Get("state")
	if code == "" || stateToken == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	st, err := s.decryptState(stateToken)
	if err != nil {
		logger.Warnw("oauth2server: rejecting unreadable authorize state", "error", err)
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "state is invalid or expired")
		return
	}

	provider, ok := s.idps.Get(st.Provider)
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "unknown identity provider in state")
		return
	}

	redirectURI := s.issuer + "/oauth/callback"
	info, err := provider.Exchange(ctx, code, redirectURI)
	if err != nil {
		logger.Warnw("oauth2server: upstream code exchange failed", "provider", st.Provider, "error", err)
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "could not verify identity with upstream provider")
		return
	}
	if info.Email == "" || !info.EmailVerified {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "upstream account has no verified email")
		return
	}

	actorID, err := s.resolveOrCreateActor(ctx, info.Email)
	if err != nil {
		logger.Errorw("oauth2server: resolving actor for upstream login", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not resolve actor")
		return
	}

	if s.trusts != nil && st.TrustType != "" {
		if err := s.bindMCPTrust(ctx, actorID, st.ClientID, st.TrustType); err != nil {
			logger.Errorw("oauth2server: binding mcp trust", "error", err)
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not bind client trust")
			return
		}
	}

	replay, err := s.buildReplayRequest(r, *st)
	if err != nil {
		logger.Errorw("oauth2server: building replay authorize request", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not complete authorization")
		return
	}
	s.Authorize(w, replay, actorID)
}

// resolveOrCreateActor maps a verified email to an actor id, creating a
// fresh actor on first login (spec §3: "email" is an indexed property;
// spec §4.8 callback: "binds or creates an actor").
func (s *Server) resolveOrCreateActor(ctx context.Context, email string) (string, error) {
	if existing, err := s.actors.GetFromProperty(ctx, "email", email); err == nil {
		return existing.ID, nil
	}
	a, err := s.actors.Create(ctx, "", "", email, randomToken(24))
	if err != nil {
		return "", err
	}
	if err := a.Set(ctx, "email", []byte(email)); err != nil {
		return "", err
	}
	return a.ID, nil
}

// bindMCPTrust creates (if absent) a trust relationship of trustType
// between actorID and the OAuth2 client, so the client's subsequent
// bearer-token requests resolve to an evaluated peer identity (spec
// §4.8: "creates a trust of type trust_type ... bound to
// oauth_client_id").
func (s *Server) bindMCPTrust(ctx context.Context, actorID, clientID, trustType string) error {
	peerID := "oauth2client:" + clientID
	if _, err := s.trusts.Get(ctx, actorID, peerID); err == nil {
		return nil
	}
	t, err := s.trusts.CreateVerifiedTrust(ctx, actorID, trust.InboundRequest{
		PeerID:   peerID,
		Type:     trustType,
		Approved: true,
	})
	if err != nil {
		return err
	}
	t.OAuthClientID = clientID
	t.Approved = true
	t.PeerApproved = true
	return s.store.UpdateTrust(ctx, t)
}

func (s *Server) buildReplayRequest(r *http.Request, st authorizeState) (*http.Request, error) {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", st.ClientID)
	q.Set("redirect_uri", st.RedirectURI)
	q.Set("scope", st.Scope)
	q.Set("state", st.MCPState)
	if st.CodeChallenge != "" {
		q.Set("code_challenge", st.CodeChallenge)
		q.Set("code_challenge_method", st.CodeChallengeMethod)
	}
	u := &url.URL{Path: "/oauth/authorize", RawQuery: q.Encode()}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return req, nil
}

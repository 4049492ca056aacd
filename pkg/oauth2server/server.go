package oauth2server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ory/fosite"

	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/storage"
)

// Authorize performs the fosite authorize-request dance once the
// resource owner's actorID is already known, auto-granting every
// requested scope since the resource owner IS the actor being
// authorized for. It is reached two ways: directly, when the caller
// (pkg/handlers) has already authenticated actorID via creator basic
// auth; or indirectly, via AuthorizeStart/Callback's upstream-IdP login
// replaying the original request once Callback has resolved actorID.
func (s *Server) Authorize(w http.ResponseWriter, r *http.Request, actorID string) {
	ctx := r.Context()
	ar, err := s.provider.NewAuthorizeRequest(ctx, r)
	if err != nil {
		logger.Warnw("oauth2server: invalid authorize request", "error", err)
		s.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	for _, scope := range ar.GetRequestedScopes() {
		ar.GrantScope(scope)
	}

	sess := newSession(actorID, ar.GetClient().GetID(), strings.Join(ar.GetGrantedScopes(), " "))
	resp, err := s.provider.NewAuthorizeResponse(ctx, ar, sess)
	if err != nil {
		s.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}
	s.provider.WriteAuthorizeResponse(ctx, w, ar, resp)
}

// Token implements the /oauth/token endpoint. authorization_code is
// delegated to fosite; refresh_token, client_credentials, and the
// devtest passphrase grant are handled directly (spec §4.8's custom
// rotation semantics do not map onto fosite's stock refresh handler).
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		s.handleRefreshGrant(w, r)
		return
	case "client_credentials":
		s.handleClientCredentialsGrant(w, r)
		return
	case devtestGrantType:
		s.handleDevtestGrant(w, r)
		return
	}

	sess := newSession("", "", "")
	ar, err := s.provider.NewAccessRequest(ctx, r, sess)
	if err != nil {
		s.provider.WriteAccessError(ctx, w, ar, err)
		return
	}
	resp, err := s.provider.NewAccessResponse(ctx, ar)
	if err != nil {
		s.provider.WriteAccessError(ctx, w, ar, err)
		return
	}
	s.provider.WriteAccessResponse(ctx, w, ar, resp)
}

// Revoke implements RFC 7009 token revocation at /oauth/revoke.
func (s *Server) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.provider.NewRevocationRequest(ctx, r); err != nil {
		logger.Debugw("oauth2server: revocation request rejected", "error", err)
	}
	// RFC 7009 §2.2: respond 200 regardless, to avoid token-guessing oracles.
	w.WriteHeader(http.StatusOK)
}

// Logout implements /oauth/logout (spec §4.8): an end-user-initiated
// session teardown, distinct from /oauth/revoke's client-initiated token
// revocation. It accepts the same bearer the caller is using and revokes
// just that one access token (and its refresh token, if presented),
// rather than the client's whole token family.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	if token := bearerToken(r); token != "" {
		_ = s.store.DeleteAccessToken(ctx, token)
	}
	if refresh := r.PostForm.Get("refresh_token"); refresh != "" {
		_ = s.store.DeleteRefreshToken(ctx, refresh)
	}
	w.WriteHeader(http.StatusOK)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// ResolveAccessToken implements pkg/auth.TokenResolver via fosite's
// token introspection, so pkg/auth never needs to know how access
// tokens are encoded (opaque HMAC or JWT).
func (s *Server) ResolveAccessToken(ctx context.Context, token string) (actorID, clientID, scope string, err error) {
	sess := newSession("", "", "")
	_, ar, ierr := s.provider.IntrospectToken(ctx, token, fosite.AccessToken, sess)
	if ierr != nil {
		return "", "", "", awerrors.NewUnauthenticatedError("token introspection failed", ierr)
	}
	got, _ := ar.GetSession().(*session)
	if got == nil {
		return "", "", "", awerrors.NewUnauthenticatedError("token session missing", nil)
	}
	return got.ActorID, got.ClientID, got.Scope, nil
}

// RevokeTokensForClient implements pkg/trust.Cleanup: when a trust bound
// to an OAuth2 client (spec §4.8's MCP client binding) is deleted, every
// access and refresh token issued to that client is revoked.
func (s *Server) RevokeTokensForClient(ctx context.Context, clientID string) error {
	if err := s.store.DeleteAccessTokensForClient(ctx, clientID); err != nil {
		return err
	}
	return s.store.DeleteRefreshTokensForClient(ctx, clientID)
}

// --- Dynamic client registration (RFC 7591) ---

// registrationRequest is the RFC 7591 client metadata document.
type registrationRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types,omitempty"`
}

type registrationResponse struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
}

// Register implements /oauth/register (RFC 7591 dynamic client
// registration). Public (no-secret) clients are supported for native/MCP
// clients following RFC 8252; any other client receives a generated
// secret, hashed the same way actor creator passphrases are (spec §3).
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "malformed JSON body")
		return
	}
	if len(req.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
		return
	}
	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}

	clientID := uuid.NewString()
	var secret, secretHash string
	if !containsPublicGrant(grantTypes) {
		secret = randomToken(32)
		secretHash = hashSecret(secret)
	}

	row := &storage.OAuth2Client{
		ClientID:         clientID,
		ClientSecretHash: secretHash,
		ClientName:       req.ClientName,
		RedirectURIs:     req.RedirectURIs,
		GrantTypes:       grantTypes,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateClient(r.Context(), row); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not register client")
		return
	}

	resp := registrationResponse{
		ClientID:     clientID,
		ClientSecret: secret,
		ClientName:   req.ClientName,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   grantTypes,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

func containsPublicGrant(grantTypes []string) bool {
	for _, g := range grantTypes {
		if g == "urn:ietf:params:oauth:grant-type:device_code" {
			return true
		}
	}
	return false
}

// --- Discovery (RFC 8414) ---

// WellKnownMetadata implements /.well-known/oauth-authorization-server.
func (s *Server) WellKnownMetadata(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                                s.issuer,
		"authorization_endpoint":                s.issuer + "/oauth/authorize",
		"token_endpoint":                         s.issuer + "/oauth/token",
		"revocation_endpoint":                    s.issuer + "/oauth/revoke",
		"registration_endpoint":                  s.issuer + "/oauth/register",
		"jwks_uri":                               s.issuer + "/.well-known/jwks.json",
		"response_types_supported":               []string{"code"},
		"grant_types_supported":                  []string{"authorization_code", "refresh_token", "client_credentials", devtestGrantType},
		"token_endpoint_auth_methods_supported":   []string{"client_secret_basic", "client_secret_post", "none"},
		"code_challenge_methods_supported":        []string{"S256", "plain"},
		"scopes_supported":                        []string{"actingweb", "actingweb.mcp"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// JWKSDocument implements /.well-known/jwks.json.
func (s *Server) JWKSDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.jwks)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": description})
}

func randomToken(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

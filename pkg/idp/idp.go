// Package idp integrates the upstream identity providers the OAuth2
// authorization server (pkg/oauth2server) delegates end-user
// authentication to (spec §4.8: "integration with upstream identity
// providers for user authentication"). The core only ever consumes their
// OAuth2/OIDC endpoints (spec §1's scope boundary): it never stores an
// upstream password or session.
//
// Grounded on the teacher's pkg/auth/token.Validator (stacklok-toolhive):
// a lestrrat-go/jwx/v3 jwk.Cache fronted by an httprc client does the
// JWKS fetch/refresh, golang-jwt/jwt/v5 does claim parsing/validation —
// the same stack the teacher uses to validate inbound bearer JWTs is
// reused here to validate Google's upstream ID token, rather than
// pulling in a second OIDC client library for the same concern.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	awerrors "github.com/actingweb/aw/pkg/errors"
)

// UserInfo is what every provider resolves a successful code exchange
// down to: a verified email address, which is all the actor-binding step
// in pkg/oauth2server needs (spec §4.8 callback: "extracts the user's
// verified email").
type UserInfo struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// Provider is one upstream identity provider (spec §4.8: "Google/GitHub/…").
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code, redirectURI string) (*UserInfo, error)
}

// Registry holds the configured providers, keyed by name, so
// oauth2server's /oauth/authorize provider-selection step can look one
// up by the form/query value the caller picked.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry from whichever providers have credentials
// configured (spec §6: provider client id/secret env vars); a provider
// with an empty client ID is simply absent, not registered disabled.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the configured provider names in map-traversal order, which
// is not stable from one call to the next.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}

// --- Google (OIDC) ---

const googleIssuer = "https://accounts.google.com"
const googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// GoogleProvider authenticates end users against Google's OIDC endpoints.
type GoogleProvider struct {
	oauthCfg oauth2.Config
	jwks     *jwk.Cache
	clientID string
}

// NewGoogleProvider constructs a GoogleProvider. redirectURL is this
// server's own /oauth/callback endpoint.
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, redirectURL string, httpClient *http.Client) (*GoogleProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("idp: google client id/secret are required")
	}
	rcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, rcClient)
	if err != nil {
		return nil, fmt.Errorf("idp: building google jwks cache: %w", err)
	}
	if err := cache.Register(ctx, googleJWKSURL); err != nil {
		return nil, fmt.Errorf("idp: registering google jwks url: %w", err)
	}
	return &GoogleProvider{
		oauthCfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email"},
			Endpoint:     google.Endpoint,
		},
		jwks:     cache,
		clientID: clientID,
	}, nil
}

// Name implements Provider.
func (*GoogleProvider) Name() string { return "google" }

// AuthCodeURL implements Provider.
func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleIDTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
}

// Exchange implements Provider: trades an authorization code for Google's
// tokens, then verifies the ID token's signature, issuer, audience, and
// expiry before trusting its email claim (spec §4.8: "verified email").
func (g *GoogleProvider) Exchange(ctx context.Context, code, redirectURI string) (*UserInfo, error) {
	cfg := g.oauthCfg
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, awerrors.NewInvalidRequestError("google code exchange failed", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, awerrors.NewInvalidRequestError("google response did not include an id_token", nil)
	}

	claims := &googleIDTokenClaims{}
	parsed, err := jwt.ParseWithClaims(rawIDToken, claims, func(t *jwt.Token) (any, error) {
		return g.keyFor(ctx, t)
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !parsed.Valid {
		return nil, awerrors.NewInvalidRequestError("google id_token failed verification", err)
	}
	if claims.Issuer != googleIssuer && claims.Issuer != "accounts.google.com" {
		return nil, awerrors.NewInvalidRequestError("google id_token has an unexpected issuer", nil)
	}
	if aud, _ := claims.GetAudience(); !slices.Contains(aud, g.clientID) {
		return nil, awerrors.NewInvalidRequestError("google id_token is not for this client", nil)
	}

	verified := claims.EmailVerified == true || claims.EmailVerified == "true"
	if !verified || claims.Email == "" {
		return nil, awerrors.NewInvalidRequestError("google account has no verified email", nil)
	}
	return &UserInfo{Subject: claims.Subject, Email: strings.ToLower(claims.Email), EmailVerified: true}, nil
}

func (g *GoogleProvider) keyFor(ctx context.Context, t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("idp: google id_token missing kid")
	}
	set, err := g.jwks.Lookup(ctx, googleJWKSURL)
	if err != nil {
		return nil, fmt.Errorf("idp: looking up google jwks: %w", err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("idp: key id %s not found in google jwks", kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("idp: exporting google jwk: %w", err)
	}
	return raw, nil
}

// --- GitHub (OAuth2, no OIDC) ---

// GitHubProvider authenticates end users against GitHub's OAuth2 endpoints.
// GitHub has no OIDC discovery/ID-token surface, so the verified email is
// obtained by calling its REST API directly (spec §4.8 callback: "for
// GitHub: require primary ∧ verified; else fall back to first verified
// non-primary; else return invalid_grant").
type GitHubProvider struct {
	oauthCfg   oauth2.Config
	httpClient *http.Client
}

// NewGitHubProvider constructs a GitHubProvider.
func NewGitHubProvider(clientID, clientSecret, redirectURL string, httpClient *http.Client) (*GitHubProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("idp: github client id/secret are required")
	}
	return &GitHubProvider{
		oauthCfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		httpClient: httpClient,
	}, nil
}

// Name implements Provider.
func (*GitHubProvider) Name() string { return "github" }

// AuthCodeURL implements Provider.
func (g *GitHubProvider) AuthCodeURL(state string) string {
	return g.oauthCfg.AuthCodeURL(state)
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange implements Provider.
func (g *GitHubProvider) Exchange(ctx context.Context, code, redirectURI string) (*UserInfo, error) {
	cfg := g.oauthCfg
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, awerrors.NewInvalidRequestError("github code exchange failed", err)
	}

	client := cfg.Client(ctx, tok)
	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
		client = cfg.Client(ctx, tok)
	}

	emails, err := g.fetchEmails(ctx, client)
	if err != nil {
		return nil, err
	}

	var primaryVerified, firstVerified *githubEmail
	for i := range emails {
		e := &emails[i]
		if !e.Verified {
			continue
		}
		if e.Primary {
			primaryVerified = e
			break
		}
		if firstVerified == nil {
			firstVerified = e
		}
	}

	var chosen *githubEmail
	switch {
	case primaryVerified != nil:
		chosen = primaryVerified
	case firstVerified != nil:
		chosen = firstVerified
	default:
		return nil, awerrors.NewInvalidRequestError("github account has no verified email", nil)
	}

	return &UserInfo{Email: strings.ToLower(chosen.Email), EmailVerified: true}, nil
}

func (g *GitHubProvider) fetchEmails(ctx context.Context, client *http.Client) ([]githubEmail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user/emails", nil)
	if err != nil {
		return nil, awerrors.NewFatalError("building github emails request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, awerrors.NewPeerUnavailableError("calling github emails endpoint", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, awerrors.NewInvalidRequestError(fmt.Sprintf("github emails endpoint returned %d: %s", resp.StatusCode, body), nil)
	}
	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, awerrors.NewFatalError("decoding github emails response", err)
	}
	return emails, nil
}

// Package oauth2server implements the OAuth2 authorization server (spec
// §4.8) on top of ory/fosite, grounded on the teacher's
// pkg/authserver package (stacklok-toolhive): the compose.Compose wiring
// style, RSA/EC JWT access-token signing, dynamic client registration,
// and RFC 8252 loopback redirect matching all follow that package's
// shape, adapted from a container-manager's MCP-proxy auth server to a
// per-actor ActingWeb authorization server. The teacher's own
// non-test source for this package (authserver.go, client.go, config.go)
// survived retrieval; the rest (provider, storage, handlers) arrived as
// test files only, so those are rebuilt fresh against the exact method
// signatures and config shape those tests exercise.
package oauth2server

import (
	"context"
	"crypto"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"

	"github.com/actingweb/aw/pkg/actor"
	"github.com/actingweb/aw/pkg/idp"
	"github.com/actingweb/aw/pkg/storage"
	"github.com/actingweb/aw/pkg/trust"
)

// Minimum/maximum access token lifespans accepted (spec §4.8 implies
// short-lived bearer tokens; mirrors the teacher's own validated range).
const (
	MinAccessTokenLifespan = time.Minute
	MaxAccessTokenLifespan = 24 * time.Hour
)

// Params configures a new Server.
type Params struct {
	Issuer               string
	AccessTokenLifespan  time.Duration
	RefreshTokenLifespan time.Duration
	AuthCodeLifespan     time.Duration
	GlobalSecret         []byte // >=32 bytes, used by the HMAC token strategy and the authorize-state JWE key
	SigningKeyID         string
	SigningKeyAlgorithm  string
	SigningKey           crypto.Signer // RSA or EC; required for the JWT access-token strategy

	// DevtestEnabled gates the devtest passphrase grant (spec §6: "MUST
	// be disabled in production").
	DevtestEnabled bool

	// Actors and Trusts resolve/create actors and bind MCP trust
	// relationships during the upstream IdP callback (spec §4.8). The
	// OAuth2 server sits above both in the dependency order (system
	// overview table), so it depends on them directly rather than
	// through a weak-back-reference interface.
	Actors *actor.Factory
	Trusts *trust.Manager

	// IDPs holds the configured upstream identity providers (Google,
	// GitHub, …) the /oauth/authorize provider-selection step offers.
	IDPs *idp.Registry

	// DefaultTrustType is used for the MCP trust created on a successful
	// upstream login when the authorize request did not specify one.
	DefaultTrustType string
}

func (p *Params) validate() error {
	if p == nil {
		return fmt.Errorf("oauth2server: params are required")
	}
	if p.Issuer == "" {
		return fmt.Errorf("oauth2server: issuer is required")
	}
	u, err := url.Parse(p.Issuer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("oauth2server: issuer must be an absolute http(s) URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("oauth2server: issuer must use http or https scheme")
	}
	if strings.HasSuffix(p.Issuer, "/") {
		return fmt.Errorf("oauth2server: issuer must not have a trailing slash")
	}
	if len(p.GlobalSecret) < 32 {
		return fmt.Errorf("oauth2server: global secret must be at least 32 bytes")
	}
	if p.SigningKeyID == "" {
		return fmt.Errorf("oauth2server: signing key ID is required")
	}
	if p.SigningKeyAlgorithm == "" {
		return fmt.Errorf("oauth2server: signing key algorithm is required")
	}
	if p.SigningKey == nil {
		return fmt.Errorf("oauth2server: signing key is required")
	}
	if p.AccessTokenLifespan < MinAccessTokenLifespan || p.AccessTokenLifespan > MaxAccessTokenLifespan {
		return fmt.Errorf("oauth2server: access token lifespan must be between %s and %s", MinAccessTokenLifespan, MaxAccessTokenLifespan)
	}
	return nil
}

// Server is the OAuth2 authorization server: fosite provider (for
// authorization_code + PKCE) plus the custom grant types (refresh_token
// rotation, client_credentials, devtest passphrase) spec §4.8 requires
// beyond what fosite's stock grant handlers cover.
type Server struct {
	store    storage.Interfaces
	provider fosite.OAuth2Provider
	fconfig  *fosite.Config
	issuer   string
	jwks     jose.JSONWebKeySet
	now      func() time.Time

	devtestEnabled   bool
	stateKey         []byte
	actors           *actor.Factory
	trusts           *trust.Manager
	idps             *idp.Registry
	defaultTrustType string
}

// NewServer builds the fosite provider via compose.Compose, following
// the teacher's helpers_test.go wiring: a JWT CoreStrategy (RSA/EC
// signing) falling back to HMAC for opaque refresh/PKCE artifacts, with
// the authorize_code and PKCE factories registered. The refresh_token
// grant factory is deliberately NOT registered (see storage.go's doc
// comment): spec §4.8's rotation grace window is implemented by
// refresh.go directly against storage.OAuth2Store instead.
func NewServer(store storage.Interfaces, p *Params) (*Server, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	fconfig := &fosite.Config{
		AccessTokenLifespan:   p.AccessTokenLifespan,
		RefreshTokenLifespan:  p.RefreshTokenLifespan,
		AuthorizeCodeLifespan: p.AuthCodeLifespan,
		AccessTokenIssuer:     p.Issuer,
		GlobalSecret:          p.GlobalSecret,
		SendDebugMessagesToClients: false,
	}

	fstore := newFositeStorage(store)
	hmacStrategy := compose.NewOAuth2HMACStrategy(fconfig)
	jwtStrategy := compose.NewOAuth2JWTStrategy(
		func(context.Context) (any, error) { return p.SigningKey, nil },
		hmacStrategy,
		fconfig,
	)

	provider := compose.Compose(
		fconfig,
		fstore,
		&compose.CommonStrategy{CoreStrategy: jwtStrategy},
		compose.OAuth2AuthorizeExplicitFactory,
		compose.OAuth2PKCEFactory,
	)

	defaultTrustType := p.DefaultTrustType
	if defaultTrustType == "" {
		defaultTrustType = "mcp_client"
	}

	return &Server{
		store:            store,
		provider:         provider,
		fconfig:          fconfig,
		issuer:           p.Issuer,
		jwks:             jwksFromSigningKey(p.SigningKeyID, p.SigningKeyAlgorithm, p.SigningKey),
		now:              func() time.Time { return time.Now().UTC() },
		devtestEnabled:   p.DevtestEnabled,
		stateKey:         deriveStateKey(p.GlobalSecret),
		actors:           p.Actors,
		trusts:           p.Trusts,
		idps:             p.IDPs,
		defaultTrustType: defaultTrustType,
	}, nil
}

// JWKS returns the public key set served at
// /.well-known/jwks.json.
func (s *Server) JWKS() jose.JSONWebKeySet { return s.jwks }

// Issuer returns the configured issuer, used by the RFC 8414
// /.well-known/oauth-authorization-server discovery document.
func (s *Server) Issuer() string { return s.issuer }

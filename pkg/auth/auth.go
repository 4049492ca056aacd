// Package auth implements the authentication pipeline (spec §4.7): it
// resolves one of three accepted credentials per request — creator
// basic, peer bearer, or OAuth2 bearer — into a request-scoped Context
// that the rest of the stack (pkg/access, pkg/hooks, pkg/handlers) reads
// instead of re-deriving identity. Grounded on spec §9's "request-scoped
// runtime context" design note: rather than attaching an ad-hoc field to
// the actor object, the pipeline returns a typed tagged-union Context
// that is threaded explicitly through handler calls.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/actingweb/aw/pkg/actor"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/storage"
)

// Kind distinguishes the three accessor kinds a resolved credential can
// produce (spec §4.7).
type Kind string

// Accessor kinds.
const (
	KindOwner  Kind = "owner"
	KindPeer   Kind = "peer"
	KindClient Kind = "client"
)

// Context is the request-scoped identity the authentication pipeline
// produces. Owner bypasses access control entirely; peer/client carry
// enough to be evaluated by pkg/access.
type Context struct {
	ActorID       string
	Kind          Kind
	Trust         *storage.Trust // set for KindPeer and KindClient (MCP trust binding)
	OAuthClientID string         // set for KindClient
	Scope         string         // set for KindClient
}

// Owner reports whether this accessor bypasses access control.
func (c *Context) Owner() bool { return c.Kind == KindOwner }

// TokenResolver resolves an opaque OAuth2 bearer token to its bound
// actor/client/trust, implemented by pkg/oauth2server so pkg/auth does
// not need to import it (oauth2server sits above auth in the dependency
// order established by trust/subscriptions' weak-back-reference pattern).
type TokenResolver interface {
	ResolveAccessToken(ctx context.Context, token string) (actorID, clientID, scope string, err error)
}

// Pipeline resolves the three credential kinds against an actor's
// storage row and trust relationships.
type Pipeline struct {
	store    storage.Interfaces
	resolver TokenResolver
}

// NewPipeline constructs a Pipeline. resolver may be nil until
// pkg/oauth2server is wired in by the composition root; OAuth2 bearer
// credentials then always fail unauthenticated.
func NewPipeline(store storage.Interfaces, resolver TokenResolver) *Pipeline {
	return &Pipeline{store: store, resolver: resolver}
}

// SetTokenResolver wires in the OAuth2 server after construction.
func (p *Pipeline) SetTokenResolver(r TokenResolver) {
	p.resolver = r
}

// Authenticate inspects r's Authorization header (and HTTP basic auth)
// against actorID and returns the resolved Context. It tries, in order:
// creator basic, peer bearer (by secret lookup), OAuth2 bearer.
func (p *Pipeline) Authenticate(r *http.Request, actorID string) (*Context, error) {
	ctx := r.Context()

	if user, pass, ok := r.BasicAuth(); ok {
		if c, err := p.authenticateBasic(ctx, actorID, user, pass); err == nil {
			return c, nil
		}
	}

	bearer, scheme := bearerToken(r)
	if bearer != "" {
		switch scheme {
		case "basic":
			// already attempted above
		default:
			if c, err := p.authenticatePeerSecret(ctx, actorID, bearer); err == nil {
				return c, nil
			}
			if p.resolver != nil {
				if c, err := p.authenticateOAuth2(ctx, bearer); err == nil {
					if c.ActorID != actorID && actorID != "" {
						return nil, awerrors.NewForbiddenError("token not bound to this actor", nil)
					}
					return c, nil
				}
			}
		}
	}

	return nil, awerrors.NewUnauthenticatedError("no valid credential presented", nil)
}

// authenticateBasic checks HTTP basic auth against the actor's own
// creator/trustee credential (spec §4.7.1: "owner-mode access").
func (p *Pipeline) authenticateBasic(ctx context.Context, actorID, user, pass string) (*Context, error) {
	a, err := p.store.GetActor(ctx, actorID)
	if err != nil {
		return nil, awerrors.NewUnauthenticatedError("unknown actor", err)
	}
	if user != a.Creator && user != "trustee" {
		return nil, awerrors.NewUnauthenticatedError("bad creator credential", nil)
	}
	if subtle.ConstantTimeCompare([]byte(actor.HashPassphrase(pass)), []byte(a.PassphraseHash)) != 1 {
		return nil, awerrors.NewUnauthenticatedError("bad creator credential", nil)
	}
	return &Context{ActorID: actorID, Kind: KindOwner}, nil
}

// authenticatePeerSecret resolves a bearer token as a trust row's shared
// secret via the indexed reverse lookup (spec §4.7.2).
func (p *Pipeline) authenticatePeerSecret(ctx context.Context, actorID, secret string) (*Context, error) {
	t, err := p.store.GetTrustBySecret(ctx, secret)
	if err != nil {
		return nil, awerrors.NewUnauthenticatedError("unknown peer secret", err)
	}
	if actorID != "" && t.ActorID != actorID {
		return nil, awerrors.NewUnauthenticatedError("secret not bound to this actor", nil)
	}
	return &Context{ActorID: t.ActorID, Kind: KindPeer, Trust: t}, nil
}

// authenticateOAuth2 resolves an opaque OAuth2 bearer access token via
// the wired TokenResolver (spec §4.7.3).
func (p *Pipeline) authenticateOAuth2(ctx context.Context, token string) (*Context, error) {
	actorID, clientID, scope, err := p.resolver.ResolveAccessToken(ctx, token)
	if err != nil {
		return nil, awerrors.NewUnauthenticatedError("invalid or expired token", err)
	}
	cctx := &Context{ActorID: actorID, Kind: KindClient, OAuthClientID: clientID, Scope: scope}
	if t, terr := p.store.ListTrusts(ctx, actorID); terr == nil {
		for _, tr := range t {
			if tr.OAuthClientID == clientID {
				cctx.Trust = tr
				break
			}
		}
	}
	logger.Debugw("auth: resolved OAuth2 bearer", "actor_id", actorID, "client_id", clientID)
	return cctx, nil
}

func bearerToken(r *http.Request) (token, scheme string) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return "", ""
	}
	switch strings.ToLower(parts[0]) {
	case "bearer":
		return strings.TrimSpace(parts[1]), "bearer"
	case "basic":
		return strings.TrimSpace(parts[1]), "basic"
	}
	return "", ""
}

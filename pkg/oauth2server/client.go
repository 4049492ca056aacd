package oauth2server

import (
	"net"
	"net/url"
	"strings"

	"github.com/ory/fosite"

	"github.com/actingweb/aw/pkg/storage"
)

// client adapts a storage.OAuth2Client row to fosite.Client, with RFC 8252
// §7.3 loopback redirect matching generalized from the teacher's
// LoopbackClient (stacklok-toolhive pkg/authserver/client.go): MCP and
// native ActingWeb clients registered via dynamic client registration
// commonly redirect to a locally-bound port that varies per run, so the
// registered "http://127.0.0.1/callback" pattern must match any port.
type client struct {
	row *storage.OAuth2Client
}

var _ fosite.Client = (*client)(nil)

func (c *client) GetID() string                   { return c.row.ClientID }
func (c *client) GetHashedSecret() []byte          { return []byte(c.row.ClientSecretHash) }
func (c *client) GetRedirectURIs() []string        { return c.row.RedirectURIs }
func (c *client) GetGrantTypes() fosite.Arguments  { return fosite.Arguments(c.row.GrantTypes) }
func (c *client) GetResponseTypes() fosite.Arguments {
	return fosite.Arguments{"code"}
}
func (c *client) GetScopes() fosite.Arguments { return fosite.Arguments{"actingweb", "actingweb.mcp"} }
func (c *client) IsPublic() bool              { return c.row.ClientSecretHash == "" }
func (c *client) GetAudience() fosite.Arguments { return nil }

// MatchRedirectURI reports whether requestedURI is acceptable for this
// client: an exact match against a registered URI, or a loopback match
// per RFC 8252 §7.3 (scheme/host/path/query match, port free to vary).
func (c *client) MatchRedirectURI(requestedURI string) bool {
	for _, registered := range c.row.RedirectURIs {
		if requestedURI == registered || matchesLoopback(requestedURI, registered) {
			return true
		}
	}
	return false
}

func matchesLoopback(requestedURI, registeredURI string) bool {
	requested, err := url.Parse(requestedURI)
	if err != nil {
		return false
	}
	registered, err := url.Parse(registeredURI)
	if err != nil {
		return false
	}
	if requested.Scheme != "http" || registered.Scheme != "http" {
		return false
	}
	if !isLoopbackHost(requested.Hostname()) || !isLoopbackHost(registered.Hostname()) {
		return false
	}
	if !strings.EqualFold(requested.Hostname(), registered.Hostname()) {
		return false
	}
	return requested.Path == registered.Path && requested.RawQuery == registered.RawQuery
}

func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

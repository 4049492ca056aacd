package netclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// Default timeouts (spec §5: "connect 5s, read 20s").
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 20 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 10 * time.Second
)

// Builder constructs an *http.Client with ActingWeb's peer-call policy:
// a connect/read timeout split, optional CA bundle, optional bearer token
// from a file, and private-IP gating (grounded on the teacher's
// HttpClientBuilder fluent API).
type Builder struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	caCertPath     string
	tokenFile      string
	allowPrivate   bool
}

// NewBuilder returns a Builder seeded with the spec's default timeouts.
func NewBuilder() *Builder {
	return &Builder{connectTimeout: DefaultConnectTimeout, readTimeout: DefaultReadTimeout}
}

// WithCABundle sets a PEM CA bundle to trust in addition to the system
// pool.
func (b *Builder) WithCABundle(path string) *Builder {
	b.caCertPath = path
	return b
}

// WithTokenFromFile attaches a bearer token (read from path) to every
// outbound request, used for bot-token style calls.
func (b *Builder) WithTokenFromFile(path string) *Builder {
	b.tokenFile = path
	return b
}

// WithPrivateIPs allows (true) or blocks (false, the default) connections
// to private/loopback/link-local addresses — a guard against SSRF via a
// peer-supplied baseuri.
func (b *Builder) WithPrivateIPs(allow bool) *Builder {
	b.allowPrivate = allow
	return b
}

// WithTimeouts overrides the connect/read timeout split.
func (b *Builder) WithTimeouts(connect, read time.Duration) *Builder {
	b.connectTimeout = connect
	b.readTimeout = read
	return b
}

// Build assembles the *http.Client.
func (b *Builder) Build() (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if b.caCertPath != "" {
		pem, err := os.ReadFile(b.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("netclient: reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("netclient: failed to parse CA certificate bundle")
		}
		tlsConfig.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: b.connectTimeout}
	transport := &http.Transport{
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
	if b.allowPrivate {
		transport.DialContext = dialer.DialContext
	} else {
		transport.DialContext = guardedDialContext(dialer)
	}

	var rt http.RoundTripper = transport
	if b.tokenFile != "" {
		token, err := os.ReadFile(b.tokenFile)
		if err != nil {
			return nil, fmt.Errorf("netclient: reading token file: %w", err)
		}
		rt = &bearerTokenTransport{base: transport, token: strings.TrimSpace(string(token))}
	}

	return &http.Client{Timeout: b.connectTimeout + b.readTimeout, Transport: rt}, nil
}

type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// guardedDialContext blocks connections to loopback/private/link-local
// addresses unless explicitly allowed, to stop a malicious peer baseuri
// from making the server issue requests to internal infrastructure.
func guardedDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("netclient: resolving %s: %w", host, err)
		}
		for _, ip := range ips {
			if isPrivateOrLoopback(ip.IP) {
				return nil, fmt.Errorf("netclient: refusing connection to private/loopback address %s", ip.IP)
			}
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

func isPrivateOrLoopback(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

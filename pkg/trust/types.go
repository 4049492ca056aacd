// Package trust implements the bilateral trust-relationship state machine
// (spec §4.2): creating, verifying, approving and tearing down trust
// between two ActingWeb actors, plus peer capability discovery. It is
// grounded on the teacher's retry/backoff usage
// (cenkalti/backoff/v5, see _examples/stacklok-toolhive go.mod and its
// pkg/container/images pull-retry call sites) and on pkg/netclient for
// the outbound HTTP leg.
package trust

import (
	"time"

	"github.com/actingweb/aw/pkg/storage"
)

// Relationship describes the wire-path segment a trust type answers to
// (e.g. "friend", "partner") — normally equal to the trust type name but
// kept distinct so a single type can be exposed under several paths.
type Relationship = string

// State is a snapshot of the (approved, peer_approved, verified) tuple
// from the trust finite state machine (spec §4.2 diagram).
type State struct {
	Approved     bool
	PeerApproved bool
	Verified     bool
}

// Active reports whether the trust has reached (T,T,T) ACTIVE.
func (s State) Active() bool {
	return s.Approved && s.PeerApproved && s.Verified
}

func stateOf(t *storage.Trust) State {
	return State{Approved: t.Approved, PeerApproved: t.PeerApproved, Verified: t.Verified}
}

// Capabilities is the cached result of fetch_capabilities, refreshed per
// CapabilitiesTTL and invalidated on a peer 404.
type Capabilities struct {
	Supported []string // csv option tags from /meta/actingweb/supported
	Version   string   // /meta/actingweb/version
	FetchedAt time.Time
}

// CapabilitiesTTL is the default cache lifetime for fetch_capabilities
// (spec §4.2: "cache with TTL (default 1h)").
const CapabilitiesTTL = time.Hour

// InboundRequest is the /trust/{relationship} wire envelope, used both to
// build our outbound POST and to decode a peer's inbound POST/PUT (spec
// §6 wire protocol). Exported so pkg/handlers can decode request bodies
// without pkg/trust needing to know about HTTP.
type InboundRequest struct {
	PeerID            string `json:"peerid"`
	BaseURI           string `json:"baseuri"`
	Type              string `json:"type"`
	Relationship      string `json:"relationship"`
	Secret            string `json:"secret"`
	VerificationToken string `json:"verification_token,omitempty"`
	Desc              string `json:"desc,omitempty"`
	Approved          bool   `json:"approved"`
}

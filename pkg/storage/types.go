// Package storage defines the backend-agnostic persistence interfaces used
// by every other ActingWeb component. Two backends implement this package's
// interfaces: pkg/storage/redisdoc (a document KV store, analogous to a
// hash+range NoSQL table) and pkg/storage/sqlstore (a relational store on
// SQLite). Components in pkg/actor, pkg/trust, pkg/subscriptions,
// pkg/callback and pkg/oauth2server depend only on the interfaces here.
package storage

import "time"

// Reserved system actor ids (spec §3).
const (
	SystemActorID  = "_actingweb_system"
	OAuth2ActorID  = "_actingweb_oauth2"
	reservedPrefix = "_"
)

// ListKeyPrefix is the internal storage prefix for list properties. It
// MUST NOT leak into any public API response.
const ListKeyPrefix = "list:"

// IsReservedBucket reports whether bucket is in the library-reserved
// namespace (spec §3: "library-internal buckets use a reserved `_` prefix").
func IsReservedBucket(bucket string) bool {
	return len(bucket) > 0 && bucket[:1] == reservedPrefix
}

// Actor is the root entity owning all other per-actor state.
type Actor struct {
	ID             string
	Creator        string
	PassphraseHash string
}

// Property is a single (actor, name) -> value row. Value is an opaque
// UTF-8 byte string; the application layer decides on JSON encoding.
type Property struct {
	ActorID string
	Name    string
	Value   []byte
}

// ListMetadata is the metadata row accompanying a list property.
type ListMetadata struct {
	ActorID     string
	Name        string
	Description string
	Explanation string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int
	Length      int
}

// ListItem is one element of an ordered list property.
type ListItem struct {
	ActorID string
	Name    string
	Index   int
	Value   []byte // JSON blob
}

// Attribute is an internal (actor, bucket, name) -> JSON value row, never
// exposed via /properties.
type Attribute struct {
	ActorID   string
	Bucket    string
	Name      string
	Value     []byte
	TTLEpoch  int64 // 0 means no expiry
}

// EstablishedVia enumerates how a trust relationship came to exist.
type EstablishedVia string

// Trust establishment origins.
const (
	EstablishedActingWeb      EstablishedVia = "actingweb"
	EstablishedOAuth2Interactive EstablishedVia = "oauth2_interactive"
	EstablishedOAuth2Client   EstablishedVia = "oauth2_client"
)

// Trust is a bilateral relationship row (spec §3).
type Trust struct {
	ActorID               string
	PeerID                string
	BaseURI               string
	PeerType              string
	Relationship          string
	Description           string
	Secret                string
	Approved              bool
	PeerApproved          bool
	Verified              bool
	VerificationToken     string
	EstablishedVia        EstablishedVia
	PeerIdentifier        string
	AWSupported           string
	AWVersion             string
	CapabilitiesFetchedAt time.Time
	LastConnectedAt       time.Time
	LastConnectedVia      string
	OAuthClientID         string
	ClientName            string
	ClientVersion         string
	ClientPlatform        string
}

// Usable reports whether the trust is fully active (spec invariant 3).
func (t *Trust) Usable() bool {
	return t.Approved && t.PeerApproved
}

// Granularity controls how much data a subscription's callbacks embed.
type Granularity string

// Granularity levels.
const (
	GranularityHigh Granularity = "high"
	GranularityLow  Granularity = "low"
	GranularityNone Granularity = "none"
)

// Subscription is a standing request to receive diffs for a target scope.
type Subscription struct {
	ActorID     string
	PeerID      string
	SubID       string
	Target      string
	SubTarget   string
	Resource    string
	Granularity Granularity
	SeqNr       int64
	Callback    bool // true iff outbound (we subscribed to the peer)
}

// SubscriptionDiff is one buffered change payload at a given seqnr.
type SubscriptionDiff struct {
	ActorID   string
	SubID     string
	SeqNr     int64
	Timestamp time.Time
	Blob      []byte
}

// SubscriptionSuspension marks a (target, subtarget?) scope as paused.
type SubscriptionSuspension struct {
	ActorID   string
	Target    string
	SubTarget string // empty means "all subtargets"
}

// OAuth2Client is a dynamically registered OAuth2 client (RFC 7591).
type OAuth2Client struct {
	ClientID     string
	ClientSecretHash string
	ClientName   string
	RedirectURIs []string
	GrantTypes   []string
	CreatedAt    time.Time
}

// OAuth2AuthCode is a single-use authorization code (<=10 min TTL).
type OAuth2AuthCode struct {
	Code        string
	ClientID    string
	ActorID     string
	RedirectURI string
	Scope       string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt   time.Time
	Used        bool
}

// OAuth2AccessToken is an issued bearer access token (<=1h TTL).
type OAuth2AccessToken struct {
	Token     string
	ClientID  string
	ActorID   string
	Scope     string
	ExpiresAt time.Time
}

// OAuth2RefreshToken is an issued refresh token (<=30d TTL) with rotation
// bookkeeping (spec §4.9, invariant "at most one rotation").
type OAuth2RefreshToken struct {
	Token       string
	ClientID    string
	ActorID     string
	Scope       string
	FamilyID    string
	Used        bool
	UsedAt      time.Time
	IssuedAt    time.Time
	ExpiresAt   time.Time
	ReplacedBy  string
}

package storage

import "context"

// ActorStore persists Actor rows and cascades deletes to every other
// per-actor table (spec invariant 4).
type ActorStore interface {
	CreateActor(ctx context.Context, a *Actor) error
	GetActor(ctx context.Context, id string) (*Actor, error)
	GetActorByCreator(ctx context.Context, creator string) (*Actor, error)
	DeleteActor(ctx context.Context, id string) error
}

// PropertyStore persists scalar properties and the indexed reverse lookup.
type PropertyStore interface {
	GetProperty(ctx context.Context, actorID, name string) (*Property, error)
	SetProperty(ctx context.Context, p *Property) error
	DeleteProperty(ctx context.Context, actorID, name string) error
	DeleteAllProperties(ctx context.Context, actorID string) error
	ListProperties(ctx context.Context, actorID string) ([]*Property, error)

	// HasList reports whether a list property of the same name already
	// exists, enforcing the disjoint-namespace invariant.
	HasList(ctx context.Context, actorID, name string) (bool, error)

	// LookupByIndexedProperty resolves an actor id from a value previously
	// written to an indexed property name (spec §4.1 get_from_property).
	LookupByIndexedProperty(ctx context.Context, name, value string) (actorID string, err error)
	IndexProperty(ctx context.Context, name, value, actorID string) error
	UnindexProperty(ctx context.Context, name, value string) error
}

// ListStore persists ordered list properties.
type ListStore interface {
	HasProperty(ctx context.Context, actorID, name string) (bool, error)

	GetListMetadata(ctx context.Context, actorID, name string) (*ListMetadata, error)
	PutListMetadata(ctx context.Context, m *ListMetadata) error
	DeleteList(ctx context.Context, actorID, name string) error

	AppendListItem(ctx context.Context, actorID, name string, value []byte) (index int, err error)
	InsertListItem(ctx context.Context, actorID, name string, index int, value []byte) error
	UpdateListItemAt(ctx context.Context, actorID, name string, index int, value []byte) error
	DeleteListItemAt(ctx context.Context, actorID, name string, index int) error
	GetListItems(ctx context.Context, actorID, name string) ([]*ListItem, error)
	ClearList(ctx context.Context, actorID, name string) error
}

// AttributeStore persists internal per-actor attribute buckets.
type AttributeStore interface {
	GetAttribute(ctx context.Context, actorID, bucket, name string) (*Attribute, error)
	SetAttribute(ctx context.Context, a *Attribute) error
	DeleteAttribute(ctx context.Context, actorID, bucket, name string) error
	ListAttributes(ctx context.Context, actorID, bucket string) ([]*Attribute, error)
	DeleteBucket(ctx context.Context, actorID, bucket string) error
}

// TrustStore persists bilateral trust relationships.
type TrustStore interface {
	CreateTrust(ctx context.Context, t *Trust) error
	GetTrust(ctx context.Context, actorID, peerID string) (*Trust, error)
	GetTrustBySecret(ctx context.Context, secret string) (*Trust, error)
	UpdateTrust(ctx context.Context, t *Trust) error
	DeleteTrust(ctx context.Context, actorID, peerID string) error
	ListTrusts(ctx context.Context, actorID string) ([]*Trust, error)
	ListTrustsByRelationship(ctx context.Context, actorID, relationship string) ([]*Trust, error)
}

// SubscriptionStore persists subscriptions, diffs and suspensions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, actorID, peerID, subID string) (*Subscription, error)
	DeleteSubscription(ctx context.Context, actorID, peerID, subID string) error
	ListSubscriptions(ctx context.Context, actorID string) ([]*Subscription, error)
	ListSubscriptionsForTarget(ctx context.Context, actorID, target, subtarget string) ([]*Subscription, error)

	// NextSeqNr atomically allocates and returns the next seqnr for a
	// subscription (spec invariant: seqnr >= 1, strictly increasing).
	NextSeqNr(ctx context.Context, actorID, peerID, subID string) (int64, error)

	PutDiff(ctx context.Context, d *SubscriptionDiff) error
	GetDiff(ctx context.Context, actorID, subID string, seqnr int64) (*SubscriptionDiff, error)
	ListDiffs(ctx context.Context, actorID, subID string) ([]*SubscriptionDiff, error)
	DeleteDiff(ctx context.Context, actorID, subID string, seqnr int64) error

	Suspend(ctx context.Context, s *SubscriptionSuspension) error
	Resume(ctx context.Context, actorID, target, subtarget string) error
	IsSuspended(ctx context.Context, actorID, target, subtarget string) (bool, error)
}

// CallbackState is the per-subscription inbound-delivery state tracked by
// the callback processor (spec §4.5): last applied sequence number, the
// out-of-order pending queue, and an optimistic-concurrency version.
type CallbackState struct {
	ActorID        string
	PeerID         string
	SubID          string
	LastProcessed  int64
	Pending        []PendingDiff
	Version        int64
}

// PendingDiff is one out-of-order callback buffered awaiting its
// predecessor.
type PendingDiff struct {
	SeqNr      int64
	Data       []byte
	ReceivedAt int64 // unix seconds, supplied by the caller (no time.Now in this package)
}

// CallbackStateStore persists CallbackState with compare-and-swap
// semantics so concurrent callback deliveries cannot corrupt ordering.
type CallbackStateStore interface {
	GetCallbackState(ctx context.Context, actorID, peerID, subID string) (*CallbackState, error)
	// PutCallbackStateCAS writes newState only if the stored version still
	// equals expectedVersion; returns ErrConflict otherwise.
	PutCallbackStateCAS(ctx context.Context, newState *CallbackState, expectedVersion int64) error
}

// OAuth2Store persists the authorization-server state (spec §4.8/§3).
type OAuth2Store interface {
	CreateClient(ctx context.Context, c *OAuth2Client) error
	GetClient(ctx context.Context, clientID string) (*OAuth2Client, error)
	DeleteClient(ctx context.Context, clientID string) error

	PutAuthCode(ctx context.Context, c *OAuth2AuthCode) error
	GetAuthCode(ctx context.Context, code string) (*OAuth2AuthCode, error)
	ConsumeAuthCode(ctx context.Context, code string) error

	PutAccessToken(ctx context.Context, t *OAuth2AccessToken) error
	GetAccessToken(ctx context.Context, token string) (*OAuth2AccessToken, error)
	DeleteAccessToken(ctx context.Context, token string) error
	DeleteAccessTokensForClient(ctx context.Context, clientID string) error

	PutRefreshToken(ctx context.Context, t *OAuth2RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*OAuth2RefreshToken, error)
	// MarkRefreshTokenUsedCAS atomically flips Used=false->true, returning
	// ErrConflict if it was already used (the rotation race in spec §4.8).
	MarkRefreshTokenUsedCAS(ctx context.Context, token string, replacedBy string, usedAtUnix int64) error
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteRefreshTokensForClient(ctx context.Context, clientID string) error
	DeleteFamily(ctx context.Context, familyID string) error
}

// Interfaces is the full storage contract a backend must satisfy. Both
// pkg/storage/redisdoc and pkg/storage/sqlstore implement it in full.
type Interfaces interface {
	ActorStore
	PropertyStore
	ListStore
	AttributeStore
	TrustStore
	SubscriptionStore
	CallbackStateStore
	OAuth2Store

	Close() error
}

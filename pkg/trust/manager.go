package trust

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/actingweb/aw/pkg/access"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/netclient"
	"github.com/actingweb/aw/pkg/storage"
)

// Cleanup lets the composition root wire in the higher-layer side effects
// of trust deletion (subscription cancellation, OAuth2 token revocation)
// without pkg/trust importing pkg/subscriptions or pkg/oauth2server —
// both of those sit above pkg/trust in the dependency order and would
// otherwise form an import cycle.
type Cleanup interface {
	CancelSubscriptionsForPeer(ctx context.Context, actorID, peerID string) error
	RevokeTokensForClient(ctx context.Context, clientID string) error
}

// Notifier dispatches the lifecycle hooks named in spec §4.2/§4.9.
// Manager works with a nil Notifier (hooks are then simply not fired),
// so composition order does not force pkg/hooks to exist first.
type Notifier interface {
	Fire(ctx context.Context, hookName, actorID, peerID string)
}

type noopCleanup struct{}

func (noopCleanup) CancelSubscriptionsForPeer(context.Context, string, string) error { return nil }
func (noopCleanup) RevokeTokensForClient(context.Context, string) error              { return nil }

// Manager owns the trust relationship state machine for one storage
// backend. It is safe for concurrent use.
type Manager struct {
	store    storage.Interfaces
	registry *access.Registry
	client   *http.Client
	cleanup  Cleanup
	notifier Notifier
	selfURI  func(actorID string) string
	now      func() time.Time
}

// NewManager constructs a Manager. selfURI builds this node's own actor
// base URI (embedded in the outbound /trust POST so the peer knows where
// to reach us back), mirroring the teacher's pattern of injecting a
// small closure rather than a full config struct where only one value is
// needed.
func NewManager(store storage.Interfaces, registry *access.Registry, client *http.Client, selfURI func(actorID string) string) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		client:   client,
		cleanup:  noopCleanup{},
		selfURI:  selfURI,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetCleanup wires in the subscription/OAuth2 cascade-delete callbacks.
func (m *Manager) SetCleanup(c Cleanup) {
	if c == nil {
		c = noopCleanup{}
	}
	m.cleanup = c
}

// SetNotifier wires in the lifecycle hook dispatcher.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Manager) fire(ctx context.Context, hookName, actorID, peerID string) {
	if m.notifier != nil {
		m.notifier.Fire(ctx, hookName, actorID, peerID)
	}
}

// Get returns the trust row for (actorID, peerID).
func (m *Manager) Get(ctx context.Context, actorID, peerID string) (*storage.Trust, error) {
	t, err := m.store.GetTrust(ctx, actorID, peerID)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return t, nil
}

// List returns every trust relationship an actor holds, optionally
// filtered to a single relationship path.
func (m *Manager) List(ctx context.Context, actorID, relationship string) ([]*storage.Trust, error) {
	if relationship != "" {
		return m.store.ListTrustsByRelationship(ctx, actorID, relationship)
	}
	return m.store.ListTrusts(ctx, actorID)
}

// CreateReciprocalTrust initiates a trust relationship with a peer actor:
// it generates a secret and verification token, POSTs them to the peer's
// /trust/{relationship}, and on a 2xx response persists the relationship
// locally with verified=true (spec §4.2 create_reciprocal_trust).
func (m *Manager) CreateReciprocalTrust(ctx context.Context, actorID, peerURI, typ, relationship, desc string) (*storage.Trust, error) {
	if _, ok := m.registry.Get(typ); !ok {
		return nil, awerrors.NewInvalidRequestError(fmt.Sprintf("unknown trust type %q", typ), nil)
	}
	if relationship == "" {
		relationship = typ
	}

	secret := randomToken(32)
	verifier := randomToken(16)

	peerURI = strings.TrimRight(peerURI, "/")
	body := InboundRequest{
		PeerID:            actorID,
		BaseURI:           m.selfURI(actorID),
		Type:              typ,
		Relationship:      relationship,
		Secret:            secret,
		VerificationToken: verifier,
		Desc:              desc,
	}

	resp, err := m.postJSON(ctx, peerURI+"/trust/"+relationship, body)
	if err != nil {
		return nil, err
	}

	var peer InboundRequest
	if len(resp) > 0 {
		_ = json.Unmarshal(resp, &peer)
	}
	peerID := peer.PeerID
	if peerID == "" {
		// Fall back to deriving an identifier from the peer's own baseuri
		// when it does not echo one back (a tolerant ActingWeb peer).
		peerID = peerURI
	}

	t := &storage.Trust{
		ActorID:           actorID,
		PeerID:            peerID,
		BaseURI:           peerURI,
		PeerType:          typ,
		Relationship:      relationship,
		Secret:            secret,
		VerificationToken: verifier,
		Approved:          true,
		PeerApproved:      false,
		Verified:          true,
		EstablishedVia:    storage.EstablishedActingWeb,
	}
	if err := m.store.CreateTrust(ctx, t); err != nil {
		return nil, awerrors.NewFatalError("persisting outbound trust", err)
	}
	m.fire(ctx, "trust_initiated", actorID, peerID)
	return t, nil
}

// CreateVerifiedTrust is the inbound counterpart: a peer has POSTed its
// own /trust request to us, so we store it as approved=false (pending
// local app approval), verified=true (spec §4.2 create_verified_trust).
func (m *Manager) CreateVerifiedTrust(ctx context.Context, actorID string, peer InboundRequest) (*storage.Trust, error) {
	if _, ok := m.registry.Get(peer.Type); !ok {
		return nil, awerrors.NewInvalidRequestError(fmt.Sprintf("unknown trust type %q", peer.Type), nil)
	}
	relationship := peer.Relationship
	if relationship == "" {
		relationship = peer.Type
	}
	t := &storage.Trust{
		ActorID:        actorID,
		PeerID:         peer.PeerID,
		BaseURI:        strings.TrimRight(peer.BaseURI, "/"),
		PeerType:       peer.Type,
		Relationship:   relationship,
		Secret:         peer.Secret,
		Approved:       false,
		PeerApproved:   peer.Approved,
		Verified:       true,
		EstablishedVia: storage.EstablishedActingWeb,
	}
	if err := m.store.CreateTrust(ctx, t); err != nil {
		return nil, awerrors.NewFatalError("persisting inbound trust", err)
	}
	m.fire(ctx, "trust_requested", actorID, peer.PeerID)
	return t, nil
}

// Approve marks approved=true locally, notifies the peer via PUT
// (non-fatal on failure — the error is logged, not retried), and fires
// trust_fully_approved_local once both sides have approved.
func (m *Manager) Approve(ctx context.Context, actorID, peerID string) (*storage.Trust, error) {
	t, err := m.store.GetTrust(ctx, actorID, peerID)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	t.Approved = true
	if err := m.store.UpdateTrust(ctx, t); err != nil {
		return nil, awerrors.NewFatalError("persisting trust approval", err)
	}

	if t.BaseURI != "" {
		if _, err := m.putJSON(ctx, t.BaseURI+"/trust/"+t.Relationship+"/"+actorID, InboundRequest{
			PeerID: actorID, Approved: true,
		}); err != nil {
			logger.Warnf("trust: notifying peer %s of approval failed: %v", peerID, err)
		}
	}

	if t.Usable() {
		m.fire(ctx, "trust_fully_approved_local", actorID, peerID)
	}
	return t, nil
}

// NotifyPeerApproval records an inbound PUT /trust/{relationship}/{peerid}
// notification from the peer side of this relationship (spec §4.2: the
// peer tells us it has approved on its end). It never calls back out to
// the peer — the notification is already the peer's own outbound leg of
// Approve.
func (m *Manager) NotifyPeerApproval(ctx context.Context, actorID, peerID string, approved bool) (*storage.Trust, error) {
	t, err := m.store.GetTrust(ctx, actorID, peerID)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	t.PeerApproved = approved
	if err := m.store.UpdateTrust(ctx, t); err != nil {
		return nil, awerrors.NewFatalError("persisting peer approval notification", err)
	}
	if t.Usable() {
		m.fire(ctx, "trust_fully_approved_remote", actorID, peerID)
	}
	return t, nil
}

// UpdateDesc updates the free-text description on a trust relationship
// (spec §6 PUT /trust/{rel}/{peerid} accepts a desc field for local
// bookkeeping edits that don't touch the approval state machine).
func (m *Manager) UpdateDesc(ctx context.Context, actorID, peerID, desc string) (*storage.Trust, error) {
	t, err := m.store.GetTrust(ctx, actorID, peerID)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	t.Description = desc
	if err := m.store.UpdateTrust(ctx, t); err != nil {
		return nil, awerrors.NewFatalError("persisting trust description", err)
	}
	return t, nil
}

// Delete tears down a trust relationship: removes the local row,
// best-effort notifies the peer, revokes any OAuth2 tokens bound to it,
// deletes permission overrides, and cancels subscriptions in both
// directions (spec §4.2 delete, invariant 5).
func (m *Manager) Delete(ctx context.Context, actorID, peerID string) error {
	t, err := m.store.GetTrust(ctx, actorID, peerID)
	if err != nil {
		return wrapNotFound(err)
	}

	if t.BaseURI != "" {
		req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, t.BaseURI+"/trust/"+t.Relationship+"/"+actorID, nil)
		if req != nil {
			netclient.PropagateRequestID(ctx, req)
			if resp, err := m.client.Do(req); err != nil {
				logger.Warnf("trust: best-effort peer delete notify failed: %v", err)
			} else {
				_ = resp.Body.Close()
			}
		}
	}

	if err := m.store.DeleteTrust(ctx, actorID, peerID); err != nil {
		return awerrors.NewFatalError("deleting trust", err)
	}
	if err := m.registry.DeleteOverride(ctx, actorID, peerID); err != nil {
		logger.Warnf("trust: deleting permission override for %s/%s: %v", actorID, peerID, err)
	}
	if err := m.cleanup.CancelSubscriptionsForPeer(ctx, actorID, peerID); err != nil {
		logger.Warnf("trust: cancelling subscriptions for %s/%s: %v", actorID, peerID, err)
	}
	if t.OAuthClientID != "" {
		if err := m.cleanup.RevokeTokensForClient(ctx, t.OAuthClientID); err != nil {
			logger.Warnf("trust: revoking OAuth2 tokens for client %s: %v", t.OAuthClientID, err)
		}
	}

	m.fire(ctx, "trust_deleted", actorID, peerID)
	return nil
}

// FetchCapabilities GETs the peer's /meta/actingweb/supported and
// /meta/actingweb/version, persisting the result on the trust row and
// returning it. A peer 404 invalidates the cached capabilities and
// returns a KindPeerGone error (spec §4.2 fetch_capabilities).
func (m *Manager) FetchCapabilities(ctx context.Context, actorID, peerID string) (*Capabilities, error) {
	t, err := m.store.GetTrust(ctx, actorID, peerID)
	if err != nil {
		return nil, wrapNotFound(err)
	}

	if !t.CapabilitiesFetchedAt.IsZero() && m.now().Sub(t.CapabilitiesFetchedAt) < CapabilitiesTTL {
		return &Capabilities{
			Supported: strings.Split(t.AWSupported, ","),
			Version:   t.AWVersion,
			FetchedAt: t.CapabilitiesFetchedAt,
		}, nil
	}

	supported, err := m.getText(ctx, t.BaseURI+"/meta/actingweb/supported")
	if err != nil {
		if netclient.IsHTTPError(err, http.StatusNotFound) {
			t.AWSupported, t.AWVersion = "", ""
			t.CapabilitiesFetchedAt = time.Time{}
			_ = m.store.UpdateTrust(ctx, t)
			return nil, awerrors.New(awerrors.KindPeerGone, "peer no longer advertises capabilities", err)
		}
		return nil, awerrors.New(awerrors.KindPeerUnavailable, "fetching peer capabilities", err)
	}
	version, err := m.getText(ctx, t.BaseURI+"/meta/actingweb/version")
	if err != nil {
		version = ""
	}

	t.AWSupported = strings.TrimSpace(supported)
	t.AWVersion = strings.TrimSpace(version)
	t.CapabilitiesFetchedAt = m.now()
	if err := m.store.UpdateTrust(ctx, t); err != nil {
		return nil, awerrors.NewFatalError("persisting fetched capabilities", err)
	}

	return &Capabilities{
		Supported: strings.Split(t.AWSupported, ","),
		Version:   t.AWVersion,
		FetchedAt: t.CapabilitiesFetchedAt,
	}, nil
}

func (m *Manager) postJSON(ctx context.Context, url string, body any) ([]byte, error) {
	return m.doJSON(ctx, http.MethodPost, url, body)
}

func (m *Manager) putJSON(ctx context.Context, url string, body any) ([]byte, error) {
	return m.doJSON(ctx, http.MethodPut, url, body)
}

// doJSON retries transient network/5xx failures up to 3 times with
// exponential backoff starting at 0.5s (spec §4.2: "Retry on transient
// network errors (<=3, exp backoff 0.5/1/2s)"); 4xx responses are
// treated as permanent failures and not retried.
func (m *Manager) doJSON(ctx context.Context, method, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, awerrors.NewInvalidRequestError("encoding trust payload", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		netclient.PropagateRequestID(ctx, req)

		resp, err := m.client.Do(req)
		if err != nil {
			return nil, err // retryable: network/timeout error
		}
		defer resp.Body.Close()

		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)

		if resp.StatusCode >= 500 {
			return nil, netclient.NewHTTPError(resp.StatusCode, url, "peer server error")
		}
		if resp.StatusCode >= 400 {
			return nil, backoff.Permanent(netclient.NewHTTPError(resp.StatusCode, url, buf.String()))
		}
		return buf.Bytes(), nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(4))
}

func (m *Manager) getText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	netclient.PropagateRequestID(ctx, req)
	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", netclient.NewHTTPError(resp.StatusCode, url, buf.String())
	}
	return buf.String(), nil
}

func randomToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func wrapNotFound(err error) error {
	var e *awerrors.Error
	if awerrors.As(err, &e) && e.Kind == awerrors.KindNotFound {
		return awerrors.NewNotFoundError("trust relationship not found", err)
	}
	return awerrors.NewFatalError("looking up trust relationship", err)
}

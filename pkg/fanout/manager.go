package fanout

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/actingweb/aw/pkg/callback"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/storage"
	"github.com/actingweb/aw/pkg/subscriptions"
	"github.com/actingweb/aw/pkg/trust"
)

// Manager is the outbound fan-out delivery engine (spec §4.6). It
// implements subscriptions.Enqueuer; the subscription engine holds it
// behind that interface as a weak back-reference (spec §9).
type Manager struct {
	store    storage.Interfaces
	trustMgr *trust.Manager
	client   *http.Client
	cfg      Config
	selfURI  func(actorID string) string
	now      func() time.Time

	sem *semaphore.Weighted

	mu       sync.Mutex
	breakers map[string]*breaker
}

var _ subscriptions.Enqueuer = (*Manager)(nil)

// NewManager constructs a Manager. selfURI resolves an actor id to this
// actor's own base URI, used to build low-granularity callback URLs
// (spec §4.6: "send {url} ... instead of {data}").
func NewManager(store storage.Interfaces, trustMgr *trust.Manager, client *http.Client, selfURI func(actorID string) string, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		store:    store,
		trustMgr: trustMgr,
		client:   client,
		cfg:      cfg,
		selfURI:  selfURI,
		now:      func() time.Time { return time.Now().UTC() },
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		breakers: make(map[string]*breaker),
	}
}

// Enqueue implements subscriptions.Enqueuer: deliver the job's diff to
// its subscriber, either inline (Config.Synchronous) or on the bounded
// worker pool.
func (m *Manager) Enqueue(ctx context.Context, job subscriptions.Job) error {
	if m.cfg.Synchronous {
		return m.deliver(ctx, job)
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return awerrors.New(awerrors.KindFatal, "acquiring fan-out slot", err)
	}
	go func() {
		defer m.sem.Release(1)
		if err := m.deliver(context.Background(), job); err != nil {
			logger.Warnf("fanout: delivering %s/%s seq %d to %s: %v", job.ActorID, job.SubID, job.SeqNr, job.PeerID, err)
		}
	}()
	return nil
}

// DeliverBatch fans a set of jobs out concurrently, bounded by the same
// concurrency gate as Enqueue, and waits for all of them to finish. Used
// for the suspend/resume resync batch and by tests that need delivery
// to have completed before asserting on it.
func (m *Manager) DeliverBatch(ctx context.Context, jobs []subscriptions.Job) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		if err := m.sem.Acquire(gctx, 1); err != nil {
			return awerrors.New(awerrors.KindFatal, "acquiring fan-out slot", err)
		}
		g.Go(func() error {
			defer m.sem.Release(1)
			if err := m.deliver(gctx, job); err != nil {
				logger.Warnf("fanout: batch delivery %s/%s seq %d to %s: %v", job.ActorID, job.SubID, job.SeqNr, job.PeerID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) breakerFor(actorID, peerID string) *breaker {
	key := actorID + "|" + peerID
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[key]
	if !ok {
		b = newBreaker(m.cfg.CircuitThreshold, m.cfg.CircuitCooldown, m.now)
		m.breakers[key] = b
	}
	return b
}

// deliver runs one job through the full spec §4.6 delivery path. It
// never returns an error for ordinary delivery failures (those are
// logged and leave the diff in place for polling); only unrecoverable
// local faults propagate.
func (m *Manager) deliver(ctx context.Context, job subscriptions.Job) error {
	diff, err := m.store.GetDiff(ctx, job.ActorID, job.SubID, job.SeqNr)
	if err != nil {
		if isNotFound(err) {
			return nil // already delivered, or superseded by a resync
		}
		return awerrors.NewFatalError("loading subscription diff", err)
	}
	sub, err := m.store.GetSubscription(ctx, job.ActorID, job.PeerID, job.SubID)
	if err != nil {
		if isNotFound(err) {
			return nil // subscription was removed before delivery ran
		}
		return awerrors.NewFatalError("loading subscription", err)
	}

	if job.Granularity == storage.GranularityNone {
		return nil // polling only, diff stays for the peer to fetch
	}

	t, err := m.trustMgr.Get(ctx, job.ActorID, job.PeerID)
	if err != nil || !t.Usable() || t.BaseURI == "" {
		return nil // no live trust to deliver through
	}

	br := m.breakerFor(job.ActorID, job.PeerID)
	if !br.allow() {
		return nil // circuit open or peer-requested backoff: diff stays for polling
	}

	env, downgraded := m.buildEnvelope(job, sub, diff)
	status, retryAfter, perr := m.post(ctx, t.BaseURI, job, env, downgraded)

	switch {
	case perr == nil && status >= 200 && status < 300:
		br.recordSuccess()
		if derr := m.store.DeleteDiff(ctx, job.ActorID, job.SubID, job.SeqNr); derr != nil {
			logger.Warnf("fanout: clearing delivered diff %s/%s seq %d: %v", job.ActorID, job.SubID, job.SeqNr, derr)
		}
		return nil

	case perr == nil && (status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable):
		if retryAfter <= 0 {
			retryAfter = 5 * time.Second
		}
		br.backOff(retryAfter)
		return nil

	case perr == nil && status == http.StatusNotFound:
		if br.recordFailure() {
			m.verifyPeerOrRevoke(ctx, job.ActorID, job.PeerID, t.BaseURI)
		}
		return nil

	default:
		// Any other 4xx, a persistent 5xx, or a transport failure: retain
		// the diff for polling and count it against the breaker.
		br.recordFailure()
		return nil
	}
}

// buildEnvelope constructs the callback wire payload for a job,
// downgrading a high-granularity diff to a URL when it exceeds the
// configured size (spec §4.6).
func (m *Manager) buildEnvelope(job subscriptions.Job, sub *storage.Subscription, diff *storage.SubscriptionDiff) (callback.Envelope, bool) {
	env := callback.Envelope{
		ID:             uuid.NewString(),
		Target:         sub.Target,
		SubscriptionID: job.SubID,
		Sequence:       job.SeqNr,
		Timestamp:      diff.Timestamp,
		Granularity:    string(job.Granularity),
	}
	if job.Type == subscriptions.DiffTypeResync {
		env.Type = callback.EnvelopeResync
	}

	if job.Granularity == storage.GranularityHigh && int64(len(diff.Blob)) <= m.cfg.MaxHighGranularityBytes {
		env.Data = diff.Blob
		return env, false
	}

	env.URL = m.resourceURL(job.ActorID, sub)
	downgraded := job.Granularity == storage.GranularityHigh
	if downgraded {
		env.Granularity = string(storage.GranularityLow)
	}
	return env, downgraded
}

func (m *Manager) resourceURL(actorID string, sub *storage.Subscription) string {
	base := m.selfURI(actorID)
	if sub.SubTarget != "" {
		return base + "/" + sub.Target + "/" + sub.SubTarget
	}
	return base + "/" + sub.Target
}

// post delivers env to baseURI/callbacks/subscriptions/{actorid}/{subid},
// compressing the body when it exceeds the configured threshold and the
// peer advertises callbackcompression (spec §4.6).
func (m *Manager) post(ctx context.Context, baseURI string, job subscriptions.Job, env callback.Envelope, downgraded bool) (status int, retryAfter time.Duration, err error) {
	payload, merr := json.Marshal(env)
	if merr != nil {
		return 0, 0, merr
	}

	gzipped := false
	body := payload
	if int64(len(payload)) > m.cfg.CompressionThresholdBytes && m.peerSupportsCompression(ctx, job.ActorID, job.PeerID) {
		if compressed, cerr := gzipBytes(payload); cerr == nil {
			body = compressed
			gzipped = true
		}
	}

	url := baseURI + "/callbacks/subscriptions/" + job.ActorID + "/" + job.SubID
	req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if rerr != nil {
		return 0, 0, rerr
	}
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if downgraded {
		req.Header.Set(DowngradedHeader, "true")
	}

	resp, derr := m.client.Do(req)
	if derr != nil {
		return 0, 0, derr
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, perr := strconv.Atoi(ra); perr == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return resp.StatusCode, retryAfter, nil
}

func gzipBytes(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// peerSupportsCompression consults the (TTL-cached) capability fetch
// already maintained by pkg/trust for the "callbackcompression" option
// tag (spec §4.6, §6 "option tags").
func (m *Manager) peerSupportsCompression(ctx context.Context, actorID, peerID string) bool {
	caps, err := m.trustMgr.FetchCapabilities(ctx, actorID, peerID)
	if err != nil {
		return false
	}
	for _, s := range caps.Supported {
		if strings.TrimSpace(s) == "callbackcompression" {
			return true
		}
	}
	return false
}

// verifyPeerOrRevoke implements spec §4.6's peer-liveness check: once a
// peer's repeated 404s trip its circuit, GET the peer's /meta. A 404
// means the peer is gone and the trust is removed; a 403 means the peer
// denies us and the trust is marked revoked (peer_approved cleared, so
// it is no longer usable until re-approved).
func (m *Manager) verifyPeerOrRevoke(ctx context.Context, actorID, peerID, baseURI string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURI+"/meta", nil)
	if err != nil {
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		if derr := m.trustMgr.Delete(ctx, actorID, peerID); derr != nil {
			logger.Warnf("fanout: removing trust for gone peer %s/%s: %v", actorID, peerID, derr)
		}
	case http.StatusForbidden:
		t, gerr := m.store.GetTrust(ctx, actorID, peerID)
		if gerr != nil {
			return
		}
		t.PeerApproved = false
		if uerr := m.store.UpdateTrust(ctx, t); uerr != nil {
			logger.Warnf("fanout: marking trust revoked for %s/%s: %v", actorID, peerID, uerr)
		}
	}
}

func isNotFound(err error) bool {
	var e *awerrors.Error
	return awerrors.As(err, &e) && e.Kind == awerrors.KindNotFound
}

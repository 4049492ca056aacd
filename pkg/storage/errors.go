package storage

import awerrors "github.com/actingweb/aw/pkg/errors"

// ErrNotFound is returned by getters when the row does not exist.
var ErrNotFound = awerrors.NewNotFoundError("not found", nil)

// ErrConflict is returned by CAS operations when the expected version or
// used-flag no longer matches.
var ErrConflict = awerrors.NewConflictError("conflict", nil)

// ErrNameCollision is returned when a scalar property and a list property
// would share the same name (spec invariant 1).
var ErrNameCollision = awerrors.NewInvalidRequestError("property/list name collision", nil)

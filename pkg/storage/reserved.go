package storage

import "context"

// EnsureReservedActors idempotently creates the actor rows for the two
// reserved system actors (spec §3: `_actingweb_system`, `_actingweb_oauth2`).
// Backends whose schema foreign-keys attribute rows to an actors
// table (pkg/storage/sqlstore) require these rows to exist before the
// trust-type registry or the OAuth2 server can persist anything; backends
// without such a constraint (pkg/storage/redisdoc) simply no-op on the
// second call. Call once during composition-root startup.
func EnsureReservedActors(ctx context.Context, store Interfaces) error {
	for _, id := range []string{SystemActorID, OAuth2ActorID} {
		if _, err := store.GetActor(ctx, id); err == nil {
			continue
		}
		if err := store.CreateActor(ctx, &Actor{ID: id, Creator: id}); err != nil {
			// Best-effort: a concurrent caller may have won the race to
			// create the same reserved row; re-check before failing.
			if _, getErr := store.GetActor(ctx, id); getErr == nil {
				continue
			}
			return err
		}
	}
	return nil
}

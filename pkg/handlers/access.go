package handlers

import (
	"context"

	"github.com/actingweb/aw/pkg/access"
	"github.com/actingweb/aw/pkg/auth"
	awerrors "github.com/actingweb/aw/pkg/errors"
)

// checkAccess evaluates rc's right to perform op on target within
// category, against the actor currently in scope (spec §4.3 step 3 as
// reached from the HTTP layer). Owner accessors always pass (spec
// §4.7.1: "owner-mode access bypasses access control entirely").
func checkAccess(ctx context.Context, deps *Deps, rc *auth.Context, category access.Category, target string, op access.Operation) error {
	if rc == nil {
		return awerrors.NewUnauthenticatedError("no credential presented", nil)
	}
	if rc.Owner() {
		return nil
	}
	if rc.Trust == nil || !rc.Trust.Usable() {
		return awerrors.NewForbiddenError("no active trust relationship", nil)
	}
	override, err := deps.Registry.GetOverride(ctx, rc.ActorID, rc.Trust.PeerID)
	if err != nil {
		override = nil
	}
	decision := deps.Evaluator.Evaluate(ctx, rc.ActorID+"|"+rc.Trust.PeerID, nil, access.Request{
		TrustType: rc.Trust.PeerType,
		Override:  override,
		Category:  category,
		Target:    target,
		Operation: op,
	})
	if decision != access.Allowed {
		return awerrors.NewForbiddenError("access denied for this target", nil)
	}
	return nil
}

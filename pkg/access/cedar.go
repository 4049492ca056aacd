package access

import (
	"fmt"

	"github.com/cedar-policy/cedar-go"

	"github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
)

// cedarOverlay compiles a trust type's optional acl_rules (spec §3) into a
// cedar.PolicySet, evaluated as a richer per-category policy layer on top
// of the glob/pattern evaluation (spec §4.3, DOMAIN STACK wiring for
// github.com/cedar-policy/cedar-go). A trust type with no ACLRules has a
// nil overlay and is skipped entirely.
type cedarOverlay struct {
	policies *cedar.PolicySet
}

func newCedarOverlay(rules []string) (*cedarOverlay, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	ps := cedar.NewPolicySet()
	for i, rule := range rules {
		parsed, err := cedar.NewPolicyListFromBytes(fmt.Sprintf("acl_rule_%d.cedar", i), []byte(rule))
		if err != nil {
			return nil, errors.NewInvalidRequestError("invalid acl_rules policy", err)
		}
		for j, p := range parsed {
			ps.Add(cedar.PolicyID(fmt.Sprintf("acl_rule_%d_%d", i, j)), p)
		}
	}
	return &cedarOverlay{policies: ps}, nil
}

// evaluate runs the cedar overlay for one (principal, action, resource)
// tuple. It returns (decided=false) when no policy in the set matched,
// letting the glob evaluator's result stand; decided=true means the cedar
// layer has an opinion (allow or deny) that takes precedence, since it is
// the more specific policy language the trust type opted into.
func (c *cedarOverlay) evaluate(peerID string, category Category, target string, op Operation) (decided bool, allow bool) {
	if c == nil || c.policies == nil {
		return false, false
	}
	principal := cedar.NewEntityUID("Peer", cedar.String(peerID))
	action := cedar.NewEntityUID("Action", cedar.String(string(op)))
	resource := cedar.NewEntityUID("Resource", cedar.String(string(category)+":"+target))

	req := cedar.Request{
		Principal: principal,
		Action:    action,
		Resource:  resource,
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	}

	decision, diag := c.policies.IsAuthorized(cedar.EntityMap{}, req)
	if len(diag.Reasons) == 0 {
		logger.Debugf("cedar overlay: no matching policy for %s/%s/%s", category, target, op)
		return false, false
	}
	if decision == cedar.Allow {
		return true, true
	}
	return true, false
}

// Package access implements the unified access-control layer (spec §4.3):
// the trust-type registry, the glob/cedar permission evaluator, and
// per-relationship permission overrides.
package access

// Category enumerates the permission categories a trust type or override
// can restrict.
type Category string

// Permission categories.
const (
	CategoryProperties Category = "properties"
	CategoryMethods    Category = "methods"
	CategoryActions    Category = "actions"
	CategoryTools      Category = "tools"
	CategoryResources  Category = "resources"
	CategoryPrompts    Category = "prompts"
)

// Operation is one of the verbs a permission set can grant.
type Operation string

// Operations.
const (
	OpRead      Operation = "read"
	OpWrite     Operation = "write"
	OpDelete    Operation = "delete"
	OpSubscribe Operation = "subscribe"
)

// PermissionSet is the allow/deny pattern structure for one category.
// Patterns are glob strings ("*", "?") or URI prefixes ("notes://...").
// The spec describes both "patterns"/"allowed" and "excluded_patterns"/
// "denied" as acceptable field names from different sources; this type is
// the canonical in-memory (dict) form every reader/writer normalizes to
// (spec §9: "normalize on write; accept both on read").
type PermissionSet struct {
	Allowed    []string    `json:"patterns"`
	Operations []Operation `json:"operations,omitempty"`
	Denied     []string    `json:"excluded_patterns,omitempty"`
}

// wireShape is the tolerant on-wire/on-disk structure accepting both the
// canonical field names and the legacy aliases ("allowed"/"denied" and a
// bare list instead of a dict).
type wireShape struct {
	Allowed         []string    `json:"patterns,omitempty"`
	AllowedAlias    []string    `json:"allowed,omitempty"`
	Operations      []Operation `json:"operations,omitempty"`
	Denied          []string    `json:"excluded_patterns,omitempty"`
	DeniedAlias     []string    `json:"denied,omitempty"`
}

// TrustType is a named template of base permissions and ACL rules, stored
// globally in the reserved system actor (spec §3).
type TrustType struct {
	Name               string                      `json:"name"`
	DisplayName        string                      `json:"display_name"`
	BasePermissions    map[Category]PermissionSet  `json:"base_permissions"`
	AllowUserOverride  bool                        `json:"allow_user_override"`
	OAuthScope         string                      `json:"oauth_scope,omitempty"`
	// ACLRules holds optional Cedar policy text evaluated as a richer
	// overlay beyond glob patterns (spec §3 "acl_rules").
	ACLRules           []string                    `json:"acl_rules,omitempty"`
}

// Override is a per-actor, per-peer permission delta (spec §3
// TrustPermissionOverride) merged atop a trust type's base permissions.
type Override struct {
	ActorID     string                     `json:"-"`
	PeerID      string                     `json:"-"`
	Permissions map[Category]PermissionSet `json:"permissions"`
}

// Decision is the outcome of evaluating one (category, target, operation)
// request (spec §4.3 step 3).
type Decision int

// Decision values.
const (
	NotFound Decision = iota
	Allowed
	Denied
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "not_found"
	}
}

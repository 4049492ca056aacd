package access

import "encoding/json"

// UnmarshalJSON normalizes the legacy "allowed"/"denied" field names (and a
// bare list instead of a dict, historically seen for `acl_rules`-less trust
// types) onto the canonical PermissionSet shape (spec §9).
func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	var w wireShape
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Allowed = firstNonEmpty(w.Allowed, w.AllowedAlias)
	p.Operations = w.Operations
	p.Denied = firstNonEmpty(w.Denied, w.DeniedAlias)
	return nil
}

// MarshalJSON always writes the canonical dict shape.
func (p PermissionSet) MarshalJSON() ([]byte, error) {
	type canonical struct {
		Allowed    []string    `json:"patterns"`
		Operations []Operation `json:"operations,omitempty"`
		Denied     []string    `json:"excluded_patterns,omitempty"`
	}
	return json.Marshal(canonical{Allowed: p.Allowed, Operations: p.Operations, Denied: p.Denied})
}

func firstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

// nested.go implements dotted/slashed sub-path access into a property's
// JSON value (spec §4.1 "deep property paths"): a property stored as a
// JSON object can be read, written or deleted at an arbitrary nested key
// without touching the sibling keys.
package handlers

import (
	"encoding/json"
	"fmt"
	"strings"
)

func getNestedJSON(value []byte, subpath string) ([]byte, bool) {
	var cur any
	if err := json.Unmarshal(value, &cur); err != nil {
		return nil, false
	}
	for _, seg := range splitSegments(subpath) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	out, err := json.Marshal(cur)
	if err != nil {
		return nil, false
	}
	return out, true
}

func setNestedJSON(existing []byte, subpath string, value []byte) ([]byte, error) {
	var root map[string]any
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &root); err != nil {
			root = map[string]any{}
		}
	}
	if root == nil {
		root = map[string]any{}
	}

	var leaf any
	if err := json.Unmarshal(value, &leaf); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}

	segs := splitSegments(subpath)
	node := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			node[seg] = leaf
			break
		}
		next, ok := node[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[seg] = next
		}
		node = next
	}
	return json.Marshal(root)
}

func deleteNestedJSON(existing []byte, subpath string) ([]byte, error) {
	var root map[string]any
	if err := json.Unmarshal(existing, &root); err != nil {
		return nil, fmt.Errorf("decoding existing value: %w", err)
	}

	segs := splitSegments(subpath)
	node := root
	for i, seg := range segs {
		if i == len(segs)-1 {
			delete(node, seg)
			break
		}
		next, ok := node[seg].(map[string]any)
		if !ok {
			return json.Marshal(root)
		}
		node = next
	}
	return json.Marshal(root)
}

func splitSegments(subpath string) []string {
	subpath = strings.Trim(subpath, "/")
	if subpath == "" {
		return nil
	}
	return strings.Split(subpath, "/")
}

// Package subscriptions implements the subscription engine and diff
// registration path (spec §4.4): it is the actor.DiffRegistrar every
// property/list write notifies, matches the write against standing
// subscriptions, checks the subscriber's trust for read access, and
// hands matching diffs off to the fan-out manager.
package subscriptions

import (
	"github.com/actingweb/aw/pkg/access"
	"github.com/actingweb/aw/pkg/storage"
)

// Target values a write can be registered under (spec §4.4/§6).
const (
	TargetProperties = "properties"
	TargetLists      = "properties" // list properties share the properties namespace
)

// DiffType distinguishes a normal diff from a resync replacement (spec
// §4.5 callback envelope "type? ... absent => diff").
type DiffType string

// Diff types.
const (
	DiffTypeDiff   DiffType = "diff"
	DiffTypeResync DiffType = "resync"
)

// Job is one unit of outbound work handed to the fan-out manager: "go
// deliver subscription SubID's diff at SeqNr to PeerID".
type Job struct {
	ActorID     string
	PeerID      string
	SubID       string
	SeqNr       int64
	Granularity storage.Granularity
	Type        DiffType
}

// categoryFor maps a subscription/write target to the access-control
// category it is gated by (spec §4.3's categories, spec §4.4's targets).
func categoryFor(target string) access.Category {
	switch target {
	case TargetProperties:
		return access.CategoryProperties
	case "actions":
		return access.CategoryActions
	case "methods":
		return access.CategoryMethods
	case "resources":
		return access.CategoryResources
	default:
		return access.CategoryProperties
	}
}

// subtargetMatches reports whether a subscription's subtarget covers a
// write's subtarget: an empty subscription subtarget subscribes broadly
// to the whole target (spec §4.4: "exact, broader, or more specific").
func subtargetMatches(subSubTarget, writeSubTarget string) bool {
	if subSubTarget == "" || writeSubTarget == "" {
		return true
	}
	if subSubTarget == writeSubTarget {
		return true
	}
	return hasPathPrefix(writeSubTarget, subSubTarget) || hasPathPrefix(subSubTarget, writeSubTarget)
}

// hasPathPrefix reports whether prefix is a "/"-delimited path prefix of
// s, supporting nested property subscriptions (e.g. subscribed to
// "profile" matches a write to "profile/address").
func hasPathPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	if s[:len(prefix)] != prefix {
		return false
	}
	return len(s) == len(prefix) || s[len(prefix)] == '/'
}

package handlers

import "strings"

// selfURL returns this engine's externally visible base URL for one
// actor, with no trailing slash.
func selfURL(deps *Deps, actorID string) string {
	return strings.TrimRight(deps.Config.SelfBaseURL, "/") + "/" + actorID
}

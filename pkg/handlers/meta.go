// meta.go implements the /meta discovery surface (spec §6): static and
// runtime-derived facts about this actor and the engine hosting it,
// with no access control (spec §6: "/meta is always readable").
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// protocolVersion is the ActingWeb wire-protocol version this engine
// implements (spec §6 /meta/actingweb/version).
const protocolVersion = "1.4"

func metaRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/", metaIndex(deps))
	r.Get("/*", metaPath(deps))
	return r
}

func metaIndex(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := actorContext(r)
		_ = writeJSON(w, http.StatusOK, metaDocument(deps, a.ID, a.Creator))
	}
}

// metaPath answers deep /meta/* paths: "actingweb/version",
// "actingweb/supported", "actingweb/formats", "trusttypes", or a bare
// top-level key of the meta document (spec §6's "dotted sub-path" form).
func metaPath(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := actorContext(r)
		path := strings.Trim(chi.URLParam(r, "*"), "/")
		doc := metaDocument(deps, a.ID, a.Creator)

		switch path {
		case "actingweb/version":
			writeText(w, protocolVersion)
			return
		case "actingweb/supported":
			writeText(w, strings.Join(deps.Actors.SupportedOptions(), ","))
			return
		case "actingweb/formats":
			writeText(w, "json")
			return
		case "trusttypes":
			writeText(w, strings.Join(deps.Registry.Names(), ","))
			return
		}

		parts := strings.SplitN(path, "/", 2)
		if v, ok := doc[parts[0]]; ok {
			_ = writeJSON(w, http.StatusOK, v)
			return
		}
		http.NotFound(w, r)
	}
}

func metaDocument(deps *Deps, actorID, creator string) map[string]any {
	return map[string]any{
		"id":      actorID,
		"creator": creator,
		"actingweb": map[string]any{
			"version":   protocolVersion,
			"supported": deps.Actors.SupportedOptions(),
			"formats":   []string{"json"},
		},
		"trusttypes": deps.Registry.Names(),
	}
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s))
}

// calls.go implements the callable-surface resource families (spec
// §4.6, §6): /methods, /actions, /tools, /resources and /prompts. Each
// family is access-checked against its own category, then dispatched
// through the typed hook registry.
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/actingweb/aw/pkg/access"
	apierrors "github.com/actingweb/aw/pkg/api/errors"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/hooks"
)

type callFamily struct {
	category access.Category
	kind     hooks.CallKind
}

var (
	familyMethods   = callFamily{access.CategoryMethods, hooks.CallMethod}
	familyActions   = callFamily{access.CategoryActions, hooks.CallAction}
	familyTools     = callFamily{access.CategoryTools, hooks.CallTool}
	familyResources = callFamily{access.CategoryResources, hooks.CallResource}
	familyPrompts   = callFamily{access.CategoryPrompts, hooks.CallPrompt}
)

func callRouter(deps *Deps, f callFamily) http.Handler {
	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(wrap2(deps, f, listCalls)))
	r.Get("/*", apierrors.ErrorHandler(wrap2(deps, f, invokeCall)))
	r.Post("/*", apierrors.ErrorHandler(wrap2(deps, f, invokeCall)))
	r.Put("/*", apierrors.ErrorHandler(wrap2(deps, f, invokeCall)))
	r.Delete("/*", apierrors.ErrorHandler(wrap2(deps, f, invokeCall)))
	return r
}

func wrap2(deps *Deps, f callFamily, fn func(*Deps, callFamily, http.ResponseWriter, *http.Request) error) apierrors.HandlerWithError {
	return func(w http.ResponseWriter, r *http.Request) error {
		return fn(deps, f, w, r)
	}
}

func listCalls(deps *Deps, f callFamily, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	if err := checkAccess(r.Context(), deps, rc, f.category, "", access.OpRead); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, deps.Hooks.Names(f.kind))
}

func invokeCall(deps *Deps, f callFamily, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	name := strings.Trim(chi.URLParam(r, "*"), "/")
	if name == "" {
		return awerrors.NewNotFoundError("no call name given", nil)
	}

	op := access.OpRead
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		op = access.OpWrite
	case http.MethodDelete:
		op = access.OpDelete
	}
	if err := checkAccess(r.Context(), deps, rc, f.category, name, op); err != nil {
		return err
	}

	params := map[string]any{"method": r.Method, "query": r.URL.Query()}
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		var body map[string]any
		if err := readJSON(r, &body); err != nil {
			return err
		}
		params["body"] = body
	}

	result, found, err := deps.Hooks.Dispatch(r.Context(), f.kind, rc, a.ID, name, params)
	if err == hooks.ErrAsyncAccepted {
		w.WriteHeader(http.StatusAccepted)
		return nil
	}
	if err != nil {
		return err
	}
	if !found {
		return awerrors.NewNotFoundError("no handler registered for "+name, nil)
	}
	return writeJSON(w, http.StatusOK, result)
}

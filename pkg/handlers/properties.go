// properties.go implements the /properties surface (spec §4.1, §6):
// scalar property CRUD with deep-path support, list property item
// operations, and list metadata, each gated by pkg/access and observed
// by pkg/hooks property hooks.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/actingweb/aw/pkg/access"
	apierrors "github.com/actingweb/aw/pkg/api/errors"
	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/hooks"
)

func propertiesRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(wrap(deps, listProperties)))
	r.Delete("/", apierrors.ErrorHandler(wrap(deps, deleteAllProperties)))
	r.Get("/*", apierrors.ErrorHandler(wrap(deps, getProperty)))
	r.Put("/*", apierrors.ErrorHandler(wrap(deps, putProperty)))
	r.Post("/*", apierrors.ErrorHandler(wrap(deps, putProperty)))
	r.Delete("/*", apierrors.ErrorHandler(wrap(deps, deleteProperty)))
	return r
}

func wrap(deps *Deps, fn func(*Deps, http.ResponseWriter, *http.Request) error) apierrors.HandlerWithError {
	return func(w http.ResponseWriter, r *http.Request) error {
		return fn(deps, w, r)
	}
}

// propertyPath splits the wildcard path segment, recognizing the
// "/items" and "/metadata" suffixes list properties answer to.
func propertyPath(r *http.Request) (name, subpath, suffix string) {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	for _, s := range []string{"items", "metadata"} {
		if raw == s || strings.HasSuffix(raw, "/"+s) {
			base := strings.TrimSuffix(raw, "/"+s)
			base = strings.TrimSuffix(base, s)
			name, subpath = splitPath(base)
			return name, subpath, s
		}
	}
	name, subpath = splitPath(raw)
	return name, subpath, ""
}

func splitPath(path string) (name, subpath string) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func listProperties(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, "", access.OpRead); err != nil {
		return err
	}
	props, err := a.List(r.Context())
	if err != nil {
		return err
	}
	out := make(map[string]json.RawMessage, len(props))
	for _, p := range props {
		out[p.Name] = json.RawMessage(p.Value)
	}
	return writeJSON(w, http.StatusOK, out)
}

func deleteAllProperties(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	rc := authContext(r)
	a := actorContext(r)
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, "", access.OpDelete); err != nil {
		return err
	}
	if err := a.DeleteAll(r.Context()); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func getProperty(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	name, subpath, suffix := propertyPath(r)
	switch suffix {
	case "items":
		return getListItems(deps, w, r, name)
	case "metadata":
		return getListMetadata(deps, w, r, name)
	}

	rc := authContext(r)
	a := actorContext(r)
	target := name
	if subpath != "" {
		target = name + "/" + subpath
	}
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, target, access.OpRead); err != nil {
		return err
	}

	value, err := a.Get(r.Context(), name)
	if err != nil {
		return err
	}
	if value == nil {
		return awerrors.NewNotFoundError("property not found", nil)
	}
	if subpath != "" {
		nested, ok := getNestedJSON(value, subpath)
		if !ok {
			return awerrors.NewNotFoundError("property sub-path not found", nil)
		}
		value = nested
	}

	value, err = deps.Hooks.DispatchProperty(r.Context(), rc, a.ID, target, hooks.PropertyGet, value)
	if err != nil {
		return err
	}
	return writeRaw(w, http.StatusOK, value)
}

func putProperty(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	name, subpath, suffix := propertyPath(r)
	switch suffix {
	case "items":
		return postListItems(deps, w, r, name)
	case "metadata":
		return putListMetadata(deps, w, r, name)
	}

	rc := authContext(r)
	a := actorContext(r)
	target := name
	if subpath != "" {
		target = name + "/" + subpath
	}
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, target, access.OpWrite); err != nil {
		return err
	}

	body, err := readBody(r)
	if err != nil {
		return err
	}

	op := hooks.PropertyPut
	if r.Method == http.MethodPost {
		op = hooks.PropertyPost
	}

	value := body
	if subpath != "" {
		existing, _ := a.Get(r.Context(), name)
		merged, err := setNestedJSON(existing, subpath, body)
		if err != nil {
			return awerrors.NewInvalidRequestError("merging nested property path", err)
		}
		value = merged
	}

	value, err = deps.Hooks.DispatchProperty(r.Context(), rc, a.ID, target, op, value)
	if err != nil {
		return err
	}

	if err := a.Set(r.Context(), name, value); err != nil {
		return err
	}
	if name == "email" {
		_ = a.MaybeForceEmailAsCreator(r.Context())
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func deleteProperty(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	name, subpath, suffix := propertyPath(r)
	if suffix == "items" {
		return deleteListItems(deps, w, r, name)
	}

	rc := authContext(r)
	a := actorContext(r)
	target := name
	if subpath != "" {
		target = name + "/" + subpath
	}
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, target, access.OpDelete); err != nil {
		return err
	}

	if _, err := deps.Hooks.DispatchProperty(r.Context(), rc, a.ID, target, hooks.PropertyDelete, nil); err != nil {
		return err
	}

	if subpath == "" {
		if err := a.Delete(r.Context(), name); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	existing, err := a.Get(r.Context(), name)
	if err != nil || existing == nil {
		return awerrors.NewNotFoundError("property not found", nil)
	}
	trimmed, err := deleteNestedJSON(existing, subpath)
	if err != nil {
		return awerrors.NewInvalidRequestError("removing nested property path", err)
	}
	if err := a.Set(r.Context(), name, trimmed); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- list property item/metadata operations ---

func getListItems(deps *Deps, w http.ResponseWriter, r *http.Request, name string) error {
	rc := authContext(r)
	a := actorContext(r)
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, name, access.OpRead); err != nil {
		return err
	}
	items, err := a.ListItems(r.Context(), name)
	if err != nil {
		return err
	}
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = json.RawMessage(it.Value)
	}
	return writeJSON(w, http.StatusOK, out)
}

type listItemRequest struct {
	Item  json.RawMessage   `json:"item,omitempty"`
	Items []json.RawMessage `json:"items,omitempty"`
}

func postListItems(deps *Deps, w http.ResponseWriter, r *http.Request, name string) error {
	rc := authContext(r)
	a := actorContext(r)
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, name, access.OpWrite); err != nil {
		return err
	}

	if idx, ok := queryIndex(r); ok {
		var item json.RawMessage
		if err := readJSON(r, &item); err != nil {
			return err
		}
		if err := a.InsertItem(r.Context(), name, idx, item); err != nil {
			return err
		}
		w.WriteHeader(http.StatusCreated)
		return nil
	}

	var req listItemRequest
	if err := readJSON(r, &req); err != nil {
		return err
	}
	if len(req.Items) > 0 {
		if err := a.Extend(r.Context(), name, req.Items); err != nil {
			return err
		}
		w.WriteHeader(http.StatusCreated)
		return nil
	}
	item := req.Item
	if item == nil {
		body, err := readBody(r)
		if err != nil {
			return err
		}
		item = body
	}
	idx, err := a.AppendItem(r.Context(), name, item)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]int{"index": idx})
}

func deleteListItems(deps *Deps, w http.ResponseWriter, r *http.Request, name string) error {
	rc := authContext(r)
	a := actorContext(r)
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, name, access.OpDelete); err != nil {
		return err
	}
	if idx, ok := queryIndex(r); ok {
		if err := a.DeleteItemAt(r.Context(), name, idx); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	if err := a.DeleteList(r.Context(), name); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func getListMetadata(deps *Deps, w http.ResponseWriter, r *http.Request, name string) error {
	rc := authContext(r)
	a := actorContext(r)
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, name, access.OpRead); err != nil {
		return err
	}
	m, err := a.GetListMetadata(r.Context(), name)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"description": m.Description,
		"explanation": m.Explanation,
		"length":      m.Length,
		"version":     m.Version,
	})
}

func putListMetadata(deps *Deps, w http.ResponseWriter, r *http.Request, name string) error {
	rc := authContext(r)
	a := actorContext(r)
	if err := checkAccess(r.Context(), deps, rc, access.CategoryProperties, name, access.OpWrite); err != nil {
		return err
	}
	var req struct {
		Description string `json:"description"`
		Explanation string `json:"explanation"`
	}
	if err := readJSON(r, &req); err != nil {
		return err
	}
	if err := a.PutListMetadata(r.Context(), name, req.Description, req.Explanation); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func queryIndex(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("index")
	if raw == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func readBody(r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	if err := readJSON(r, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

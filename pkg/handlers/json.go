package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	awerrors "github.com/actingweb/aw/pkg/errors"
)

// readJSON decodes the request body into v, wrapping decode failures as
// InvalidRequest errors (spec §7).
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		return awerrors.NewInvalidRequestError("reading request body", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return awerrors.NewInvalidRequestError("malformed JSON body", err)
	}
	return nil
}

// readRawBody reads the request body verbatim, for callback endpoints
// that pass the payload through to an application hook unparsed.
func readRawBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		return nil, awerrors.NewInvalidRequestError("reading request body", err)
	}
	return body, nil
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// writeRaw writes an opaque property value verbatim. Property values are
// application-serialized JSON per spec §3, so they are emitted as-is
// rather than re-encoded.
func writeRaw(w http.ResponseWriter, status int, value []byte) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(value) == 0 {
		_, err := w.Write([]byte("\"\""))
		return err
	}
	_, err := w.Write(value)
	return err
}

// Package errors provides HTTP error handling utilities for the API,
// mirroring the teacher's centralized-ErrorHandler decorator shape.
package errors

import (
	"encoding/json"
	"net/http"
	"strconv"

	awerrors "github.com/actingweb/aw/pkg/errors"
	"github.com/actingweb/aw/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
// This signature allows handlers to return errors instead of manually
// writing error responses, enabling centralized error handling.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

type errorBody struct {
	Error string `json:"error"`
}

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into appropriate HTTP responses.
//
// The decorator:
//   - Returns early if no error is returned (handler already wrote response)
//   - Extracts HTTP status code from the error using errors.Code()
//   - For 5xx errors: logs full error details, returns generic message to client
//   - For 4xx errors: returns error message to client
//   - Sets Retry-After for rate-limited errors and WWW-Authenticate for
//     unauthenticated ones (spec §7)
//
// Usage:
//
//	r.Get("/{name}", apierrors.ErrorHandler(routes.getProperty))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			// No error returned, handler already wrote the response
			return
		}

		code := awerrors.Code(err)

		var awErr *awerrors.Error
		if awerrors.As(err, &awErr) {
			if awErr.Kind == awerrors.KindRateLimited && awErr.RetryAfterSeconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(awErr.RetryAfterSeconds))
			}
			if awErr.Kind == awerrors.KindUnauthenticated {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Errorf("internal server error: %v", err)
			writeJSONError(w, code, http.StatusText(code))
			return
		}

		writeJSONError(w, code, err.Error())
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}

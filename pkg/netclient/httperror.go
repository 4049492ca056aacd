// Package netclient builds the outbound HTTP clients used for all
// peer-to-peer ActingWeb traffic (trust verification, subscription
// callbacks, capability fetches), grounded on the teacher's
// pkg/networking HttpClientBuilder (connect/read timeout split, CA
// bundle, private-IP gating) — see pkg/networking/http_client_test.go
// and http_error_test.go, retrieved as test-only files with no surviving
// implementation, so those tests are this package's grounding artifact.
package netclient

import (
	"errors"
	"fmt"
)

// HTTPError wraps a non-2xx HTTP response from a peer call.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// NewHTTPError constructs an *HTTPError.
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{StatusCode: statusCode, URL: url, Message: message}
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// IsHTTPError reports whether err is an *HTTPError, optionally requiring a
// specific status code (0 matches any).
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return statusCode == 0 || httpErr.StatusCode == statusCode
}

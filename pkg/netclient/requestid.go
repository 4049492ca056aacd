package netclient

import (
	"context"
	"net/http"
)

type requestIDKeyType struct{}

// requestIDKey is the context key WithRequestID (called by pkg/handlers'
// correlation middleware) stores the inbound request id under, and the one PropagateRequestID
// reads back out before every outbound peer call (spec §5: "an inbound
// X-Request-ID is preserved and a X-Parent-Request-ID is added to
// outbound peer calls").
var requestIDKey = requestIDKeyType{}

// ParentRequestIDHeader is the outbound header name carrying the
// correlating request id of whichever inbound request triggered this
// peer call.
const ParentRequestIDHeader = "X-Parent-Request-ID"

// WithRequestID returns a context carrying id for later propagation by
// PropagateRequestID.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// PropagateRequestID sets X-Parent-Request-ID on an outbound request
// from whatever request id was stashed in ctx by WithRequestID, if any.
func PropagateRequestID(ctx context.Context, req *http.Request) {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		req.Header.Set(ParentRequestIDHeader, id)
	}
}

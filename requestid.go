package pipeline

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// DefaultRequestIDHeader is used by RequestID when no header is given.
const DefaultRequestIDHeader = "X-Request-ID"

// MaxRequestIDLength bounds inbound request IDs. Longer values are replaced
// with a generated ID.
const MaxRequestIDLength = 128

const requestIDKey contextKey = "requestID"

// RequestID returns middleware that tags every request with an ID. An ID
// already present in header is kept if it is at most MaxRequestIDLength
// bytes long; otherwise a new UUID is generated.
// The ID is stored in the context and echoed on the response.
//
// RequestID should run before Logger so the log line carries the ID.
func RequestID(header string) Middleware {
	if header == "" {
		header = DefaultRequestIDHeader
	}

	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		id := r.Header.Get(header)
		if id == "" || len(id) > MaxRequestIDLength {
			id = uuid.New().String()
		}

		ctx = WithRequestID(ctx, id)
		resp, err := next.Handle(ctx, r.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		return WithHeader(resp, header, id), nil
	})
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

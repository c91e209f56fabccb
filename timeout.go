package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Timeout returns middleware that gives the rest of the chain a deadline of
// d. The chain is not interrupted; handlers are expected to honour ctx. If
// it returns context.DeadlineExceeded because this deadline passed, the
// request is answered with 504. Deadlines from the caller's context or from
// downstream clients are returned unchanged.
func Timeout(d time.Duration) Middleware {
	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		if d <= 0 {
			return next.Handle(ctx, r)
		}

		parent := ctx
		ctx, cancel := context.WithTimeout(parent, d)
		defer cancel()

		resp, err := next.Handle(ctx, r.WithContext(ctx))
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
			return JSON(http.StatusGatewayTimeout, map[string]string{"error": "request timed out"}), nil
		}
		return resp, err
	})
}

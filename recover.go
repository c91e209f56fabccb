package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// PanicError is returned by Recover when the rest of the chain panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover returns middleware that turns a panic in the rest of the chain
// into a *PanicError.
func Recover() Middleware {
	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (resp Response, err error) {
		defer func() {
			if v := recover(); v != nil {
				stack := debug.Stack()
				log.Error().
					Interface("error", v).
					Str("stack", string(stack)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				resp = nil
				err = &PanicError{Value: v, Stack: stack}
			}
		}()
		return next.Handle(ctx, r)
	})
}

package pipeline

import (
	"context"
	"net/http"
)

// RequestHandler handles a request and produces a Response.
// Pipeline and Chain both implement it, so a composed pipeline can be used
// anywhere a plain handler is expected, including as another pipeline's
// final handler.
type RequestHandler interface {
	Handle(ctx context.Context, r *http.Request) (Response, error)
}

// HandlerFunc adapts an ordinary function to a RequestHandler.
// It is the callable form of a final handler.
type HandlerFunc func(ctx context.Context, r *http.Request) (Response, error)

// Handle calls f(ctx, r).
func (f HandlerFunc) Handle(ctx context.Context, r *http.Request) (Response, error) {
	return f(ctx, r)
}

// Middleware can intercept requests before they reach the rest of the chain,
// modify the context, short-circuit the request, or wrap the response.
//
// Calling next.Handle continues the chain. Returning without calling it
// short-circuits: the remaining middleware and the final handler never run.
type Middleware interface {
	Process(ctx context.Context, r *http.Request, next RequestHandler) (Response, error)
}

// MiddlewareFunc adapts an ordinary function to a Middleware.
type MiddlewareFunc func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error)

// Process calls f(ctx, r, next).
func (f MiddlewareFunc) Process(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
	return f(ctx, r, next)
}

// Wrap turns a decorator into a Middleware.
//
// Example:
//
//	timing := pipeline.Wrap(func(next pipeline.RequestHandler) pipeline.RequestHandler {
//	    return pipeline.HandlerFunc(func(ctx context.Context, r *http.Request) (pipeline.Response, error) {
//	        start := time.Now()
//	        defer func() { fmt.Println(time.Since(start)) }()
//	        return next.Handle(ctx, r)
//	    })
//	})
func Wrap(decorate func(RequestHandler) RequestHandler) Middleware {
	if decorate == nil {
		return nil
	}
	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		return decorate(next).Handle(ctx, r)
	})
}

// asMiddleware resolves an untyped value into a Middleware.
func asMiddleware(v any) (Middleware, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case MiddlewareFunc:
		return m, m != nil
	case Middleware:
		return m, true
	case func(context.Context, *http.Request, RequestHandler) (Response, error):
		return MiddlewareFunc(m), m != nil
	case func(RequestHandler) RequestHandler:
		if m == nil {
			return nil, false
		}
		return Wrap(m), true
	}
	return nil, false
}

// asHandler resolves an untyped value into a final handler.
func asHandler(v any) (RequestHandler, bool) {
	switch h := v.(type) {
	case nil:
		return nil, false
	case HandlerFunc:
		return h, h != nil
	case RequestHandler:
		return h, true
	case func(context.Context, *http.Request) (Response, error):
		return HandlerFunc(h), h != nil
	case func(context.Context, *http.Request) Response:
		if h == nil {
			return nil, false
		}
		return HandlerFunc(func(ctx context.Context, r *http.Request) (Response, error) {
			return h(ctx, r), nil
		}), true
	}
	return nil, false
}

// Package pipeline composes middleware and a final handler into a single
// request handler.
//
// Middleware run in the order they were added. Each one receives the rest of
// the chain as its next handler, so it can act before and after the call or
// answer the request itself without calling next at all:
//
//	p := pipeline.New(finalHandler).
//	    Add(pipeline.RequestID("")).
//	    Add(pipeline.RequireAuth(secret))
//
//	resp, err := p.Handle(ctx, r)
//
// A Pipeline is the mutable setup phase. Compile freezes it into a Chain,
// which never changes and may serve any number of concurrent requests.
package pipeline

import (
	"context"
	"net/http"
	"sync"
)

// Pipeline collects middleware in front of a final handler.
type Pipeline struct {
	mu         sync.RWMutex
	middleware []Middleware
	final      RequestHandler
}

// New creates a pipeline that ends in final. A nil final handler is reported
// as a ConfigurationError when the pipeline first reaches it.
func New(final RequestHandler) *Pipeline {
	return &Pipeline{final: final}
}

// NewFromValue creates a pipeline from an untyped final handler. It accepts a
// RequestHandler, a HandlerFunc, a func(context.Context, *http.Request)
// (Response, error) or a func(context.Context, *http.Request) Response.
func NewFromValue(final any) (*Pipeline, error) {
	h, ok := asHandler(final)
	if !ok {
		return nil, &ConfigurationError{Value: final}
	}
	return New(h), nil
}

// Add appends m to the end of the pipeline and returns the pipeline.
// A nil m is accepted here and fails with InvalidMiddlewareError when a
// request reaches it.
func (p *Pipeline) Add(m Middleware) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.middleware = append(p.middleware, m)
	return p
}

// AddMultiple appends every entry of list in order. Entries may be
// Middleware values, middleware funcs or decorators of the form
// func(RequestHandler) RequestHandler.
//
// The first entry that is none of those aborts the call with an
// InvalidMiddlewareError and nothing from list is added.
func (p *Pipeline) AddMultiple(list ...any) (*Pipeline, error) {
	resolved := make([]Middleware, 0, len(list))
	for i, v := range list {
		m, ok := asMiddleware(v)
		if !ok {
			return p, &InvalidMiddlewareError{Index: i, Value: v}
		}
		resolved = append(resolved, m)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.middleware = append(p.middleware, resolved...)
	return p, nil
}

// Len returns the number of middleware added so far.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.middleware)
}

// Compile returns an immutable snapshot of the pipeline. Later calls to Add
// do not affect the returned Chain.
func (p *Pipeline) Compile() *Chain {
	p.mu.RLock()
	defer p.mu.RUnlock()
	middleware := make([]Middleware, len(p.middleware))
	copy(middleware, p.middleware)
	return &Chain{middleware: middleware, final: p.final}
}

// Handle runs r through a snapshot of the pipeline. Every call traverses the
// full chain, so a pipeline may be handled repeatedly and concurrently.
// Servers that handle many requests should Compile once instead.
func (p *Pipeline) Handle(ctx context.Context, r *http.Request) (Response, error) {
	return p.Compile().Handle(ctx, r)
}

// Chain is a compiled pipeline. It is safe for concurrent use.
type Chain struct {
	middleware []Middleware
	final      RequestHandler
}

// Len returns the number of middleware in the chain.
func (c *Chain) Len() int {
	return len(c.middleware)
}

// Handle runs r through every middleware in order and then the final
// handler, unless a middleware short-circuits.
func (c *Chain) Handle(ctx context.Context, r *http.Request) (Response, error) {
	return cursor{chain: c}.Handle(ctx, r)
}

// cursor is the next handler given to the middleware at position index-1.
// Each traversal walks its own cursors; the chain itself is never consumed.
type cursor struct {
	chain *Chain
	index int
}

func (n cursor) Handle(ctx context.Context, r *http.Request) (Response, error) {
	if n.index >= len(n.chain.middleware) {
		if isNilHandler(n.chain.final) {
			return nil, &ConfigurationError{}
		}
		return n.chain.final.Handle(ctx, r)
	}

	m := n.chain.middleware[n.index]
	if isNilMiddleware(m) {
		return nil, &InvalidMiddlewareError{Index: n.index}
	}

	return m.Process(ctx, r, cursor{chain: n.chain, index: n.index + 1})
}

func isNilMiddleware(m Middleware) bool {
	if m == nil {
		return true
	}
	if f, ok := m.(MiddlewareFunc); ok && f == nil {
		return true
	}
	return false
}

func isNilHandler(h RequestHandler) bool {
	if h == nil {
		return true
	}
	if f, ok := h.(HandlerFunc); ok && f == nil {
		return true
	}
	return false
}

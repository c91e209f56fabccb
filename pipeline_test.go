package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// recorder collects the order in which chain steps run.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recorder) expect(t *testing.T, expected ...string) {
	t.Helper()
	if len(r.steps) != len(expected) {
		t.Fatalf("expected %d steps, got %d: %v", len(expected), len(r.steps), r.steps)
	}
	for i, step := range expected {
		if r.steps[i] != step {
			t.Errorf("step %d: expected %s, got %s", i, step, r.steps[i])
		}
	}
}

func tracing(rec *recorder, name string) Middleware {
	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		rec.add(name + "-before")
		resp, err := next.Handle(ctx, r)
		rec.add(name + "-after")
		return resp, err
	})
}

func finalText(rec *recorder, body string) HandlerFunc {
	return func(ctx context.Context, r *http.Request) (Response, error) {
		if rec != nil {
			rec.add("final")
		}
		return Text(http.StatusOK, body), nil
	}
}

// prefix prepends p to the text body after the rest of the chain returns.
func prefix(p string) Middleware {
	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		resp, err := next.Handle(ctx, r)
		if err != nil {
			return nil, err
		}
		text := resp.(TextResponse)
		text.Body = p + text.Body
		return text, nil
	})
}

func bodyOf(t *testing.T, resp Response) string {
	t.Helper()
	text, ok := resp.(TextResponse)
	if !ok {
		t.Fatalf("expected TextResponse, got %T", resp)
	}
	return text.Body
}

func newRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/test", nil)
}

func TestOnionOrder(t *testing.T) {
	rec := &recorder{}
	p := New(finalText(rec, "OK")).
		Add(tracing(rec, "m0")).
		Add(tracing(rec, "m1")).
		Add(tracing(rec, "m2"))

	if _, err := p.Handle(context.Background(), newRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.expect(t,
		"m0-before", "m1-before", "m2-before",
		"final",
		"m2-after", "m1-after", "m0-after",
	)
}

func TestPostProcessingIsReversed(t *testing.T) {
	p := New(finalText(nil, "OK")).
		Add(prefix("A:")).
		Add(prefix("B:"))

	resp, err := p.Handle(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if body := bodyOf(t, resp); body != "A:B:OK" {
		t.Errorf("expected A:B:OK, got %s", body)
	}
}

func TestShortCircuit(t *testing.T) {
	rec := &recorder{}
	blocked := Text(http.StatusForbidden, "blocked")
	gate := MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		rec.add("gate")
		return blocked, nil
	})

	p := New(finalText(rec, "OK")).
		Add(tracing(rec, "m0")).
		Add(gate).
		Add(tracing(rec, "m2"))

	resp, err := p.Handle(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp != blocked {
		t.Errorf("expected the gate's response, got %#v", resp)
	}
	rec.expect(t, "m0-before", "gate", "m0-after")
}

func TestEmptyPipeline(t *testing.T) {
	req := newRequest()
	var got *http.Request
	want := Text(http.StatusTeapot, "final")

	p := New(HandlerFunc(func(ctx context.Context, r *http.Request) (Response, error) {
		got = r
		return want, nil
	}))

	resp, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != want {
		t.Errorf("expected final handler response unchanged, got %#v", resp)
	}
	if got != req {
		t.Error("final handler did not receive the original request")
	}
}

// A second Handle runs the whole chain again. Traversal never consumes the
// configured middleware.
func TestHandleIsRepeatable(t *testing.T) {
	rec := &recorder{}
	p := New(finalText(rec, "OK")).Add(tracing(rec, "m0"))

	for i := 0; i < 2; i++ {
		if _, err := p.Handle(context.Background(), newRequest()); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	rec.expect(t,
		"m0-before", "final", "m0-after",
		"m0-before", "final", "m0-after",
	)
	if p.Len() != 1 {
		t.Errorf("expected pipeline to keep 1 middleware, got %d", p.Len())
	}
}

func TestNextCalledTwiceRerunsRemainder(t *testing.T) {
	rec := &recorder{}
	retry := MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		if _, err := next.Handle(ctx, r); err != nil {
			return nil, err
		}
		return next.Handle(ctx, r)
	})

	p := New(finalText(rec, "OK")).Add(retry).Add(tracing(rec, "inner"))
	if _, err := p.Handle(context.Background(), newRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.expect(t,
		"inner-before", "final", "inner-after",
		"inner-before", "final", "inner-after",
	)
}

func TestInvalidMiddlewareFailsAtDequeue(t *testing.T) {
	rec := &recorder{}
	p := New(finalText(rec, "OK")).
		Add(tracing(rec, "m0")).
		Add(nil).
		Add(tracing(rec, "m2"))

	_, err := p.Handle(context.Background(), newRequest())
	if !errors.Is(err, ErrInvalidMiddleware) {
		t.Fatalf("expected ErrInvalidMiddleware, got %v", err)
	}

	var invalid *InvalidMiddlewareError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidMiddlewareError, got %T", err)
	}
	if invalid.Index != 1 {
		t.Errorf("expected index 1, got %d", invalid.Index)
	}

	// m0 ran before the bad entry was reached; nothing after it did.
	rec.expect(t, "m0-before", "m0-after")
}

func TestTypedNilMiddlewareFuncIsInvalid(t *testing.T) {
	var nilFunc MiddlewareFunc
	_, err := New(finalText(nil, "OK")).Add(nilFunc).Handle(context.Background(), newRequest())
	if !errors.Is(err, ErrInvalidMiddleware) {
		t.Fatalf("expected ErrInvalidMiddleware, got %v", err)
	}
}

func TestNilFinalHandler(t *testing.T) {
	rec := &recorder{}
	p := New(nil).Add(tracing(rec, "m0"))

	_, err := p.Handle(context.Background(), newRequest())
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	rec.expect(t, "m0-before", "m0-after")

	var nilFunc HandlerFunc
	if _, err := New(nilFunc).Handle(context.Background(), newRequest()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for nil HandlerFunc, got %v", err)
	}
}

func TestNewFromValue(t *testing.T) {
	plain := func(ctx context.Context, r *http.Request) Response {
		return Text(http.StatusOK, "plain")
	}
	withErr := func(ctx context.Context, r *http.Request) (Response, error) {
		return Text(http.StatusOK, "with-error"), nil
	}
	nested := New(finalText(nil, "nested"))

	tests := []struct {
		name  string
		final any
		body  string
	}{
		{"plain func", plain, "plain"},
		{"func with error", withErr, "with-error"},
		{"HandlerFunc", finalText(nil, "handler-func"), "handler-func"},
		{"RequestHandler", nested, "nested"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFromValue(tt.final)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp, err := p.Handle(context.Background(), newRequest())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if body := bodyOf(t, resp); body != tt.body {
				t.Errorf("expected %s, got %s", tt.body, body)
			}
		})
	}
}

func TestNewFromValueRejectsUnknownShapes(t *testing.T) {
	for _, v := range []any{nil, "handler", 42, func() {}} {
		_, err := NewFromValue(v)
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("%T: expected ErrConfiguration, got %v", v, err)
		}
	}
}

func TestAddMultiple(t *testing.T) {
	rec := &recorder{}
	decorator := func(next RequestHandler) RequestHandler {
		return HandlerFunc(func(ctx context.Context, r *http.Request) (Response, error) {
			rec.add("decorator")
			return next.Handle(ctx, r)
		})
	}
	plain := func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		rec.add("plain")
		return next.Handle(ctx, r)
	}

	p, err := New(finalText(rec, "OK")).AddMultiple(tracing(rec, "m0"), decorator, plain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 middleware, got %d", p.Len())
	}

	if _, err := p.Handle(context.Background(), newRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.expect(t, "m0-before", "decorator", "plain", "final", "m0-after")
}

// Non-conforming entries fail the whole call instead of being dropped.
func TestAddMultipleFailsFast(t *testing.T) {
	rec := &recorder{}
	p := New(finalText(rec, "OK")).Add(tracing(rec, "existing"))

	_, err := p.AddMultiple(tracing(rec, "m0"), "not middleware", tracing(rec, "m2"))
	if !errors.Is(err, ErrInvalidMiddleware) {
		t.Fatalf("expected ErrInvalidMiddleware, got %v", err)
	}

	var invalid *InvalidMiddlewareError
	if !errors.As(err, &invalid) || invalid.Index != 1 || invalid.Value != "not middleware" {
		t.Errorf("expected index 1 with the offending value, got %+v", invalid)
	}
	if p.Len() != 1 {
		t.Errorf("expected nothing from the failed call to be added, got %d middleware", p.Len())
	}

	if _, err := p.AddMultiple(nil); !errors.Is(err, ErrInvalidMiddleware) {
		t.Errorf("expected nil entry to be rejected, got %v", err)
	}
}

func TestCompileSnapshot(t *testing.T) {
	rec := &recorder{}
	p := New(finalText(rec, "OK")).Add(tracing(rec, "m0"))
	chain := p.Compile()
	p.Add(tracing(rec, "late"))

	if chain.Len() != 1 {
		t.Fatalf("expected compiled chain to keep 1 middleware, got %d", chain.Len())
	}
	if _, err := chain.Handle(context.Background(), newRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.expect(t, "m0-before", "final", "m0-after")
}

func TestPipelineAsFinalHandler(t *testing.T) {
	inner := New(finalText(nil, "OK")).Add(prefix("inner:"))
	outer := New(inner).Add(prefix("outer:"))

	resp, err := outer.Handle(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := bodyOf(t, resp); body != "outer:inner:OK" {
		t.Errorf("expected outer:inner:OK, got %s", body)
	}
}

func TestErrorsPropagateUnchanged(t *testing.T) {
	boom := errors.New("boom")
	p := New(HandlerFunc(func(ctx context.Context, r *http.Request) (Response, error) {
		return nil, boom
	})).Add(prefix("A:"))

	_, err := p.Handle(context.Background(), newRequest())
	if err != boom {
		t.Errorf("expected the final handler's error, got %v", err)
	}
}

func TestMiddlewareCanReplaceContext(t *testing.T) {
	type key struct{}
	set := MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		return next.Handle(context.WithValue(ctx, key{}, "value"), r)
	})
	final := HandlerFunc(func(ctx context.Context, r *http.Request) (Response, error) {
		v, _ := ctx.Value(key{}).(string)
		return Text(http.StatusOK, v), nil
	})

	resp, err := New(final).Add(set).Handle(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := bodyOf(t, resp); body != "value" {
		t.Errorf("expected value from context, got %q", body)
	}
}

func TestChainConcurrentTraversals(t *testing.T) {
	chain := New(finalText(nil, "OK")).
		Add(prefix("A:")).
		Add(prefix("B:")).
		Compile()

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := chain.Handle(context.Background(), newRequest())
			if err != nil {
				errs <- err.Error()
				return
			}
			if text := resp.(TextResponse); text.Body != "A:B:OK" {
				errs <- text.Body
			}
		}()
	}

	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("unexpected result from concurrent traversal: %s", e)
	}
}

func BenchmarkChainHandle(b *testing.B) {
	p := New(finalText(nil, "OK"))
	for i := 0; i < 10; i++ {
		p.Add(MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
			return next.Handle(ctx, r)
		}))
	}
	chain := p.Compile()
	req := newRequest()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chain.Handle(ctx, req)
	}
}

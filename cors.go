package pipeline

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS config for development
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// CORS returns middleware that adds CORS headers to every response.
// Preflight requests (OPTIONS with Access-Control-Request-Method) are
// answered with 204 without running the rest of the chain.
func CORS(cfg CORSConfig) Middleware {
	headers := make(http.Header)
	if len(cfg.AllowedMethods) > 0 {
		headers.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	}
	if len(cfg.AllowedHeaders) > 0 {
		headers.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
	}
	if len(cfg.ExposedHeaders) > 0 {
		headers.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
	}
	if cfg.AllowCredentials {
		headers.Set("Access-Control-Allow-Credentials", "true")
	}
	if cfg.MaxAge > 0 {
		headers.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
	}
	wildcard := slices.Contains(cfg.AllowedOrigins, "*")

	decorate := func(resp Response, origin string) Response {
		h := headers.Clone()
		switch {
		case wildcard:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(cfg.AllowedOrigins, origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		return &HeaderResponse{Response: resp, Header: h}
	}

	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		origin := r.Header.Get("Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			return decorate(NoContent(http.StatusNoContent), origin), nil
		}

		resp, err := next.Handle(ctx, r)
		if err != nil || resp == nil {
			return resp, err
		}
		return decorate(resp, origin), nil
	})
}

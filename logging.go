package pipeline

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger. Console output is used
// for the "development" environment, JSON lines otherwise.
func SetupLogging(level, environment string) {
	var out io.Writer = os.Stderr
	if environment == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// ParseLevel maps a config log level to zerolog. Unknown values mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns middleware that logs one line per request once the rest of
// the chain has returned.
func Logger(logger zerolog.Logger) Middleware {
	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		start := time.Now()

		resp, err := next.Handle(ctx, r)

		event := logger.Info()
		status := StatusOf(resp)
		switch {
		case err != nil:
			event = logger.Error().Err(err)
			status = http.StatusInternalServerError
		case resp == nil:
			event = logger.Error()
			status = http.StatusInternalServerError
		}
		if id := GetRequestID(ctx); id != "" {
			event = event.Str("request_id", id)
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request completed")

		return resp, err
	})
}

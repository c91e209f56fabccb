package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Jack4Code/pipeline/config"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// App interface
type App interface {
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	Routes() []Route
}

// Route represents an HTTP route
type Route struct {
	Method     string
	Path       string
	Handler    RequestHandler
	Middleware []Middleware // Optional per-route middleware, run after the global ones

	// Protected puts RequireAuth in front of the route's own middleware.
	Protected bool
}

// RouterOptions controls how NewRouter builds each route's chain.
type RouterOptions struct {
	// Global middleware run first, in order, on every route.
	Global []Middleware

	// JWTSecret is required when any route is Protected.
	JWTSecret string
}

// NewRouter compiles one chain per route and registers it on a gorilla/mux
// router. Chains are built once here and shared by every request to the
// route.
//
// Paths without an explicit OPTIONS route get one whose chain runs only the
// global middleware and then answers 204, so CORS preflights are handled
// and route handlers never see OPTIONS requests.
func NewRouter(routes []Route, opts RouterOptions) (*mux.Router, error) {
	router := mux.NewRouter()

	var paths []string
	hasOptions := make(map[string]bool)

	for _, route := range routes {
		if route.Handler == nil {
			return nil, fmt.Errorf("route %s %s: %w", route.Method, route.Path, &ConfigurationError{})
		}

		p := New(route.Handler)
		for _, m := range opts.Global {
			p.Add(m)
		}
		if route.Protected {
			if opts.JWTSecret == "" {
				return nil, fmt.Errorf("route %s %s is protected but no JWT secret is configured: %w",
					route.Method, route.Path, ErrConfiguration)
			}
			p.Add(RequireAuth(opts.JWTSecret))
		}
		for _, m := range route.Middleware {
			p.Add(m)
		}

		router.Handle(route.Path, ServeChain(p.Compile())).Methods(route.Method)

		if _, seen := hasOptions[route.Path]; !seen {
			paths = append(paths, route.Path)
		}
		hasOptions[route.Path] = hasOptions[route.Path] || route.Method == http.MethodOptions
	}

	preflight := New(HandlerFunc(func(ctx context.Context, r *http.Request) (Response, error) {
		return NoContent(http.StatusNoContent), nil
	}))
	for _, m := range opts.Global {
		preflight.Add(m)
	}
	options := ServeChain(preflight.Compile())

	for _, path := range paths {
		if !hasOptions[path] {
			router.Handle(path, options).Methods(http.MethodOptions)
		}
	}

	return router, nil
}

// ServeChain adapts a RequestHandler to http.Handler. An error from the
// chain is logged and answered with 500.
func ServeChain(h RequestHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()

		response, err := h.Handle(ctx, req)
		if err == nil && response == nil {
			err = errors.New("pipeline: chain returned no response")
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("request_id", GetRequestID(ctx)).
				Msg("Request failed")
			response = Error(map[string]string{"error": "internal server error"})
		}

		if err := response.Write(ctx, w); err != nil {
			log.Error().Err(err).Str("path", req.URL.Path).Msg("Failed to write response")
		}
	})
}

// GlobalMiddleware returns the middleware Run puts in front of every route,
// as selected by cfg. metrics may be nil.
func GlobalMiddleware(cfg config.PipelineConfig, corsConfig CORSConfig, metrics *Metrics) []Middleware {
	middleware := []Middleware{RequestID(cfg.RequestIDHeader)}
	if cfg.AccessLog {
		middleware = append(middleware, Logger(log.Logger))
	}
	if metrics != nil {
		middleware = append(middleware, Instrument(metrics))
	}
	middleware = append(middleware, Recover())

	if len(cfg.CORSAllowedOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.CORSAllowedOrigins
	}
	middleware = append(middleware, CORS(corsConfig))

	if cfg.RequestTimeout > 0 {
		middleware = append(middleware, Timeout(cfg.RequestTimeout))
	}
	return middleware
}

func Run(app App, cfg config.BaseConfig) error {
	return RunWithCORS(app, cfg, DefaultCORSConfig())
}

// RunWithCORS starts the health server, calls app.OnStart, serves the app's
// routes (and /metrics when enabled) and blocks until SIGINT or SIGTERM or
// until a server fails. Servers are then shut down gracefully and
// app.OnStop is called.
func RunWithCORS(app App, cfg config.BaseConfig, corsConfig CORSConfig) error {
	SetupLogging(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	var servers []*http.Server
	serve := func(name string, srv *http.Server) {
		servers = append(servers, srv)
		g.Go(func() error {
			log.Info().Str("server", name).Str("addr", srv.Addr).Msg("Starting server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", name, err)
			}
			return nil
		})
	}

	// Start health server BEFORE calling OnStart
	// This way Nomad/K8s can see the container is alive
	healthStatus := newHealthStatus()
	serve("health", newHealthServer(addr(cfg.GetHealthPort()), healthStatus))

	if err := app.OnStart(ctx); err != nil {
		stop()
		shutdown(servers)
		g.Wait()
		return fmt.Errorf("failed to start app: %w", err)
	}
	healthStatus.SetHealthy(true)

	var metrics *Metrics
	if cfg.Pipeline.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = NewMetrics(cfg.Pipeline.MetricsNamespace, reg)
		serve("metrics", newMetricsServer(addr(cfg.GetMetricsPort()), reg))
	}

	routes := app.Routes()
	if len(routes) == 0 {
		log.Info().Msg("No HTTP routes, running in background mode")
	} else {
		router, err := NewRouter(routes, RouterOptions{
			Global:    GlobalMiddleware(cfg.Pipeline, corsConfig, metrics),
			JWTSecret: cfg.Pipeline.JWTSecret,
		})
		if err != nil {
			stop()
			shutdown(servers)
			g.Wait()
			return fmt.Errorf("failed to build routes: %w", err)
		}
		serve("http", &http.Server{
			Addr:              addr(cfg.GetHTTPPort()),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	// Servers are up, mark as ready
	healthStatus.SetReady(true)

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down servers...")

		// Mark as not ready (stop accepting new traffic)
		healthStatus.SetReady(false)
		shutdown(servers)
		return nil
	})

	err := g.Wait()

	if stopErr := app.OnStop(context.Background()); stopErr != nil {
		log.Error().Err(stopErr).Msg("Error during OnStop")
	}

	log.Info().Msg("Servers stopped")
	return err
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:    addr,
		Handler: handler,
	}
}

// shutdown gracefully stops every server within 30 seconds.
func shutdown(servers []*http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("Server forced to shutdown")
		}
	}
}

func addr(port int) string {
	return ":" + strconv.Itoa(port)
}

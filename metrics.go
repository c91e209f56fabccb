package pipeline

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors recorded by the Instrument
// middleware.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace and registers them with
// reg. A nil reg skips registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled by the pipeline",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent in the rest of the chain",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Requests whose chain returned an error",
			},
			[]string{"method"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.ErrorsTotal)
	}
	return m
}

// Instrument returns middleware that records request counts, durations and
// errors for the rest of the chain.
func Instrument(m *Metrics) Middleware {
	return MiddlewareFunc(func(ctx context.Context, r *http.Request, next RequestHandler) (Response, error) {
		start := time.Now()
		resp, err := next.Handle(ctx, r)
		m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())

		if err != nil {
			m.ErrorsTotal.WithLabelValues(r.Method).Inc()
			m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(http.StatusInternalServerError)).Inc()
			return resp, err
		}

		status := http.StatusInternalServerError
		if resp != nil {
			status = StatusOf(resp)
		}
		m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		return resp, nil
	})
}

// Package metrics holds the Prometheus collectors of a generation run.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stacgen"

// Outcome labels.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics groups the collectors. Each instance owns its registry, so tests
// and concurrent runs do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	Products *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Misses   prometheus.Counter
	InFlight prometheus.Gauge
}

// New registers a fresh set of collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Products: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_total",
			Help:      "Products processed, by product type and outcome.",
		}, []string{"product_type", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "product_duration_seconds",
			Help:      "Time to resolve and generate one product.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"product_type"}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_misses_total",
			Help:      "Rules whose query matched nothing.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "products_in_flight",
			Help:      "Products currently being processed.",
		}),
	}
	m.Registry.MustRegister(m.Products, m.Duration, m.Misses, m.InFlight)
	return m
}

// Observe records one finished product.
func (m *Metrics) Observe(productType string, err error, elapsed time.Duration, misses int) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	if productType == "" {
		productType = "unknown"
	}
	m.Products.WithLabelValues(productType, outcome).Inc()
	m.Duration.WithLabelValues(productType).Observe(elapsed.Seconds())
	m.Misses.Add(float64(misses))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("metrics listening", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Package metrics exposes plugin lifecycle and admin API metrics in the
// Prometheus exposition format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PluginHub/pkg/plugin"
)

// Collector owns a private registry with the lifecycle and HTTP metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	enabled  *prometheus.GaugeVec

	requests        *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ plugin.Observer = (*Collector)(nil)

// New creates a Collector with its metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhub_lifecycle_events_total",
			Help: "Total number of plugin lifecycle events by plugin, kind and outcome.",
		}, []string{"plugin", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pluginhub_lifecycle_duration_seconds",
			Help:    "Duration of plugin lifecycle steps in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		enabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pluginhub_plugin_enabled",
			Help: "Whether the plugin is enabled (1) or not (0) after its last lifecycle transition.",
		}, []string{"plugin"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhub_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhub_http_request_errors_total",
			Help: "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pluginhub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	c.registry.MustRegister(
		c.events, c.duration, c.enabled,
		c.requests, c.requestErrors, c.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Observe implements plugin.Observer.
func (c *Collector) Observe(_ context.Context, ev plugin.Event) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(ev.Plugin, string(ev.Kind), string(ev.Outcome)).Inc()
	if ev.Outcome == plugin.OutcomeNotFound {
		return
	}
	c.duration.WithLabelValues(string(ev.Kind)).Observe(ev.Duration.Seconds())
	if ev.Outcome != plugin.OutcomeSucceeded {
		return
	}
	switch ev.Kind {
	case plugin.EventActivate, plugin.EventDeactivate:
		value := 0.0
		if ev.State == plugin.StateEnabled {
			value = 1
		}
		c.enabled.WithLabelValues(ev.Plugin).Set(value)
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		c.requestErrors.WithLabelValues(handler, method).Inc()
	}
	c.requestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if handler == nil {
		return errors.New("metrics handler is nil")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

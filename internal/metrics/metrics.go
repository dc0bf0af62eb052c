// Package metrics provides Prometheus metrics for the kiosk.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Buckets spanning closed (~0.05) to wide open (~0.45) eyes.
var earBuckets = []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.27, 0.3, 0.35, 0.4, 0.5}

// Manager owns the kiosk metrics and the registry they live in.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	livenessChecks *prometheus.CounterVec
	ear            prometheus.Histogram
	logins         *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	engineLatency  *prometheus.HistogramVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom histogram buckets for latency metrics.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry sets a custom Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// NewManager creates the metrics on a private registry unless one is given,
// so tests and multiple kiosks in one process never collide.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "facegate",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	factory := promauto.With(m.registry)

	m.livenessChecks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "liveness",
		Name:      "checks_total",
		Help:      "Liveness checks by final reason.",
	}, []string{"reason"})

	m.ear = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "liveness",
		Name:      "eye_aspect_ratio",
		Help:      "Per-frame eye aspect ratio of evaluated frames.",
		Buckets:   earBuckets,
	})

	m.logins = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "logins_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})

	m.registrations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "registrations_total",
		Help:      "Registration attempts by outcome.",
	}, []string{"outcome"})

	m.engineLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "engine",
		Name:      "request_duration_seconds",
		Help:      "Round-trip time of face engine requests.",
		Buckets:   m.histogramBuckets,
	}, []string{"op"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveEAR records one evaluated frame.
func (m *Manager) ObserveEAR(ear float64) { m.ear.Observe(ear) }

// ObserveCheck records the outcome of a liveness check.
func (m *Manager) ObserveCheck(reason string) { m.livenessChecks.WithLabelValues(reason).Inc() }

// ObserveEngine records a face engine round trip.
func (m *Manager) ObserveEngine(op string, d time.Duration) {
	m.engineLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Manager) RecordLogin(outcome string) { m.logins.WithLabelValues(outcome).Inc() }

func (m *Manager) RecordRegistration(outcome string) {
	m.registrations.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

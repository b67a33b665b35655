// Package metrics exposes installer counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request kinds.
const (
	KindInstall   = "install"
	KindUninstall = "uninstall"
)

// Metrics holds all installer collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsAdmitted  *prometheus.CounterVec
	RequestsFinished  *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	GrantPrompts      prometheus.Counter
	CoreServicesEvent prometheus.Counter

	// Worker metrics
	QueueDepth      prometheus.Gauge
	GuardReferences prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// New creates the collectors, registered together with the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsAdmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wearpkg_requests_admitted_total",
				Help: "Install and uninstall requests accepted into the queue",
			},
			[]string{"kind"},
		),
		RequestsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wearpkg_requests_finished_total",
				Help: "Requests that released their resources, by outcome",
			},
			[]string{"kind", "outcome"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wearpkg_request_duration_seconds",
				Help:    "Time from admission until a request released its resources",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"kind"},
		),
		GrantPrompts: f.NewCounter(prometheus.CounterOpts{
			Name: "wearpkg_grant_prompts_total",
			Help: "Interactive permission grant prompts sent",
		}),
		CoreServicesEvent: f.NewCounter(prometheus.CounterOpts{
			Name: "wearpkg_core_services_updates_total",
			Help: "Successful installs of the core services package",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "wearpkg_queue_depth",
			Help: "Commands waiting for the worker",
		}),
		GuardReferences: f.NewGauge(prometheus.GaugeOpts{
			Name: "wearpkg_guard_references",
			Help: "Outstanding resource guard references",
		}),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wearpkg_http_requests_total",
				Help: "HTTP requests served by the admission API",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Admitted records an accepted request.
func (m *Metrics) Admitted(kind string) {
	if m == nil {
		return
	}
	m.RequestsAdmitted.WithLabelValues(kind).Inc()
}

// Finished records a request that released its resources.
func (m *Metrics) Finished(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsFinished.WithLabelValues(kind, outcome).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

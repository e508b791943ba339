package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the policy service. It implements
// policy.QueryObserver and config.ReloadObserver.
type Metrics struct {
	queriesTotal       *prometheus.CounterVec
	reloadsTotal       *prometheus.CounterVec
	snapshotGeneration prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mam_policy_queries_total",
				Help: "Total number of policy queries answered by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mam_policy_snapshot_reloads_total",
				Help: "Total number of policy snapshot reload attempts by status",
			},
			[]string{"status"},
		),

		snapshotGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mam_policy_snapshot_generation",
				Help: "Generation of the active policy snapshot",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.queriesTotal,
		m.reloadsTotal,
		m.snapshotGeneration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveQuery records one answered query.
func (m *Metrics) ObserveQuery(operation, outcome string) {
	m.queriesTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveReload records a reload attempt; successful reloads update the
// generation gauge.
func (m *Metrics) ObserveReload(status string, generation int64) {
	m.reloadsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.snapshotGeneration.Set(float64(generation))
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Package metrics provides Prometheus metrics for the roadmap agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	ConflictsTotal   *prometheus.CounterVec
	SyncsTotal       *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	MirrorCallsTotal *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roadmap_mutations_total",
				Help: "Total number of roadmap mutations by operation and result.",
			},
			[]string{"op", "result"},
		),
		MutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roadmap_mutation_duration_seconds",
				Help:    "Mutation duration including the mirror sync, by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roadmap_version_conflicts_total",
				Help: "Optimistic version conflicts detected at commit time, by operation.",
			},
			[]string{"op"},
		),
		SyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roadmap_mirror_syncs_total",
				Help: "Mirror synchronization passes by outcome.",
			},
			[]string{"outcome"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roadmap_mirror_sync_duration_seconds",
				Help:    "Duration of one mirror synchronization pass.",
				Buckets: prometheus.DefBuckets,
			},
		),
		MirrorCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roadmap_mirror_calls_total",
				Help: "Calls to the messaging backend by backend, operation and result.",
			},
			[]string{"backend", "op", "result"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roadmap_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.MutationsTotal)
	reg.MustRegister(m.MutationDuration)
	reg.MustRegister(m.ConflictsTotal)
	reg.MustRegister(m.SyncsTotal)
	reg.MustRegister(m.SyncDuration)
	reg.MustRegister(m.MirrorCallsTotal)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordMutation increments the mutation counter.
func (m *Metrics) RecordMutation(op, result string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveMutation records mutation duration.
func (m *Metrics) ObserveMutation(op string, seconds float64) {
	if m == nil {
		return
	}
	m.MutationDuration.WithLabelValues(op).Observe(seconds)
}

// RecordConflict increments the version conflict counter.
func (m *Metrics) RecordConflict(op string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(op).Inc()
}

// RecordSync increments the sync counter.
func (m *Metrics) RecordSync(outcome string) {
	if m == nil {
		return
	}
	m.SyncsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSync records sync duration.
func (m *Metrics) ObserveSync(seconds float64) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(seconds)
}

// RecordMirrorCall increments the backend call counter.
func (m *Metrics) RecordMirrorCall(backend, op, result string) {
	if m == nil {
		return
	}
	m.MirrorCallsTotal.WithLabelValues(backend, op, result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

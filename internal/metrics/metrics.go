// Package metrics exposes Prometheus collectors for the plugin lifecycle.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "plughost"

// Metrics groups every collector the host reports.
type Metrics struct {
	pluginsByState        *prometheus.GaugeVec
	activations           *prometheus.CounterVec
	activationDuration    prometheus.Histogram
	deactivations         *prometheus.CounterVec
	commandExecutions     *prometheus.CounterVec
	contributionConflicts *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves the collectors unregistered, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pluginsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "by_state",
			Help:      "Number of known plugins per lifecycle state.",
		}, []string{"state"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "activations_total",
			Help:      "Plugin activation attempts by result.",
		}, []string{"result"}),
		activationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "activation_duration_seconds",
			Help:      "Time spent activating a plugin.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "deactivations_total",
			Help:      "Plugin deactivations by result.",
		}, []string{"result"}),
		commandExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "command_executions_total",
			Help:      "Contributed command executions by result.",
		}, []string{"result"}),
		contributionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "conflicts_total",
			Help:      "Contribution registrations that replaced an existing id.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.pluginsByState,
			m.activations,
			m.activationDuration,
			m.deactivations,
			m.commandExecutions,
			m.contributionConflicts,
		)
	}
	return m
}

// SetStateCounts replaces the per-state gauge values.
func (m *Metrics) SetStateCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.pluginsByState.Reset()
	for state, n := range counts {
		m.pluginsByState.WithLabelValues(state).Set(float64(n))
	}
}

// ObserveActivation records one activation attempt.
func (m *Metrics) ObserveActivation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(result).Inc()
	m.activationDuration.Observe(d.Seconds())
}

// IncDeactivation records one deactivation.
func (m *Metrics) IncDeactivation(result string) {
	if m == nil {
		return
	}
	m.deactivations.WithLabelValues(result).Inc()
}

// IncCommand records one command execution.
func (m *Metrics) IncCommand(result string) {
	if m == nil {
		return
	}
	m.commandExecutions.WithLabelValues(result).Inc()
}

// IncConflict records a last-write-wins overwrite in the registry.
func (m *Metrics) IncConflict(kind string) {
	if m == nil {
		return
	}
	m.contributionConflicts.WithLabelValues(kind).Inc()
}

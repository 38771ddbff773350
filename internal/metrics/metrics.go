// Package metrics provides Prometheus instrumentation for the transport
// session and the optional /metrics endpoint served by `cutline play`.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cutline"

// Metrics holds the session collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Command metrics
	CommandsSent    *prometheus.CounterVec
	CommandFailures *prometheus.CounterVec

	// Event metrics
	EventsReceived *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec

	// Backend process metrics
	BackendUp       prometheus.Gauge
	BackendCrashes  prometheus.Counter
	BackendRestarts prometheus.Counter

	// Load metrics
	Loads        *prometheus.CounterVec
	LoadDuration prometheus.Histogram

	// EDL metrics
	EDLUpdates      *prometheus.CounterVec
	EDLFallbacks    prometheus.Counter
	EDLApplyLatency prometheus.Histogram

	// Seek metrics
	SeekOutcomes *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		CommandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the backend",
		}, []string{"type"}),
		CommandFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_failures_total",
			Help:      "Commands that could not be delivered",
		}, []string{"type"}),

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Events received from the backend or synthesized locally",
		}, []string{"type"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded by generation or revision gating",
		}, []string{"reason"}),

		BackendUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Whether a backend process is currently running",
		}),
		BackendCrashes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_crashes_total",
			Help:      "Unexpected backend exits",
		}),
		BackendRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_restarts_total",
			Help:      "Backend processes started after a crash",
		}),

		Loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Audio loads by result",
		}, []string{"result"}),
		LoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Time from load command to loaded event",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		EDLUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edl_updates_total",
			Help:      "EDL revisions sent by delivery mode",
		}, []string{"mode"}),
		EDLFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edl_apply_fallbacks_total",
			Help:      "EDL revisions that were never acknowledged before the timeout",
		}),
		EDLApplyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "edl_apply_latency_seconds",
			Help:      "Time from EDL send to edlApplied",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),

		SeekOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seek_outcomes_total",
			Help:      "Seek reconciliation outcomes",
		}, []string{"outcome"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordCommand records a command delivery attempt.
func (m *Metrics) RecordCommand(commandType string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CommandFailures.WithLabelValues(commandType).Inc()
		return
	}
	m.CommandsSent.WithLabelValues(commandType).Inc()
}

// RecordEvent records an event arriving at the session.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(eventType).Inc()
}

// RecordDropped records an event discarded by gating.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordBackendUp records a backend start. restarted is true when the start
// followed a crash.
func (m *Metrics) RecordBackendUp(restarted bool) {
	if m == nil {
		return
	}
	m.BackendUp.Set(1)
	if restarted {
		m.BackendRestarts.Inc()
	}
}

// RecordBackendDown records a backend exit.
func (m *Metrics) RecordBackendDown(crashed bool) {
	if m == nil {
		return
	}
	m.BackendUp.Set(0)
	if crashed {
		m.BackendCrashes.Inc()
	}
}

// RecordLoad records a completed load.
func (m *Metrics) RecordLoad(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(result).Inc()
	if seconds > 0 {
		m.LoadDuration.Observe(seconds)
	}
}

// RecordEDLSent records an EDL revision leaving the host.
func (m *Metrics) RecordEDLSent(mode string) {
	if m == nil {
		return
	}
	m.EDLUpdates.WithLabelValues(mode).Inc()
}

// RecordEDLApplied records an acknowledged revision.
func (m *Metrics) RecordEDLApplied(seconds float64) {
	if m == nil {
		return
	}
	m.EDLApplyLatency.Observe(seconds)
}

// RecordEDLFallback records an apply timeout.
func (m *Metrics) RecordEDLFallback() {
	if m == nil {
		return
	}
	m.EDLFallbacks.Inc()
}

// RecordSeek records a reconciliation outcome.
func (m *Metrics) RecordSeek(outcome string) {
	if m == nil {
		return
	}
	m.SeekOutcomes.WithLabelValues(outcome).Inc()
}

// Package metrics provides Prometheus metrics for Mnemosyne components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerOnce sync.Once

const (
	// Namespace is the Prometheus namespace for all Mnemosyne metrics.
	Namespace = "mnemosyne"

	// Subsystem constants for metric organization.
	SubsystemSnapshot = "snapshot"
	SubsystemSink     = "sink"
	SubsystemMonitor  = "monitor"
)

// Label constants for consistent labeling across metrics.
const (
	LabelSource    = "source"
	LabelTable     = "table"
	LabelPhase     = "phase"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
)

var (
	// Snapshot Metrics

	// SnapshotAttemptsTotal counts snapshot attempts by outcome.
	SnapshotAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSnapshot,
			Name:      "attempts_total",
			Help:      "Total number of snapshot attempts by outcome",
		},
		[]string{LabelSource, LabelStatus},
	)

	// SnapshotPhaseSeconds tracks how long each snapshot phase takes.
	SnapshotPhaseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSnapshot,
			Name:      "phase_duration_seconds",
			Help:      "Duration of snapshot phases in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{LabelSource, LabelPhase},
	)

	// SnapshotTablesCaptured tracks the size of the capture set.
	SnapshotTablesCaptured = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSnapshot,
			Name:      "tables_captured",
			Help:      "Number of tables in the current capture set",
		},
		[]string{LabelSource},
	)

	// SnapshotRowsTotal counts the rows read during the data phase.
	SnapshotRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSnapshot,
			Name:      "rows_total",
			Help:      "Total number of rows read by snapshot data phases",
		},
		[]string{LabelSource, LabelTable},
	)

	// SnapshotMarkerRetriesTotal counts marker re-fetches caused by the
	// marker-to-timestamp collision check.
	SnapshotMarkerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSnapshot,
			Name:      "marker_retries_total",
			Help:      "Total number of marker re-fetches due to timestamp collisions",
		},
		[]string{LabelSource},
	)

	// SnapshotLocksHeldSeconds tracks how long schema-snapshot locks are held.
	SnapshotLocksHeldSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSnapshot,
			Name:      "locks_held_seconds",
			Help:      "Time schema-snapshot table locks are held, in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{LabelSource},
	)

	// SnapshotErrorsTotal counts snapshot errors by type.
	SnapshotErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSnapshot,
			Name:      "errors_total",
			Help:      "Total number of snapshot errors",
		},
		[]string{LabelSource, LabelErrorType},
	)

	// Sink Metrics

	// SinkEventsTotal counts events written to the sink.
	SinkEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSink,
			Name:      "events_total",
			Help:      "Total number of events written to the sink",
		},
		[]string{LabelSource, LabelStatus},
	)

	// SinkSchemaChangesTotal counts structural-change events written.
	SinkSchemaChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSink,
			Name:      "schema_changes_total",
			Help:      "Total number of structural-change events written to the sink",
		},
		[]string{LabelSource},
	)

	// Monitor Metrics

	// MonitorSubscribers tracks live progress-stream subscribers.
	MonitorSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemMonitor,
			Name:      "progress_subscribers",
			Help:      "Number of connected progress-stream subscribers",
		},
	)

	// allMetrics contains all metrics for registration.
	allMetrics = []prometheus.Collector{
		SnapshotAttemptsTotal,
		SnapshotPhaseSeconds,
		SnapshotTablesCaptured,
		SnapshotRowsTotal,
		SnapshotMarkerRetriesTotal,
		SnapshotLocksHeldSeconds,
		SnapshotErrorsTotal,
		SinkEventsTotal,
		SinkSchemaChangesTotal,
		MonitorSubscribers,
	}
)

// Register registers all Mnemosyne metrics with the default Prometheus
// registry. It is safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		for _, m := range allMetrics {
			prometheus.MustRegister(m)
		}
	})
}

// RegisterWith registers all Mnemosyne metrics with the given registry.
func RegisterWith(reg prometheus.Registerer) {
	for _, m := range allMetrics {
		reg.MustRegister(m)
	}
}

// NewRegistry creates a new Prometheus registry with all Mnemosyne metrics
// and standard Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	RegisterWith(reg)

	return reg
}

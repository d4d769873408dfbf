// Package metrics declares the Prometheus collectors petscan exports.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "petscan"
	subsystem = "scan"
)

var (
	once sync.Once

	// ScansSubmitted counts accepted scan requests.
	ScansSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "submitted_total",
		Help:      "Total number of scan requests accepted.",
	})

	// Transitions counts scan status transitions by target status.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "transitions_total",
		Help:      "Total number of scan status transitions, labeled by the status entered.",
	}, []string{"status"})

	// StageDuration is the wall time of each pipeline stage.
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each scan stage (extract, analyze).",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"})

	// Lookups counts per-token reference lookups by outcome.
	Lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reference",
		Name:      "lookups_total",
		Help:      "Ingredient reference lookups, labeled by outcome (found, not_found, failed).",
	}, []string{"outcome"})

	// OCRCalls counts text extraction calls by provider and outcome.
	OCRCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ocr",
		Name:      "calls_total",
		Help:      "OCR backend calls, labeled by provider and outcome (ok, unavailable, no_text).",
	}, []string{"provider", "outcome"})

	// CircuitOpen is 1 while a remote service's circuit breaker is open.
	CircuitOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reference",
		Name:      "circuit_open",
		Help:      "Whether the circuit breaker for a remote service is open.",
	}, []string{"service"})

	// RecentScans is the number of scans per status seen in the monitoring
	// lookback window at the last health check.
	RecentScans = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitoring",
		Name:      "recent_scans",
		Help:      "Scans in the monitoring lookback window, labeled by status.",
	}, []string{"status"})

	// StuckScans is the number of in-flight scans past the stuck threshold.
	StuckScans = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitoring",
		Name:      "stuck_scans",
		Help:      "In-flight scans that have not moved for longer than the stuck threshold.",
	})

	// EventPublishErrors counts failed event fan-out publishes.
	EventPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_errors_total",
		Help:      "Total number of scan events that could not be published to the broker.",
	})
)

// Register registers petscan collectors with the default Prometheus
// registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ScansSubmitted,
			Transitions,
			StageDuration,
			Lookups,
			OCRCalls,
			CircuitOpen,
			RecentScans,
			StuckScans,
			EventPublishErrors,
		)
	})
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the tracker's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin_tracker",
			Subsystem: "ingestion",
			Name:      "cycles_total",
			Help:      "Ingestion cycles by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coin_tracker",
			Subsystem: "ingestion",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of ingestion cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	ticksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coin_tracker",
			Subsystem: "ingestion",
			Name:      "ticks_skipped_total",
			Help:      "Scheduler ticks skipped because a cycle was still running.",
		},
	)

	storeWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin_tracker",
			Subsystem: "storage",
			Name:      "write_failures_total",
			Help:      "Failed per-asset store writes.",
		},
		[]string{"op"},
	)

	connectionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin_tracker",
			Subsystem: "storage",
			Name:      "connection_attempts_total",
			Help:      "Storage connection attempts by result.",
		},
		[]string{"result"},
	)

	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coin_tracker",
			Subsystem: "storage",
			Name:      "connection_state",
			Help:      "Storage connection state (0 disconnected, 1 connecting, 2 connected).",
		},
	)
)

func init() {
	Registry.MustRegister(
		cyclesTotal,
		cycleDuration,
		ticksSkipped,
		storeWriteFailures,
		connectionAttempts,
		connectionState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordCycle(outcome string, seconds float64) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(seconds)
}

func RecordSkippedTick() {
	ticksSkipped.Inc()
}

func RecordStoreWriteFailure(op string) {
	storeWriteFailures.WithLabelValues(op).Inc()
}

func RecordConnectionAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	connectionAttempts.WithLabelValues(result).Inc()
}

func SetConnectionState(state int) {
	connectionState.Set(float64(state))
}

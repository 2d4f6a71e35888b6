// ABOUTME: Prometheus metrics for turns, summaries, sessions, and storage
// ABOUTME: Collectors register on the default registry and are served by the gateway

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by turn and chunk counters.
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
	OutcomeEmpty  = "empty"
)

var (
	// turnsTotal counts finished turns by outcome
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_turns_total",
		Help: "Finished chat turns by outcome",
	}, []string{"outcome"})

	// turnDuration tracks wall time from session creation to cleanup
	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_turn_duration_seconds",
		Help:    "Chat turn duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})

	// deltasTotal counts deltas forwarded to subscribers
	deltasTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_deltas_total",
		Help: "Text deltas streamed to clients",
	})

	// activeSessions reports sessions currently in the session table
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_active_sessions",
		Help: "Streaming sessions currently in flight",
	})

	// summaryChunksTotal counts summarized transcript chunks by outcome
	summaryChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_summary_chunks_total",
		Help: "Transcript chunks processed by the summarizer, by outcome",
	}, []string{"outcome"})

	// storeErrorsTotal counts storage failures by operation
	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_store_errors_total",
		Help: "Conversation store failures by operation",
	}, []string{"operation"})
)

// TurnFinished records a turn's outcome and duration.
func TurnFinished(outcome string, seconds float64) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(seconds)
}

// DeltaStreamed counts one forwarded delta.
func DeltaStreamed() {
	deltasTotal.Inc()
}

// SessionOpened increments the in-flight session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the in-flight session gauge.
func SessionClosed() { activeSessions.Dec() }

// SummaryChunk records one transcript chunk's outcome.
func SummaryChunk(outcome string) {
	summaryChunksTotal.WithLabelValues(outcome).Inc()
}

// StoreError counts a storage failure for op.
func StoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

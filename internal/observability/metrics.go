// Package observability provides Prometheus metrics for the chat pipeline.
//
// All metric operations are safe for concurrent use.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "groundchat"

// Metrics holds the Prometheus collectors for chat turns
type Metrics struct {
	// RequestsTotal counts finished chat turns.
	// Labels: outcome (answered, blocked, error)
	RequestsTotal *prometheus.CounterVec

	// GuardrailBlocksTotal counts turns stopped by the guardrail.
	// Labels: reason (unsafe, irrelevant)
	GuardrailBlocksTotal *prometheus.CounterVec

	// ErrorsTotal counts failed turns by stable error code
	ErrorsTotal *prometheus.CounterVec

	// RetrievalHits observes how many chunks each knowledge search returned
	RetrievalHits prometheus.Histogram

	// StageDurationSeconds measures pipeline stages.
	// Labels: stage (guardrail, generation, retrieval, turn)
	StageDurationSeconds *prometheus.HistogramVec

	// CitationsPerAnswer observes citations extracted per answer
	CitationsPerAnswer prometheus.Histogram

	// ActiveSessions tracks sessions held by the store
	ActiveSessions prometheus.Gauge

	// SweptSessionsTotal counts sessions removed for inactivity
	SweptSessionsTotal prometheus.Counter
}

// NewMetrics creates and registers all collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total chat turns by outcome",
		}, []string{"outcome"}),

		GuardrailBlocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "guardrail",
			Name:      "blocks_total",
			Help:      "Total turns blocked by the guardrail",
		}, []string{"reason"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "errors_total",
			Help:      "Total failed chat turns by error code",
		}, []string{"code"}),

		RetrievalHits: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "retrieval",
			Name:      "hits",
			Help:      "Chunks returned per knowledge search",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 10},
		}),

		StageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),

		CitationsPerAnswer: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "citations_per_answer",
			Help:      "Citations extracted from each answer",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently held in memory",
		}),

		SweptSessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "swept_total",
			Help:      "Sessions removed after the inactivity timeout",
		}),
	}
}

// NewNopMetrics returns metrics registered on a private registry, for
// callers that do not expose them.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

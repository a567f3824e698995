package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_chat_turns_total",
			Help: "Total number of chat turns by outcome.",
		},
		[]string{"outcome"},
	)
	chatTurnLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_chat_turn_latency_ms",
			Help:    "End-to-end chat turn latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_model_calls_total",
			Help: "Total number of language model calls by status.",
		},
		[]string{"status"},
	)
	modelLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_model_latency_ms",
			Help:    "Language model call latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_query_executions_total",
			Help: "Total number of generated SQL executions by status.",
		},
		[]string{"status"},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_query_latency_ms",
			Help:    "Generated SQL execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
	)
	schemaFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlagent_schema_failures_total",
			Help: "Total number of schema introspection failures absorbed by chat turns.",
		},
	)
	visualizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_visualizations_total",
			Help: "Total number of visualizations returned by source (hint, inferred, table).",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		chatTurnsTotal,
		chatTurnLatencyMs,
		modelCallsTotal,
		modelLatencyMs,
		queryExecutionsTotal,
		queryLatencyMs,
		schemaFailuresTotal,
		visualizationsTotal,
	)
}

func ObserveChatTurn(outcome string, elapsed time.Duration) {
	chatTurnsTotal.WithLabelValues(outcome).Inc()
	chatTurnLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveModelCall(status string, elapsed time.Duration) {
	modelCallsTotal.WithLabelValues(status).Inc()
	modelLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveQueryExecution(status string, elapsed time.Duration) {
	queryExecutionsTotal.WithLabelValues(status).Inc()
	queryLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementSchemaFailure() {
	schemaFailuresTotal.Inc()
}

func IncrementVisualization(source string) {
	visualizationsTotal.WithLabelValues(source).Inc()
}

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the pipeline's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	QueriesAdmitted  prometheus.Counter
	QueriesRejected  prometheus.Counter
	QueriesCompleted prometheus.Counter
	QueriesFailed    prometheus.Counter

	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec

	LLMRequests    *prometheus.CounterVec
	LLMToolRounds  prometheus.Histogram
	ChunksDelivered prometheus.Counter

	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
}

// NewMetrics builds and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		QueriesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_queries_admitted_total",
			Help: "Queries admitted into the pool.",
		}),
		QueriesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_queries_rejected_total",
			Help: "Queries rejected because the pool was full.",
		}),
		QueriesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_queries_completed_total",
			Help: "Queries whose pipeline run finished.",
		}),
		QueriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_queries_failed_total",
			Help: "Queries that ended with an error notice.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_stage_duration_seconds",
			Help:    "Wall time spent per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_stage_errors_total",
			Help: "Errors raised by pipeline stages.",
		}, []string{"stage"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_llm_requests_total",
			Help: "LLM requester invocations by requester name.",
		}, []string{"requester"}),
		LLMToolRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conduit_llm_tool_rounds",
			Help:    "Tool-call rounds per local-agent run.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		ChunksDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_chunks_delivered_total",
			Help: "Streaming chunks forwarded to adapters.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_messages_received_total",
			Help: "Inbound platform messages by adapter.",
		}, []string{"adapter"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_messages_sent_total",
			Help: "Outbound platform messages by adapter.",
		}, []string{"adapter"}),
	}

	reg.MustRegister(
		m.QueriesAdmitted, m.QueriesRejected, m.QueriesCompleted, m.QueriesFailed,
		m.StageDuration, m.StageErrors,
		m.LLMRequests, m.LLMToolRounds, m.ChunksDelivered,
		m.MessagesReceived, m.MessagesSent,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

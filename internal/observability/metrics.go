package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is claude-mem's Prometheus surface, served at GET /api/metrics
// alongside the store.Stats JSON body (spec.md §6). It tracks ingest
// throughput, LLM call performance, the pending-message queue, and
// maintenance-loop outcomes.
type Metrics struct {
	// ObservationsIngested counts accepted ingest requests.
	// Labels: type (observation|summarize), project
	ObservationsIngested *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by provider, model, and type
	// (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge of sessions currently processing.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds, from
	// first observation to summarize.
	SessionDuration prometheus.Histogram

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// DatabaseQueryDuration measures SQLite query latency.
	// Labels: operation, table
	DatabaseQueryDuration *prometheus.HistogramVec

	// PendingQueueDepth tracks the number of pending messages awaiting
	// a session run.
	PendingQueueDepth prometheus.Gauge

	// PendingQueueWait measures time a pending message spent queued
	// before its session began processing it.
	PendingQueueWait prometheus.Histogram

	// VectorIndexQueryDuration measures vector search/upsert latency.
	// Labels: operation (search|upsert), mode (http|embedded)
	VectorIndexQueryDuration *prometheus.HistogramVec

	// SessionStuck counts sessions the maintenance reaper found wedged
	// in processing past the stale threshold.
	SessionStuck prometheus.Counter

	// MaintenanceRuns counts maintenance-loop passes by outcome
	// (ok|error).
	MaintenanceRuns *prometheus.CounterVec
}

// NewMetrics registers claude-mem's metrics against reg and returns the
// bundle. A nil reg registers against prometheus.DefaultRegisterer, the
// behavior main.go wants; tests pass a prometheus.NewRegistry() to keep
// cases isolated from each other and from package-level state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ObservationsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claude_mem_observations_ingested_total",
				Help: "Total ingest requests accepted, by message type and project",
			},
			[]string{"type", "project"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claude_mem_llm_request_duration_seconds",
				Help:    "Duration of LLM summarize calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claude_mem_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claude_mem_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claude_mem_errors_total",
				Help: "Total errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "claude_mem_active_sessions",
				Help: "Current number of sessions with a run in flight",
			},
		),

		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "claude_mem_session_duration_seconds",
				Help:    "Duration of a session from first observation to summarize",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claude_mem_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claude_mem_database_query_duration_seconds",
				Help:    "Duration of SQLite queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		PendingQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "claude_mem_pending_queue_depth",
				Help: "Current number of pending messages awaiting a session run",
			},
		),

		PendingQueueWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "claude_mem_pending_queue_wait_seconds",
				Help:    "Time a pending message spent queued before its session processed it",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		VectorIndexQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claude_mem_vector_index_duration_seconds",
				Help:    "Duration of vector index operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "mode"},
		),

		SessionStuck: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "claude_mem_session_stuck_total",
				Help: "Sessions the maintenance reaper found stuck in processing",
			},
		),

		MaintenanceRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claude_mem_maintenance_runs_total",
				Help: "Total maintenance loop passes by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordIngest increments ObservationsIngested for the given message type
// and project.
func (m *Metrics) RecordIngest(messageType, project string) {
	m.ObservationsIngested.WithLabelValues(messageType, project).Inc()
}

// RecordLLMRequest records an LLM call's latency, outcome, and token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordError increments ErrorCounter for component/errorType.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments ActiveSessions.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements ActiveSessions and records its total duration.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records one HTTP API request's outcome and latency.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records one SQLite query's latency.
func (m *Metrics) RecordDatabaseQuery(operation, table string, durationSeconds float64) {
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// SetPendingQueueDepth sets the current pending-message queue depth.
func (m *Metrics) SetPendingQueueDepth(depth int) {
	m.PendingQueueDepth.Set(float64(depth))
}

// RecordPendingQueueWait records how long a pending message waited before
// its session picked it up.
func (m *Metrics) RecordPendingQueueWait(waitSeconds float64) {
	m.PendingQueueWait.Observe(waitSeconds)
}

// RecordVectorIndexQuery records one vector index operation's latency.
func (m *Metrics) RecordVectorIndexQuery(operation, mode string, durationSeconds float64) {
	m.VectorIndexQueryDuration.WithLabelValues(operation, mode).Observe(durationSeconds)
}

// RecordSessionStuck increments SessionStuck.
func (m *Metrics) RecordSessionStuck() {
	m.SessionStuck.Inc()
}

// RecordMaintenanceRun increments MaintenanceRuns for the given outcome.
func (m *Metrics) RecordMaintenanceRun(outcome string) {
	m.MaintenanceRuns.WithLabelValues(outcome).Inc()
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Message flow through the chat channel
//   - LLM request performance and cross-provider fallbacks
//   - Tool execution patterns and latencies
//   - Background task and scheduled job activity
//
// A nil *Metrics is valid and records nothing.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.MessageReceived("telegram")
type Metrics struct {
	// MessageCounter tracks messages by channel and direction.
	// Labels: channel, direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ProviderFallbacks counts exchanges restarted on another provider.
	// Labels: from, to
	ProviderFallbacks *prometheus.CounterVec

	// ExchangeTurns observes model turns used per exchange.
	ExchangeTurns prometheus.Histogram

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// BackgroundTasksActive is the number of running background tasks.
	BackgroundTasksActive prometheus.Gauge

	// BackgroundTaskCounter counts finished tasks.
	// Labels: status (completed|failed|cancelled)
	BackgroundTaskCounter *prometheus.CounterVec

	// JobRunCounter counts scheduled job fires.
	// Labels: status (ok|error)
	JobRunCounter *prometheus.CounterVec

	// ScheduledJobsArmed is the number of jobs holding a live timer.
	ScheduledJobsArmed prometheus.Gauge

	// ErrorCounter tracks errors by component and error type.
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer. Call it once per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parrot_messages_total",
				Help: "Total number of messages processed by channel and direction",
			},
			[]string{"channel", "direction"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parrot_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parrot_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parrot_provider_fallbacks_total",
				Help: "Exchanges restarted on a fallback provider",
			},
			[]string{"from", "to"},
		),

		ExchangeTurns: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parrot_exchange_turns",
				Help:    "Model turns used per exchange",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parrot_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parrot_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		BackgroundTasksActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parrot_background_tasks_running",
				Help: "Background tasks currently running",
			},
		),

		BackgroundTaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parrot_background_tasks_total",
				Help: "Finished background tasks by terminal status",
			},
			[]string{"status"},
		),

		JobRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parrot_job_runs_total",
				Help: "Scheduled job fires by outcome",
			},
			[]string{"status"},
		),

		ScheduledJobsArmed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parrot_scheduled_jobs_armed",
				Help: "Scheduled jobs holding a live timer",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parrot_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parrot_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// MessageReceived increments the inbound message counter for channel.
func (m *Metrics) MessageReceived(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "inbound").Inc()
}

// MessageSent increments the outbound message counter for channel.
func (m *Metrics) MessageSent(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

// RecordLLMRequest records metrics for one model call.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", time.Since(start).Seconds())
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordFallback counts an exchange moving from one provider to another.
func (m *Metrics) RecordFallback(from, to string) {
	if m == nil {
		return
	}
	m.ProviderFallbacks.WithLabelValues(from, to).Inc()
}

// RecordExchange observes the number of model turns an exchange used.
func (m *Metrics) RecordExchange(turns int) {
	if m == nil {
		return
	}
	m.ExchangeTurns.Observe(float64(turns))
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// TaskStarted increments the active background task gauge.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.BackgroundTasksActive.Inc()
}

// TaskFinished decrements the active gauge and counts the terminal status.
func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.BackgroundTasksActive.Dec()
	m.BackgroundTaskCounter.WithLabelValues(status).Inc()
}

// RecordJobRun counts one scheduled job fire.
func (m *Metrics) RecordJobRun(status string) {
	if m == nil {
		return
	}
	m.JobRunCounter.WithLabelValues(status).Inc()
}

// SetArmedJobs sets the number of armed scheduled jobs.
func (m *Metrics) SetArmedJobs(n int) {
	if m == nil {
		return
	}
	m.ScheduledJobsArmed.Set(float64(n))
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("agent", "rate_limit")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

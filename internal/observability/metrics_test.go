package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersOnRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.MessageReceived("telegram")
	metrics.MessageReceived("telegram")
	metrics.MessageSent("telegram")

	expected := `
		# HELP parrot_messages_total Total number of messages processed by channel and direction
		# TYPE parrot_messages_total counter
		parrot_messages_total{channel="telegram",direction="inbound"} 2
		parrot_messages_total{channel="telegram",direction="outbound"} 1
	`
	if err := testutil.CollectAndCompare(metrics.MessageCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestTaskGauge(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.TaskStarted()
	metrics.TaskStarted()
	metrics.TaskFinished("completed")

	if got := testutil.ToFloat64(metrics.BackgroundTasksActive); got != 1 {
		t.Errorf("active tasks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.BackgroundTaskCounter.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed tasks = %v, want 1", got)
	}
}

func TestJobAndToolMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordJobRun("ok")
	metrics.RecordJobRun("error")
	metrics.RecordJobRun("ok")
	metrics.SetArmedJobs(3)
	metrics.RecordToolExecution("web_search", "success", 0.2)
	metrics.RecordFallback("openai", "anthropic")

	if got := testutil.ToFloat64(metrics.JobRunCounter.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.ScheduledJobsArmed); got != 3 {
		t.Errorf("armed jobs = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("web_search", "success")); got != 1 {
		t.Errorf("tool executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ProviderFallbacks.WithLabelValues("openai", "anthropic")); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var metrics *Metrics
	metrics.MessageReceived("telegram")
	metrics.RecordLLMRequest("openai", "gpt-4o", "success", 1)
	metrics.TaskStarted()
	metrics.TaskFinished("failed")
	metrics.RecordJobRun("ok")
	metrics.SetArmedJobs(1)
	metrics.RecordError("agent", "timeout")
}

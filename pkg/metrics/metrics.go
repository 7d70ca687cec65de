// Package metrics holds the process-wide Prometheus registry for the
// orchestrator core. Every series below is a package-level var registered
// once at import time via promauto, matching the teacher's metrics package;
// callers record through the Record*/Observe* helpers rather than reaching
// into the vars directly, so label names stay centralized.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowRunsTotal counts terminal run outcomes, spec §6.
	WorkflowRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ralph_workflow_runs_total",
		Help: "Total workflow runs by terminal status.",
	}, []string{"status"})

	// WorkflowRunDurationMs observes wall-clock duration of a run handler
	// invocation, success or failure (§4.8 failure path requires this be
	// observed on both paths).
	WorkflowRunDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ralph_workflow_run_duration_ms",
		Help:    "Duration of a full workflow run handler invocation, in milliseconds.",
		Buckets: []float64{100, 500, 1000, 5000, 10000, 30000, 120000},
	})

	// WebhookEventsTotal counts inbound webhook deliveries by outcome
	// (accepted, duplicate, ignored, missing_signature, invalid_signature,
	// missing_issue_number, error).
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ralph_webhook_events_total",
		Help: "Total inbound webhook deliveries by event type and result.",
	}, []string{"event_type", "result"})

	// RetriesTotal counts every retry-engine attempt beyond the first, by
	// the named operation being retried.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ralph_retries_total",
		Help: "Total retry attempts by operation.",
	}, []string{"operation"})

	// OrchestrationBoundaryCallsTotal and OrchestrationBoundaryDurationMs
	// instrument every C4 boundary call uniformly.
	OrchestrationBoundaryCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ralph_orchestration_boundary_calls_total",
		Help: "Total boundary-wrapped calls by boundary name and result.",
	}, []string{"boundary", "result"})

	OrchestrationBoundaryDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ralph_orchestration_boundary_duration_ms",
		Help:    "Duration of boundary-wrapped calls, in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 15000},
	}, []string{"boundary"})
)

// RecordWorkflowRun increments the terminal-outcome counter for status,
// one of completed/failed/dead_letter.
func RecordWorkflowRun(status string) {
	WorkflowRunsTotal.WithLabelValues(status).Inc()
}

// ObserveWorkflowRunDuration records d into the run-duration histogram.
func ObserveWorkflowRunDuration(d time.Duration) {
	WorkflowRunDurationMs.Observe(float64(d.Milliseconds()))
}

// RecordWebhookEvent increments the webhook counter for eventType/result.
func RecordWebhookEvent(eventType, result string) {
	WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordRetry increments the retry counter for operation.
func RecordRetry(operation string) {
	RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordBoundaryCall increments the boundary call counter for
// boundary/result, result being "success" or "error".
func RecordBoundaryCall(boundary, result string) {
	OrchestrationBoundaryCallsTotal.WithLabelValues(boundary, result).Inc()
}

// ObserveBoundaryDuration records d into the per-boundary duration
// histogram. Must be called on both success and failure paths (§4.4).
func ObserveBoundaryDuration(boundary string, d time.Duration) {
	OrchestrationBoundaryDurationMs.WithLabelValues(boundary).Observe(float64(d.Milliseconds()))
}

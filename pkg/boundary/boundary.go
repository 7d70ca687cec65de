// Package boundary implements C4, the uniform wrapper every external call
// (hosting provider, spec generator, executor agent, review agent,
// repository) passes through: a tracing span, success/error metrics, a
// per-boundary circuit breaker, and redacted warning logs on failure.
package boundary

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/khenson99/ralph-loop-orchestrator-sub000/internal/redact"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/metrics"
)

// Attrs carries the span/log attributes spec §4.4 requires on every
// boundary call. Fields are optional; zero values are simply omitted.
type Attrs struct {
	EventID     string
	RunID       string
	IssueNumber *int
	TaskKey     string
}

// Wrapper owns the tracer, logger and the lazily-created per-boundary
// circuit breakers. It is safe for concurrent use.
type Wrapper struct {
	tracer   trace.Tracer
	logger   *zap.Logger
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func New(tracer trace.Tracer, logger *zap.Logger) *Wrapper {
	return &Wrapper{
		tracer:   tracer,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (w *Wrapper) breakerFor(name string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cb, ok := w.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	w.breakers[name] = cb
	return cb
}

// With wraps fn with the span/metrics/logging/circuit-breaker envelope.
// The duration histogram is observed on both the success and failure path
// (spec §4.4).
func With[T any](ctx context.Context, w *Wrapper, name string, attrs Attrs, fn func(context.Context) (T, error)) (T, error) {
	spanAttrs := []attribute.KeyValue{attribute.String("boundary", name)}
	if attrs.EventID != "" {
		spanAttrs = append(spanAttrs, attribute.String("event_id", attrs.EventID))
	}
	if attrs.RunID != "" {
		spanAttrs = append(spanAttrs, attribute.String("run_id", attrs.RunID))
	}
	if attrs.IssueNumber != nil {
		spanAttrs = append(spanAttrs, attribute.Int("issue_number", *attrs.IssueNumber))
	}
	if attrs.TaskKey != "" {
		spanAttrs = append(spanAttrs, attribute.String("task_key", attrs.TaskKey))
	}

	ctx, span := w.tracer.Start(ctx, "orchestrator."+name, trace.WithAttributes(spanAttrs...))
	defer span.End()

	start := time.Now()

	raw, err := w.breakerFor(name).Execute(func() (interface{}, error) {
		return fn(ctx)
	})

	duration := time.Since(start)
	metrics.ObserveBoundaryDuration(name, duration)

	if err != nil {
		metrics.RecordBoundaryCall(name, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "boundary call failed")
		w.logger.Warn("boundary call failed",
			zap.String("boundary", name),
			zap.String("run_id", attrs.RunID),
			zap.String("error", redact.RedactText(err.Error())),
		)
		var zero T
		return zero, err
	}

	metrics.RecordBoundaryCall(name, "success")

	value, _ := raw.(T)
	return value, nil
}

// Package tracing builds the OpenTelemetry tracer provider C4 (the
// boundary wrapper) spans through, batching to an OTLP collector over
// gRPC when a target is configured.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes pending spans and tears down the exporter connection.
type Shutdown func(context.Context) error

// noopShutdown satisfies the Shutdown contract when no collector endpoint
// is configured; the orchestrator still runs, it just traces nowhere.
func noopShutdown(context.Context) error { return nil }

// NewTracerProvider builds an OTLP-over-gRPC tracer provider for
// serviceName, or a process-local no-op provider when endpoint is empty
// (every environment that hasn't stood up a collector yet).
func NewTracerProvider(ctx context.Context, endpoint, serviceName string) (trace.TracerProvider, Shutdown, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return trace.NewNoopTracerProvider(), noopShutdown, nil
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	if serviceName == "" {
		serviceName = "ralph-orchestrator"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		attribute.String("component", "orchestrator-core"),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("build otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider, provider.Shutdown, nil
}

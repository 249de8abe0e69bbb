// Package tracing wires OpenTelemetry spans around the Document CRDT's
// hot paths (apply_local, apply_remote, merge, GC sweeps), exporting to
// Jaeger. This package has no teacher implementation in the retrieved
// pack — only its test file survived distillation — so it is written
// from scratch to satisfy that test's InitTracer/StartSpan contract,
// in the same style as the teacher's other small init-and-wrap packages
// (internal/logging, internal/monitoring).
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/codexsync/codex"

// InitTracer configures a global TracerProvider exporting spans to a
// Jaeger collector at endpoint, tagged with serviceName. It returns the
// provider even when the collector is unreachable: export failures
// surface asynchronously on flush/shutdown, not at init time.
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartSpan starts a span named `name` under the current global tracer,
// returning the derived context and the span. Callers must call
// span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Package telemetry configures OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"encoding/hex"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceName is reported as service.name when none is configured.
const DefaultServiceName = "sessiond"

// Provider owns the tracer provider installed by Setup.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Setup builds a tracer provider. When enabled, finished spans are written
// to logger at debug level and the provider is installed as the global
// one; otherwise tracing is a no-op.
func Setup(ctx context.Context, enabled bool, serviceName string, logger *slog.Logger) *Provider {
	if !enabled {
		return &Provider{
			tp:       tracenoop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}
	}
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		logger.Warn("failed to create resource, using default", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(logger)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp, shutdown: tp.Shutdown}
}

// Tracer returns a named tracer from the provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// LogExporter writes finished spans to a slog.Logger. Export never fails:
// a span that cannot be logged is dropped.
type LogExporter struct {
	logger *slog.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

// ExportSpans logs one debug record per span.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		traceID := sc.TraceID()
		spanID := sc.SpanID()

		args := []any{
			"trace_id", hex.EncodeToString(traceID[:]),
			"span_id", hex.EncodeToString(spanID[:]),
			"duration", span.EndTime().Sub(span.StartTime()),
		}
		if span.Parent().IsValid() {
			parentID := span.Parent().SpanID()
			args = append(args, "parent_span_id", hex.EncodeToString(parentID[:]))
		}
		if st := span.Status(); st.Code == codes.Error {
			args = append(args, "status", "error", "status_message", st.Description)
		}
		for _, kv := range span.Attributes() {
			args = append(args, string(kv.Key), kv.Value.Emit())
		}
		e.logger.LogAttrs(ctx, slog.LevelDebug, "span "+span.Name(), slog.Group("span", args...))
	}
	return nil
}

// Shutdown is a no-op; the logger outlives the exporter.
func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}

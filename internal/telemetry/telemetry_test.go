package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func debugLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogExporter_WritesOneRecordPerSpan(t *testing.T) {
	var buf bytes.Buffer
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogExporter(debugLogger(&buf))))
	defer tp.Shutdown(context.Background()) //nolint:errcheck

	ctx, parent := tp.Tracer("test").Start(context.Background(), "resolver.handle")
	_, child := tp.Tracer("test").Start(ctx, "store.query")
	child.SetAttributes(attribute.String("pseudo_key", "process:a:1"))
	child.SetStatus(codes.Error, "boom")
	child.End()
	parent.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log records, got %d:\n%s", len(lines), buf.String())
	}

	var rec struct {
		Msg  string         `json:"msg"`
		Span map[string]any `json:"span"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Msg != "span store.query" {
		t.Errorf("msg = %q", rec.Msg)
	}
	if rec.Span["pseudo_key"] != "process:a:1" || rec.Span["status"] != "error" || rec.Span["status_message"] != "boom" {
		t.Errorf("span attrs = %v", rec.Span)
	}
	if _, ok := rec.Span["parent_span_id"]; !ok {
		t.Errorf("child span should carry parent_span_id: %v", rec.Span)
	}
}

func TestLogExporter_Snapshots(t *testing.T) {
	var buf bytes.Buffer
	stubs := tracetest.SpanStubs{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	if err := NewLogExporter(debugLogger(&buf)).ExportSpans(context.Background(), stubs.Snapshots()); err != nil {
		t.Fatalf("ExportSpans: %v", err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
}

func TestSetup_Disabled(t *testing.T) {
	p := Setup(context.Background(), false, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, span := p.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled provider should produce non-recording spans")
	}
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetup_Enabled(t *testing.T) {
	var buf bytes.Buffer
	p := Setup(context.Background(), true, "sessiond-test", debugLogger(&buf))

	_, span := p.Tracer("test").Start(context.Background(), "enabled")
	if !span.SpanContext().IsValid() {
		t.Fatal("enabled provider should produce recording spans")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "span enabled") {
		t.Fatalf("span not exported on shutdown:\n%s", buf.String())
	}
}

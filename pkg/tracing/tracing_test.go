package tracing

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeadersRoundTripSpanContext(t *testing.T) {
	ctx := context.Background()
	tp, err := Init(ctx, "test", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	ctx, span := otel.Tracer("test").Start(ctx, "produce")
	defer span.End()

	headers := InjectKafkaHeaders(ctx, nil)
	var found bool
	for _, h := range headers {
		if h.Key == TraceparentHeader {
			found = true
		}
	}
	if !found {
		t.Fatalf("traceparent header missing: %+v", headers)
	}

	got := trace.SpanContextFromContext(ExtractKafkaHeaders(context.Background(), headers))
	if got.TraceID() != span.SpanContext().TraceID() {
		t.Fatalf("trace id mismatch: %s vs %s", got.TraceID(), span.SpanContext().TraceID())
	}

	parent := Traceparent(ctx)
	if !strings.Contains(parent, span.SpanContext().TraceID().String()) {
		t.Fatalf("traceparent %q does not carry trace id", parent)
	}
	restored := trace.SpanContextFromContext(ContextFromTraceparent(context.Background(), parent))
	if restored.TraceID() != span.SpanContext().TraceID() {
		t.Fatalf("restored trace id mismatch")
	}
}

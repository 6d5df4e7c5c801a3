package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName scopes every span Notelith emits.
const tracerName = "github.com/notelith/notelith"

// Tracer resolves the Notelith tracer from whatever [trace.TracerProvider]
// main installed globally. Before setup it yields a no-op tracer, so library
// code can call it unconditionally.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span under the Notelith tracer. The caller owns the span
// and must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the active trace ID, or "" outside a span. Notelith
// hands this same ID back to clients in X-Correlation-ID, so a support ticket
// quoting the header leads straight to the trace.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger derives an [slog.Logger] carrying the trace_id and span_id of the
// span in ctx, letting log lines from a turn be joined with its trace. With
// no span in ctx it falls back to the plain default logger.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

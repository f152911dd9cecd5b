package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for every span this service opens:
// gateway requests, resolve calls, backend round trips.
const tracerName = "github.com/MrWong99/cardrip"

// Tracer returns the service tracer from the globally registered provider,
// which [InitProvider] installs at startup.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named after the operation, e.g. "resolve" or
// "POST /api/session/start". The caller owns span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace ID of the span in ctx, or empty without one.
// The gateway echoes it as X-Correlation-ID so a UI bug report can be joined
// to the server-side trace of the same rip.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries an active span, so per-request log lines correlate with the
// span without every call site threading IDs by hand.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

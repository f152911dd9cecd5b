package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseWriter captures the status code written by the gateway handler so
// the span and log line can carry it.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux pattern that served the request, e.g.
// "POST /api/resolve". Requests that matched no route keep the raw path so
// 404s stay visible without exploding metric cardinality on card names or
// entry IDs embedded in the URL.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}

// Middleware instruments every gateway request. It extracts incoming W3C
// trace context (the browser UI forwards none today, but the price checker
// backend chain does), opens a server span, exposes the trace ID as
// X-Correlation-ID, and records the request into
// [Metrics.HTTPRequestDuration] labelled by route and status.
//
// Spans and metrics are named after the matched route pattern, not the raw
// URL, so "/api/session/cards/{entryID}" is one series regardless of entry.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rw, r)

			// The mux fills r.Pattern while routing, so the matched route is
			// only known after the handler ran. Rename the span from the raw
			// path to the pattern now that we have it.
			route := routeLabel(r)
			span.SetName(route)
			span.SetAttributes(
				semconv.HTTPRouteKey.String(route),
				semconv.HTTPResponseStatusCode(rw.status),
			)

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("route", route),
					attribute.Int("status", rw.status),
				),
			)

			slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("trace_id", CorrelationID(ctx)),
				slog.String("route", route),
				slog.Int("status", rw.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

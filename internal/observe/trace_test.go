package observe_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/cardrip/internal/observe"
)

// withTracing swaps the global tracer provider for an in-memory one. Tests
// using it cannot run in parallel.
func withTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func TestStartSpan(t *testing.T) {
	exp := withTracing(t)

	ctx, span := observe.StartSpan(context.Background(), "resolve")
	cid := observe.CorrelationID(ctx)
	span.End()

	if len(cid) != 32 {
		t.Errorf("CorrelationID length = %d, want 32", len(cid))
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "resolve" {
		t.Fatalf("recorded spans = %+v, want one named resolve", spans)
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()

	if got := observe.CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationID_DistinctPerTrace(t *testing.T) {
	withTracing(t)

	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := observe.StartSpan(context.Background(), "price-lookup")
		cid := observe.CorrelationID(ctx)
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("trace ID %s issued twice", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestLogger(t *testing.T) {
	withTracing(t)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cases := []struct {
		name      string
		ctx       func() context.Context
		wantTrace bool
	}{
		{"with active span", func() context.Context {
			ctx, _ := observe.StartSpan(context.Background(), "session-save")
			return ctx
		}, true},
		{"without span", context.Background, false},
	}
	for _, tc := range cases {
		buf.Reset()
		observe.Logger(tc.ctx()).Info("entry added")
		got := strings.Contains(buf.String(), "trace_id=") && strings.Contains(buf.String(), "span_id=")
		if got != tc.wantTrace {
			t.Errorf("%s: trace attrs present = %v, want %v (log: %s)", tc.name, got, tc.wantTrace, buf.String())
		}
	}
}

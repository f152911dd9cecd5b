// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware tying them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/cardrip"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ResolveDuration tracks transcript-to-candidate resolution latency.
	ResolveDuration metric.Float64Histogram

	// CatalogRequests counts backend catalog calls. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	CatalogRequests metric.Int64Counter

	// CatalogErrors counts backend catalog failures. Use with attribute:
	//   attribute.String("endpoint", ...)
	CatalogErrors metric.Int64Counter

	// PriceLookups counts price enrichment outcomes. Use with attribute:
	//   attribute.String("status", ...)
	PriceLookups metric.Int64Counter

	// CardsAdded counts entries added to sessions. Use with attribute:
	//   attribute.String("rarity", ...)
	CardsAdded metric.Int64Counter

	// ActiveSessions tracks how many sessions are currently active; with a
	// single controller this is 0 or 1 but the instrument keeps the UI and
	// dashboards honest.
	ActiveSessions metric.Int64UpDownCounter

	// WSClients tracks connected event-stream clients.
	WSClients metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds); resolution
// is pure CPU work and sits in the low buckets, catalog round trips higher.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ResolveDuration, err = m.Float64Histogram("cardrip.resolve.duration",
		metric.WithDescription("Latency of transcript resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CatalogRequests, err = m.Int64Counter("cardrip.catalog.requests",
		metric.WithDescription("Total catalog backend requests by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.CatalogErrors, err = m.Int64Counter("cardrip.catalog.errors",
		metric.WithDescription("Total catalog backend failures by endpoint."),
	); err != nil {
		return nil, err
	}
	if met.PriceLookups, err = m.Int64Counter("cardrip.price.lookups",
		metric.WithDescription("Total price enrichment lookups by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CardsAdded, err = m.Int64Counter("cardrip.cards.added",
		metric.WithDescription("Total card entries added to sessions by rarity."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("cardrip.active_sessions",
		metric.WithDescription("Number of currently active ripping sessions."),
	); err != nil {
		return nil, err
	}
	if met.WSClients, err = m.Int64UpDownCounter("cardrip.ws_clients",
		metric.WithDescription("Number of connected event-stream clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("cardrip.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCatalogRequest records one backend round trip with the standard
// attribute set.
func (m *Metrics) RecordCatalogRequest(ctx context.Context, endpoint, status string) {
	m.CatalogRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.CatalogErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("endpoint", endpoint)),
		)
	}
}

// RecordPriceLookup records one price enrichment outcome.
func (m *Metrics) RecordPriceLookup(ctx context.Context, status string) {
	m.PriceLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCardAdded records one session entry by rarity.
func (m *Metrics) RecordCardAdded(ctx context.Context, rarity string) {
	if rarity == "" {
		rarity = "unknown"
	}
	m.CardsAdded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("rarity", rarity)),
	)
}

// Package prices enriches session entries with pricing snapshots fetched in
// the background, so adding a card never waits on the pricing backend.
package prices

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cardrip/internal/catalog"
	"github.com/MrWong99/cardrip/internal/observe"
	"github.com/MrWong99/cardrip/internal/session"
)

// maxConcurrentLookups bounds in-flight price requests.
const maxConcurrentLookups = 4

// Quoter fetches one pricing snapshot.
type Quoter interface {
	FetchPrice(ctx context.Context, cardName, cardNumber, rarity, artVariant string) (catalog.PriceQuote, error)
}

var _ Quoter = (*catalog.Client)(nil)

// Sessions receives the fetched snapshot.
type Sessions interface {
	ApplyPrice(entryID string, low, market float64, status string)
}

var _ Sessions = (*session.Controller)(nil)

// Request identifies the printing to price.
type Request struct {
	CardName   string
	CardNumber string
	Rarity     string
	ArtVariant string
}

// Enricher runs price lookups concurrently, bounded, and writes the results
// back into the session. Lookup failures mark the entry and never propagate.
type Enricher struct {
	quoter  Quoter
	sess    Sessions
	metrics *observe.Metrics
	group   errgroup.Group
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithMetrics records each lookup outcome on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Enricher) { e.metrics = m }
}

// NewEnricher creates an enricher pushing results into sess.
func NewEnricher(quoter Quoter, sess Sessions, opts ...Option) *Enricher {
	e := &Enricher{quoter: quoter, sess: sess}
	for _, o := range opts {
		o(e)
	}
	e.group.SetLimit(maxConcurrentLookups)
	return e
}

// Enqueue schedules a lookup for entryID. It returns immediately; the entry
// is updated to loaded, failed, or error when the lookup finishes. The lookup
// outlives the caller's request, so only ctx's values carry over.
func (e *Enricher) Enqueue(ctx context.Context, entryID string, req Request) {
	ctx = context.WithoutCancel(ctx)
	e.group.Go(func() error {
		quote, err := e.quoter.FetchPrice(ctx, req.CardName, req.CardNumber, req.Rarity, req.ArtVariant)
		switch {
		case err == nil:
			e.sess.ApplyPrice(entryID, quote.Low, quote.Market, session.PriceLoaded)
		case errors.Is(err, catalog.ErrBackendRejected):
			slog.Warn("price lookup rejected", "card", req.CardName, "err", err)
			e.sess.ApplyPrice(entryID, 0, 0, session.PriceFailed)
		default:
			slog.Warn("price lookup failed", "card", req.CardName, "err", err)
			e.sess.ApplyPrice(entryID, 0, 0, session.PriceError)
		}
		if e.metrics != nil {
			e.metrics.RecordPriceLookup(ctx, lookupStatus(err))
		}
		return nil
	})
}

// lookupStatus maps a lookup error onto the metric status label.
func lookupStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, catalog.ErrBackendRejected):
		return "rejected"
	default:
		return "transport"
	}
}

// Wait blocks until all scheduled lookups have finished.
func (e *Enricher) Wait() {
	_ = e.group.Wait()
}

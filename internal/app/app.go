// Package app wires all cardrip subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from a [config.Config], Run serves HTTP until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithBus).
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/cardrip/internal/catalog"
	"github.com/MrWong99/cardrip/internal/config"
	"github.com/MrWong99/cardrip/internal/event"
	"github.com/MrWong99/cardrip/internal/gateway"
	"github.com/MrWong99/cardrip/internal/health"
	"github.com/MrWong99/cardrip/internal/observe"
	"github.com/MrWong99/cardrip/internal/prices"
	"github.com/MrWong99/cardrip/internal/resolver"
	"github.com/MrWong99/cardrip/internal/session"
	"github.com/MrWong99/cardrip/internal/storage"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	kv         storage.KV
	bus        *event.Bus
	client     *catalog.Client
	cache      *catalog.Cache
	controller *session.Controller
	enricher   *prices.Enricher
	gateway    *gateway.Server
	metrics    *observe.Metrics

	srv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a key-value store instead of opening one from config.
func WithStore(kv storage.KV) Option {
	return func(a *App) { a.kv = kv }
}

// WithBus injects an event bus.
func WithBus(b *event.Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithMetrics injects a metrics set instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: storage is opened, the backend client and catalog cache are
// constructed, the session controller resumes any unfinished session, and the
// HTTP surface is assembled.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.bus == nil {
		a.bus = event.NewBus()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	a.initCatalog()
	a.initSessions()
	a.initGateway()

	// Resuming the previous run's session is best effort. A missing or
	// finished session is not an error.
	if s, err := a.controller.LoadLast(ctx); err != nil {
		slog.Warn("could not resume previous session", "err", err)
	} else if s != nil {
		slog.Info("resumed previous session", "session_id", s.SessionID, "set", s.SetName)
	}

	a.initHTTP()

	return a, nil
}

// initStorage opens the SQLite store at the configured path, or keeps an
// injected store. An empty path selects the in-memory store.
func (a *App) initStorage(ctx context.Context) error {
	if a.kv != nil {
		return nil
	}

	if a.cfg.Storage.Path == "" {
		slog.Warn("storage.path is empty, sessions will not survive restarts")
		a.kv = storage.NewMemStore()
		return nil
	}

	store, err := storage.OpenSQLite(ctx, a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	a.kv = store
	a.closers = append(a.closers, store.Close)
	slog.Info("opened session store", "path", a.cfg.Storage.Path)
	return nil
}

// initCatalog builds the backend client and the read-through set cache.
func (a *App) initCatalog() {
	timeout := time.Duration(a.cfg.Backend.TimeoutMs) * time.Millisecond
	a.client = catalog.NewClient(a.cfg.Backend.BaseURL, timeout)
	a.cache = catalog.NewCache(a.client, a.kv, a.bus)
}

// initSessions builds the session controller and the price enricher.
func (a *App) initSessions() {
	var opts []session.Option
	if a.cfg.Session.AutoSave {
		opts = append(opts, session.WithAutoSave(time.Duration(a.cfg.Session.AutoSaveIntervalMs)*time.Millisecond))
	}
	opts = append(opts, session.WithMaxHistory(a.cfg.Session.MaxHistory))

	a.controller = session.NewController(a.cache, a.kv, a.bus, opts...)
	a.closers = append(a.closers, func() error {
		a.controller.Close()
		return nil
	})

	if a.cfg.Backend.PriceLookups {
		a.enricher = prices.NewEnricher(a.client, a.controller, prices.WithMetrics(a.metrics))
		a.closers = append(a.closers, func() error {
			a.enricher.Wait()
			return nil
		})
	}
}

// initGateway assembles the HTTP gateway from the session defaults.
func (a *App) initGateway() {
	sc := a.cfg.Session
	a.gateway = gateway.New(gateway.Config{
		Resolve: resolver.Settings{
			AutoExtractRarity:     sc.AutoExtractRarity,
			AutoExtractArtVariant: sc.AutoExtractArtVariant,
			MatchThreshold:        sc.MatchThreshold,
			EnableFuzzyMatching:   sc.EnableFuzzyMatching,
			MaxCandidates:         sc.MaxCandidates,
		},
		AutoConfirm:          sc.AutoConfirm,
		AutoConfirmThreshold: sc.AutoConfirmThreshold,
		PriceLookups:         a.cfg.Backend.PriceLookups,
	}, a.controller, a.cache, a.enricher, a.bus, a.metrics)
}

// initHTTP mounts the gateway, health probes, and the Prometheus scrape
// endpoint onto one server.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	mux.Handle("/", a.gateway.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	h := health.New(
		health.BackendChecker(a.cfg.Backend.BaseURL),
		health.StorageChecker(a.kv),
	)
	h.Register(mux)

	a.srv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler exposes the assembled HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler
}

// Run pre-warms the set catalog and serves HTTP until ctx is cancelled. The
// catalog warm-up is best effort; the backend may come up later, in which
// case the first /api/sets request fetches the list.
func (a *App) Run(ctx context.Context) error {
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if sets, err := a.cache.LoadSets(warmCtx, ""); err != nil {
		slog.Warn("catalog warm-up failed", "err", err)
	} else {
		slog.Info("catalog loaded", "sets", len(sets))
	}
	cancel()

	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.srv.Addr, err)
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops the HTTP server and tears down subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.srv != nil {
			if err := a.srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		// A running session is saved, not stopped, so the next start can
		// resume the rip where it left off.
		a.controller.Save(ctx)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Package resilience provides the circuit breaker that shields the core from
// a dead or flapping catalog/pricing backend.
//
// The breaker is a classic three-state machine (closed → open → half-open).
// While open, calls fail immediately with [ErrOpen] instead of waiting out a
// connection timeout on every user action. After the cooldown a single probe
// call is allowed through; its outcome decides whether the breaker closes or
// re-opens.
//
// Breaker is safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cooldown has not elapsed.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed is the normal state — calls are forwarded.
	Closed State = iota

	// Open rejects calls immediately until the cooldown elapses.
	Open

	// HalfOpen allows a single probe call through.
	HalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero values are replaced with defaults.
type Config struct {
	// Name labels the breaker in log messages.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Default: 30s.
	Cooldown time.Duration
}

// Breaker implements the three-state circuit breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a [Breaker] from cfg.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
	}
}

// Do runs fn unless the breaker is open. Context cancellation of fn counts as
// a failure like any other error; callers see fn's error unchanged.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// admit decides whether a call may proceed, transitioning open → half-open
// when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = true
		slog.Info("circuit breaker probing", "name", b.name)
		return nil
	case HalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// record applies the call outcome to the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.probing = false
		if err != nil {
			b.state = Open
			b.openedAt = time.Now()
			slog.Warn("circuit breaker re-opened", "name", b.name)
			return
		}
		b.state = Closed
		b.failures = 0
		slog.Info("circuit breaker closed", "name", b.name)
		return
	}

	if err != nil {
		b.failures++
		if b.failures >= b.threshold {
			b.state = Open
			b.openedAt = time.Now()
			slog.Warn("circuit breaker opened",
				"name", b.name,
				"consecutive_failures", b.failures,
			)
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [Closed], clearing failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
}

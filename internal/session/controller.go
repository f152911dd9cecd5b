package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cardrip/internal/catalog"
	"github.com/MrWong99/cardrip/internal/event"
	"github.com/MrWong99/cardrip/internal/storage"
)

// Catalog is the slice of the catalog cache the controller needs.
type Catalog interface {
	SetByID(id string) (catalog.CardSet, error)
	SetByName(name string) (catalog.CardSet, bool)
	LoadSetCards(ctx context.Context, setID string) ([]catalog.Card, error)
}

var _ Catalog = (*catalog.Cache)(nil)

// DefaultMaxHistory bounds the archived session list.
const DefaultMaxHistory = 20

// Controller drives the session state machine. All methods are safe for
// concurrent use; events are emitted outside the lock with deep-copied
// payloads so listeners can call back in.
type Controller struct {
	cat Catalog
	kv  storage.KV
	bus *event.Bus

	mu         sync.Mutex
	state      State
	current    *Session
	history    []*Session // newest first
	maxHistory int

	autoSave         bool
	autoSaveInterval time.Duration
	autoSaveStop     chan struct{}

	now   func() time.Time
	newID func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithAutoSave enables periodic persistence of the active session.
func WithAutoSave(interval time.Duration) Option {
	return func(c *Controller) {
		c.autoSave = true
		c.autoSaveInterval = interval
	}
}

// WithMaxHistory overrides the archived-session bound.
func WithMaxHistory(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates an idle controller. kv may be nil to disable
// persistence entirely.
func NewController(cat Catalog, kv storage.KV, bus *event.Bus, opts ...Option) *Controller {
	c := &Controller{
		cat:        cat,
		kv:         kv,
		bus:        bus,
		maxHistory: DefaultMaxHistory,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a deep copy of the current session, or nil when idle.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// History returns deep copies of the archived sessions, newest first.
func (c *Controller) History() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, len(c.history))
	for i, s := range c.history {
		out[i] = s.Clone()
	}
	return out
}

// Start begins a new session bound to setID. An already active session is
// stopped first. The set's cards are pre-loaded; a catalog failure aborts
// the start and leaves prior state intact.
func (c *Controller) Start(ctx context.Context, setID string) (*Session, error) {
	set, err := c.cat.SetByID(setID)
	if err != nil {
		return nil, err
	}
	if _, err := c.cat.LoadSetCards(ctx, setID); err != nil {
		return nil, fmt.Errorf("session: pre-loading cards for %q: %w", set.SetName, err)
	}

	if c.State() == Active {
		if _, err := c.Stop(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	s := &Session{
		SessionID: c.newID(),
		SetID:     set.SetID,
		SetName:   set.SetName,
		StartTime: c.now(),
		Entries:   []Entry{},
	}
	s.recomputeStatistics(c.now())
	c.current = s
	c.state = Active
	c.startAutoSaveLocked()
	snap := s.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.SessionStart, snap)
	slog.Info("session started", "session_id", snap.SessionID, "set", snap.SetName)
	return snap, nil
}

// Stop ends the active session: stamps the end time, archives a copy into
// bounded history, persists, and cancels auto-save. Stopping while idle is a
// warned no-op returning nil.
func (c *Controller) Stop(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.state != Active || c.current == nil {
		c.mu.Unlock()
		slog.Warn("stop requested with no active session")
		return nil, nil
	}

	end := c.now()
	c.current.EndTime = &end
	c.current.recomputeStatistics(end)
	c.state = Stopped
	c.stopAutoSaveLocked()

	archived := c.current.Clone()
	c.history = append([]*Session{archived.Clone()}, c.history...)
	if len(c.history) > c.maxHistory {
		c.history = c.history[:c.maxHistory]
	}
	c.mu.Unlock()

	c.persist(ctx, storage.KeySessionHistory, c.History())
	c.persist(ctx, storage.KeyLastSession, archived)
	if !c.Save(ctx) {
		slog.Warn("persisting stopped session failed", "session_id", archived.SessionID)
	}

	c.bus.Emit(event.SessionStop, archived)
	slog.Info("session stopped",
		"session_id", archived.SessionID,
		"cards", archived.Statistics.TotalCards,
	)
	return archived, nil
}

// Clear empties the entries of the active session.
func (c *Controller) Clear() error {
	c.mu.Lock()
	if c.state != Active || c.current == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.current.Entries = []Entry{}
	c.current.recomputeStatistics(c.now())
	snap := c.current.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.SessionClear, nil)
	c.bus.Emit(event.SessionUpdate, snap)
	return nil
}

// SwitchSet rebinds the active session to another set, keeping the entries.
// Switching to the current set is a no-op.
func (c *Controller) SwitchSet(ctx context.Context, newSetID string) error {
	c.mu.Lock()
	if c.state != Active || c.current == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.current.SetID == newSetID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	set, err := c.cat.SetByID(newSetID)
	if err != nil {
		return err
	}
	if _, err := c.cat.LoadSetCards(ctx, newSetID); err != nil {
		return fmt.Errorf("session: pre-loading cards for %q: %w", set.SetName, err)
	}

	c.mu.Lock()
	if c.state != Active || c.current == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.current.SetID = set.SetID
	c.current.SetName = set.SetName
	c.current.recomputeStatistics(c.now())
	snap := c.current.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.SessionUpdate, snap)
	return nil
}

// AddCard appends an entry to the active session. The entry id and timestamp
// are allocated here; caller-supplied fields are kept as given. A quantity
// below 1 becomes 1.
func (c *Controller) AddCard(partial Entry) (Entry, error) {
	c.mu.Lock()
	if c.state != Active || c.current == nil {
		c.mu.Unlock()
		return Entry{}, ErrNotActive
	}

	e := partial
	e.EntryID = c.newID()
	e.Timestamp = c.now()
	if e.Quantity < 1 {
		e.Quantity = 1
	}
	c.current.Entries = append(c.current.Entries, e)
	c.current.recomputeStatistics(c.now())
	snap := c.current.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.CardAdded, e)
	c.bus.Emit(event.SessionUpdate, snap)
	return e, nil
}

// RemoveCard splices the entry out of the active session.
func (c *Controller) RemoveCard(entryID string) (Entry, error) {
	c.mu.Lock()
	if c.state != Active || c.current == nil {
		c.mu.Unlock()
		return Entry{}, ErrNotActive
	}
	i := c.current.findEntry(entryID)
	if i < 0 {
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownEntry, entryID)
	}
	removed := c.current.Entries[i]
	c.current.Entries = append(c.current.Entries[:i], c.current.Entries[i+1:]...)
	c.current.recomputeStatistics(c.now())
	snap := c.current.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.CardRemoved, removed)
	c.bus.Emit(event.SessionUpdate, snap)
	return removed, nil
}

// AdjustCardQuantity shifts an entry's quantity by delta, clamped at 1.
// A resulting no-op emits nothing.
func (c *Controller) AdjustCardQuantity(entryID string, delta int) error {
	c.mu.Lock()
	if c.state != Active || c.current == nil {
		c.mu.Unlock()
		return ErrNotActive
	}
	i := c.current.findEntry(entryID)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownEntry, entryID)
	}

	newQty := c.current.Entries[i].Quantity + delta
	if newQty < 1 {
		newQty = 1
	}
	if newQty == c.current.Entries[i].Quantity {
		c.mu.Unlock()
		return nil
	}
	c.current.Entries[i].Quantity = newQty
	c.current.recomputeStatistics(c.now())
	snap := c.current.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.SessionUpdate, snap)
	return nil
}

// ApplyPrice updates the price snapshot of one entry, typically from the
// async price enricher. Unknown entries are ignored so a lookup finishing
// after removal stays harmless.
func (c *Controller) ApplyPrice(entryID string, low, market float64, status string) {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	i := c.current.findEntry(entryID)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.current.Entries[i].Price = low
	c.current.Entries[i].PriceMarket = market
	c.current.Entries[i].PriceStatus = status
	c.current.recomputeStatistics(c.now())
	snap := c.current.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.SessionUpdate, snap)
}

// Save persists the current session. It reports success and never returns an
// error; failures are logged.
func (c *Controller) Save(ctx context.Context) bool {
	snap := c.Current()
	if snap == nil || c.kv == nil {
		return false
	}
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("encoding session for persistence", "err", err)
		return false
	}
	if err := c.kv.Set(ctx, storage.KeyCurrentSession, data); err != nil {
		slog.Error("persisting session", "err", err)
		return false
	}
	return true
}

// LoadLast restores the persisted current session. It resumes into Active
// only when that session never ended; a finished or missing session yields
// nil without error.
func (c *Controller) LoadLast(ctx context.Context) (*Session, error) {
	if c.kv == nil {
		return nil, nil
	}
	data, err := c.kv.Get(ctx, storage.KeyCurrentSession)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: reading persisted session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decoding persisted session: %w", err)
	}
	if s.EndTime != nil {
		return nil, nil
	}

	c.mu.Lock()
	s.recomputeStatistics(c.now())
	c.current = &s
	c.state = Active
	c.startAutoSaveLocked()
	snap := s.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.SessionUpdate, snap)
	slog.Info("session resumed", "session_id", snap.SessionID, "set", snap.SetName)
	return snap, nil
}

// persist writes v as JSON under key, logging and swallowing failures.
func (c *Controller) persist(ctx context.Context, key string, v any) {
	if c.kv == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding for persistence", "key", key, "err", err)
		return
	}
	if err := c.kv.Set(ctx, key, data); err != nil {
		slog.Error("persisting", "key", key, "err", err)
	}
}

// startAutoSaveLocked (re)arms the auto-save loop. Calling it twice cancels
// the prior loop first. Caller holds c.mu.
func (c *Controller) startAutoSaveLocked() {
	c.stopAutoSaveLocked()
	if !c.autoSave || c.autoSaveInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.autoSaveStop = stop
	interval := c.autoSaveInterval
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if !c.Save(context.Background()) {
					slog.Warn("auto-save failed")
				}
			}
		}
	}()
}

// stopAutoSaveLocked cancels a running auto-save loop. Caller holds c.mu.
func (c *Controller) stopAutoSaveLocked() {
	if c.autoSaveStop != nil {
		close(c.autoSaveStop)
		c.autoSaveStop = nil
	}
}

// Close cancels background work. The controller is unusable afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopAutoSaveLocked()
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/cardrip/internal/event"
	"github.com/MrWong99/cardrip/internal/storage"
)

// setsFreshness is how long a persisted set list is served without refetching.
const setsFreshness = 24 * time.Hour

// expectedMinSets triggers a soft warning when the unfiltered set list comes
// back suspiciously small; the full catalog is around a thousand sets.
const expectedMinSets = 500

// ErrUnknownSet is returned when a set id does not exist in the loaded catalog.
var ErrUnknownSet = errors.New("catalog: unknown set")

// SetsLoadedEvent is the payload emitted on [event.SetsLoaded].
type SetsLoadedEvent struct {
	Sets      []CardSet `json:"sets"`
	Query     string    `json:"query"`
	TotalSets int       `json:"totalSets"`
	Filtered  bool      `json:"filtered"`
	Error     string    `json:"error,omitempty"`
}

// SetsFilteredEvent is the payload emitted on [event.SetsFiltered].
type SetsFilteredEvent struct {
	Sets          []CardSet `json:"sets"`
	Query         string    `json:"query"`
	TotalSets     int       `json:"totalSets"`
	FilteredCount int       `json:"filteredCount"`
}

// Cache serves the set list and per-set card lists from memory. The set list
// is read through the KV store with a 24 h freshness window; card lists are
// memoized in memory only, for the lifetime of the process.
//
// All methods are safe for concurrent use. Failed loads never mutate the
// cached state.
type Cache struct {
	client *Client
	kv     storage.KV // nil disables persistence
	bus    *event.Bus

	mu        sync.Mutex
	sets      []CardSet
	fetchedAt time.Time
	cards     map[string][]Card // keyed by SetID

	sf singleflight.Group
}

// NewCache creates a catalog cache. kv may be nil to keep the cache purely
// in-memory.
func NewCache(client *Client, kv storage.KV, bus *event.Bus) *Cache {
	return &Cache{
		client: client,
		kv:     kv,
		bus:    bus,
		cards:  make(map[string][]Card),
	}
}

// LoadSets returns the set list. With an empty query the cached list is
// served while fresh (memory first, then the KV mirror); otherwise the
// backend is asked to search server-side and the cached list is untouched.
// A setsLoaded event is emitted in every outcome, carrying the error message
// on failure.
func (c *Cache) LoadSets(ctx context.Context, query string) ([]CardSet, error) {
	if query != "" {
		sets, err := c.client.FetchSets(ctx, query)
		if err != nil {
			c.bus.Emit(event.SetsLoaded, SetsLoadedEvent{Query: query, Filtered: true, Error: err.Error()})
			return nil, err
		}
		c.bus.Emit(event.SetsLoaded, SetsLoadedEvent{
			Sets:      sets,
			Query:     query,
			TotalSets: len(sets),
			Filtered:  true,
		})
		return sets, nil
	}

	c.mu.Lock()
	if len(c.sets) > 0 && time.Since(c.fetchedAt) < setsFreshness {
		sets := c.sets
		c.mu.Unlock()
		c.emitLoaded(sets)
		return sets, nil
	}
	c.mu.Unlock()

	if sets, ok := c.loadPersistedSets(ctx); ok {
		c.emitLoaded(sets)
		return sets, nil
	}

	sets, err := c.client.FetchSets(ctx, "")
	if err != nil {
		c.bus.Emit(event.SetsLoaded, SetsLoadedEvent{Error: err.Error()})
		return nil, err
	}
	if len(sets) < expectedMinSets {
		slog.Warn("set list smaller than expected",
			"got", len(sets),
			"expected_min", expectedMinSets,
		)
	}

	now := time.Now()
	c.mu.Lock()
	c.sets = sets
	c.fetchedAt = now
	c.mu.Unlock()

	c.persistSets(ctx, sets, now)
	c.emitLoaded(sets)
	return sets, nil
}

// FilterSets narrows the cached set list to entries whose name or code
// contains query (case-insensitive). It is a pure function of the cached
// list and emits a setsFiltered event.
func (c *Cache) FilterSets(query string) []CardSet {
	c.mu.Lock()
	all := c.sets
	c.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	var filtered []CardSet
	if q == "" {
		filtered = all
	} else {
		for _, s := range all {
			name := strings.ToLower(s.SetName)
			code := strings.ToLower(s.SetCode)
			if strings.Contains(name, q) || strings.Contains(code, q) ||
				strings.HasPrefix(name, q) || strings.HasPrefix(code, q) {
				filtered = append(filtered, s)
			}
		}
	}

	c.bus.Emit(event.SetsFiltered, SetsFilteredEvent{
		Sets:          filtered,
		Query:         query,
		TotalSets:     len(all),
		FilteredCount: len(filtered),
	})
	return filtered
}

// SetByID resolves id against the cached set list.
func (c *Cache) SetByID(id string) (CardSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sets {
		if s.SetID == id {
			return s, nil
		}
	}
	return CardSet{}, fmt.Errorf("%w: %q", ErrUnknownSet, id)
}

// SetByName resolves a display name against the cached set list,
// case-insensitively.
func (c *Cache) SetByName(name string) (CardSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sets {
		if strings.EqualFold(s.SetName, name) {
			return s, true
		}
	}
	return CardSet{}, false
}

// LoadSetCards returns the cards of the set identified by setID, fetching
// them once and serving the memoized list afterwards. Concurrent first loads
// of the same set are collapsed into a single backend request.
func (c *Cache) LoadSetCards(ctx context.Context, setID string) ([]Card, error) {
	set, err := c.SetByID(setID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if cards, ok := c.cards[setID]; ok {
		c.mu.Unlock()
		return cards, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(setID, func() (any, error) {
		cards, err := c.client.FetchSetCards(ctx, set.SetName)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cards[setID] = cards
		c.mu.Unlock()
		return cards, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Card), nil
}

// emitLoaded publishes an unfiltered setsLoaded event.
func (c *Cache) emitLoaded(sets []CardSet) {
	c.bus.Emit(event.SetsLoaded, SetsLoadedEvent{
		Sets:      sets,
		TotalSets: len(sets),
	})
}

// loadPersistedSets adopts the KV-mirrored set list when it is still fresh.
func (c *Cache) loadPersistedSets(ctx context.Context) ([]CardSet, bool) {
	if c.kv == nil {
		return nil, false
	}

	tsRaw, err := c.kv.Get(ctx, storage.KeyCardSetsTimestamp)
	if err != nil {
		return nil, false
	}
	ts, err := time.Parse(time.RFC3339, string(tsRaw))
	if err != nil || time.Since(ts) >= setsFreshness {
		return nil, false
	}

	data, err := c.kv.Get(ctx, storage.KeyCardSets)
	if err != nil {
		return nil, false
	}
	var sets []CardSet
	if err := json.Unmarshal(data, &sets); err != nil || len(sets) == 0 {
		return nil, false
	}

	c.mu.Lock()
	c.sets = sets
	c.fetchedAt = ts
	c.mu.Unlock()
	return sets, true
}

// persistSets mirrors the set list to the KV store. Failures are logged and
// swallowed — persistence is best effort.
func (c *Cache) persistSets(ctx context.Context, sets []CardSet, at time.Time) {
	if c.kv == nil {
		return
	}
	data, err := json.Marshal(sets)
	if err != nil {
		slog.Warn("failed to encode set list for persistence", "err", err)
		return
	}
	if err := c.kv.Set(ctx, storage.KeyCardSets, data); err != nil {
		slog.Warn("failed to persist set list", "err", err)
		return
	}
	if err := c.kv.Set(ctx, storage.KeyCardSetsTimestamp, []byte(at.Format(time.RFC3339))); err != nil {
		slog.Warn("failed to persist set list timestamp", "err", err)
	}
}

// Package session owns the pack-ripping session: an ordered log of card
// entries bound to one set, with a small state machine around it, bounded
// history, persistence, and export/import in several formats.
package session

import (
	"errors"
	"time"
)

// State of the controller. Exactly one session is Active at a time.
type State int

const (
	Idle State = iota
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Price lookup status of an entry.
const (
	PriceLoading = "loading"
	PriceLoaded  = "loaded"
	PriceFailed  = "failed"
	PriceError   = "error"
)

var (
	// ErrNotActive is returned by operations that require an active session.
	ErrNotActive = errors.New("session: no active session")
	// ErrUnknownEntry is returned when an entry id is not in the session.
	ErrUnknownEntry = errors.New("session: unknown entry")
	// ErrBadImport is returned for import payloads in no recognized format.
	ErrBadImport = errors.New("session: unrecognized import payload")
)

// Entry is one pulled card. Quantity is always >= 1. Price fields hold the
// last fetched snapshot and are display-only.
type Entry struct {
	EntryID     string    `json:"entryId"`
	CardID      string    `json:"cardId,omitempty"`
	CardName    string    `json:"cardName"`
	Rarity      string    `json:"rarity,omitempty"`
	SetCode     string    `json:"setCode,omitempty"`
	SetName     string    `json:"setName,omitempty"`
	ArtVariant  string    `json:"artVariant,omitempty"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price,omitempty"`
	PriceMarket float64   `json:"priceMarket,omitempty"`
	PriceStatus string    `json:"priceStatus,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Imported    bool      `json:"imported,omitempty"`
}

// Statistics are recomputed from the entries after every mutation.
type Statistics struct {
	TotalCards       int            `json:"totalCards"`
	PriceLowTotal    float64        `json:"priceLowTotal"`
	PriceMarketTotal float64        `json:"priceMarketTotal"`
	RarityBreakdown  map[string]int `json:"rarityBreakdown"`
	DurationMs       int64          `json:"durationMs"`
}

// Session is the mutable log of one pack-opening event. Entries are kept in
// insertion order, newest last. EndTime is nil while the session is live.
type Session struct {
	SessionID     string     `json:"sessionId"`
	SetID         string     `json:"setId"`
	SetName       string     `json:"setName"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime"`
	Entries       []Entry    `json:"entries"`
	Statistics    Statistics `json:"statistics"`
	LegacyUnbound bool       `json:"legacyUnbound,omitempty"`
}

// Clone returns a deep copy, safe to hand to listeners and history.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Entries = make([]Entry, len(s.Entries))
	copy(cp.Entries, s.Entries)
	if s.EndTime != nil {
		end := *s.EndTime
		cp.EndTime = &end
	}
	if s.Statistics.RarityBreakdown != nil {
		cp.Statistics.RarityBreakdown = make(map[string]int, len(s.Statistics.RarityBreakdown))
		for k, v := range s.Statistics.RarityBreakdown {
			cp.Statistics.RarityBreakdown[k] = v
		}
	}
	return &cp
}

// recomputeStatistics derives the aggregate view from the entries.
// Quantity weights every total; a missing price counts as zero.
func (s *Session) recomputeStatistics(now time.Time) {
	stats := Statistics{RarityBreakdown: make(map[string]int)}
	for _, e := range s.Entries {
		stats.TotalCards += e.Quantity
		stats.PriceLowTotal += float64(e.Quantity) * e.Price
		stats.PriceMarketTotal += float64(e.Quantity) * e.PriceMarket
		if e.Rarity != "" {
			stats.RarityBreakdown[e.Rarity] += e.Quantity
		}
	}
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if !s.StartTime.IsZero() {
		stats.DurationMs = end.Sub(s.StartTime).Milliseconds()
	}
	s.Statistics = stats
}

// findEntry returns the index of entryID, or -1.
func (s *Session) findEntry(entryID string) int {
	for i := range s.Entries {
		if s.Entries[i].EntryID == entryID {
			return i
		}
	}
	return -1
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/cardrip/internal/event"
)

// Import loads a session from an exported payload and makes it the active
// session, stopping any running one first. Three shapes are accepted: the
// current export format, a future format carrying an explicit setId, and the
// legacy free-form format with "cards" and "current_set". Entries coming in
// through any path are marked imported.
func (c *Controller) Import(ctx context.Context, data []byte) (*Session, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImport, err)
	}

	var (
		s   *Session
		err error
	)
	switch {
	case probe["entries"] != nil || probe["sessionId"] != nil:
		s, err = c.importCurrent(data)
	case probe["cards"] != nil:
		s, err = c.importLegacy(probe)
	default:
		return nil, fmt.Errorf("%w: no entries or cards field", ErrBadImport)
	}
	if err != nil {
		return nil, err
	}

	if c.State() == Active {
		if _, err := c.Stop(ctx); err != nil {
			return nil, err
		}
	}

	c.bindSet(s)
	if s.SessionID == "" {
		s.SessionID = c.newID()
	}
	if s.StartTime.IsZero() {
		s.StartTime = c.now()
	}
	s.EndTime = nil
	for i := range s.Entries {
		s.Entries[i].Imported = true
		if s.Entries[i].EntryID == "" {
			s.Entries[i].EntryID = c.newID()
		}
		if s.Entries[i].Timestamp.IsZero() {
			s.Entries[i].Timestamp = c.now()
		}
		if s.Entries[i].Quantity < 1 {
			s.Entries[i].Quantity = 1
		}
	}

	c.mu.Lock()
	s.recomputeStatistics(c.now())
	c.current = s
	c.state = Active
	c.startAutoSaveLocked()
	snap := s.Clone()
	c.mu.Unlock()

	c.bus.Emit(event.SessionUpdate, snap)
	slog.Info("session imported",
		"session_id", snap.SessionID,
		"entries", len(snap.Entries),
		"legacy_unbound", snap.LegacyUnbound,
	)
	return snap, nil
}

// importCurrent handles the current and future formats, which both decode
// straight into Session. Extra export metadata fields are ignored.
func (c *Controller) importCurrent(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImport, err)
	}
	return &s, nil
}

// importLegacy coerces the old free-form payload: a "cards" array of loose
// records plus a "current_set" display name. Records that are not objects or
// have no recognizable name are dropped.
func (c *Controller) importLegacy(probe map[string]json.RawMessage) (*Session, error) {
	var cards []json.RawMessage
	if err := json.Unmarshal(probe["cards"], &cards); err != nil {
		return nil, fmt.Errorf("%w: cards is not an array", ErrBadImport)
	}

	s := &Session{}
	if raw, ok := probe["current_set"]; ok {
		_ = json.Unmarshal(raw, &s.SetName)
	}

	for _, raw := range cards {
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Warn("dropping non-object legacy card record")
			continue
		}
		name := legacyString(rec, "name", "card_name", "cardName")
		if name == "" {
			slog.Warn("dropping legacy card record without a name")
			continue
		}
		e := Entry{
			CardName:   name,
			Rarity:     legacyString(rec, "card_rarity", "rarity"),
			SetCode:    legacyString(rec, "set_code", "setCode", "card_number"),
			ArtVariant: legacyString(rec, "art_variant", "artVariant"),
			Condition:  legacyString(rec, "condition"),
			Quantity:   legacyInt(rec, "quantity"),
		}
		if ts := legacyString(rec, "timestamp"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				e.Timestamp = t
			}
		}
		if p, ok := rec["tcg_price"].(float64); ok {
			e.Price = p
		} else if p, ok := rec["price"].(float64); ok {
			e.Price = p
		}
		if p, ok := rec["tcg_market_price"].(float64); ok {
			e.PriceMarket = p
		}
		s.Entries = append(s.Entries, e)
	}
	return s, nil
}

// bindSet resolves the imported session against the catalog. A setId wins
// over a display name. A legacy session whose set name matches nothing is
// kept unbound and flagged, never rebound to a guessed set.
func (c *Controller) bindSet(s *Session) {
	if s.SetID != "" {
		if set, err := c.cat.SetByID(s.SetID); err == nil {
			s.SetID = set.SetID
			s.SetName = set.SetName
			return
		}
	}
	if s.SetName != "" {
		if set, ok := c.cat.SetByName(s.SetName); ok {
			s.SetID = set.SetID
			s.SetName = set.SetName
			return
		}
		s.LegacyUnbound = true
		slog.Warn("imported session set not found in catalog", "set", s.SetName)
	}
}

// legacyString returns the first non-empty string among keys.
func legacyString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := rec[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// legacyInt returns rec[key] as an int when it is a JSON number.
func legacyInt(rec map[string]any, key string) int {
	if v, ok := rec[key].(float64); ok {
		return int(v)
	}
	return 0
}

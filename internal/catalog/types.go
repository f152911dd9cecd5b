// Package catalog owns the card-set catalog: the backend HTTP client, the
// in-memory cache with KV read-through for the set list, and the boundary
// normalization that maps the backend's inconsistent field spellings into
// canonical records. Past this package no component touches alternate
// spellings.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CardSet identifies one released card set. SetID is the authoritative key
// and unique within a loaded catalog.
type CardSet struct {
	SetID   string `json:"setId"`
	SetName string `json:"setName"`
	SetCode string `json:"setCode"`
}

// Printing is a concrete (rarity, set) appearance of a card — the atomic
// identity the resolver returns.
type Printing struct {
	Rarity  string `json:"rarity"`
	SetCode string `json:"setCode"`
	SetName string `json:"setName"`
}

// Card is one catalog entry with zero or more printings. A card with no
// printings is valid but contributes nothing to resolution.
type Card struct {
	CardID    string     `json:"cardId"`
	Name      string     `json:"name"`
	Printings []Printing `json:"printings"`
}

// invalidRarities are sentinel strings that mark a printing as unresolvable.
// Cached records keep such printings; the resolver filters them.
var invalidRarities = map[string]struct{}{
	"":          {},
	"unknown":   {},
	"n/a":       {},
	"undefined": {},
	"null":      {},
}

// ValidRarity reports whether rarity identifies a real printing rarity.
// The check trims and lowercases before comparing against the sentinels.
func ValidRarity(rarity string) bool {
	_, bad := invalidRarities[strings.ToLower(strings.TrimSpace(rarity))]
	return !bad
}

// normalizeSet maps one backend set record into a [CardSet], accepting any of
// the field spellings the backend is known to emit.
func normalizeSet(raw map[string]any) CardSet {
	name := firstString(raw, "set_name", "name", "setName")
	code := firstString(raw, "set_code", "code", "setCode", "id")
	id := firstString(raw, "id", "set_code", "code", "setCode")
	if id == "" {
		id = name
	}
	return CardSet{SetID: id, SetName: name, SetCode: code}
}

// normalizeCard maps one backend card record into a [Card].
func normalizeCard(raw map[string]any) Card {
	card := Card{
		CardID: firstString(raw, "id", "card_id", "cardId"),
		Name:   firstString(raw, "name", "card_name", "cardName"),
	}
	sets, _ := raw["card_sets"].([]any)
	for _, s := range sets {
		m, ok := s.(map[string]any)
		if !ok {
			continue
		}
		card.Printings = append(card.Printings, Printing{
			Rarity:  firstString(m, "set_rarity", "rarity"),
			SetCode: firstString(m, "set_code", "code", "setCode"),
			SetName: firstString(m, "set_name", "name", "setName"),
		})
	}
	return card
}

// firstString returns the first non-empty value among keys, stringifying
// JSON numbers so numeric ids survive normalization.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

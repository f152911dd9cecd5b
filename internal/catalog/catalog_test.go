package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/cardrip/internal/catalog"
	"github.com/MrWong99/cardrip/internal/event"
	"github.com/MrWong99/cardrip/internal/storage"
)

// newBackend spins up a fake backend serving the standard envelope shape.
func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func respond(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func TestClient_FetchSets_NormalizesFieldSpellings(t *testing.T) {
	t.Parallel()

	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, []map[string]any{
			{"set_name": "Legend of Blue Eyes", "set_code": "LOB"},
			{"name": "Metal Raiders", "code": "MRD"},
			{"setName": "Supreme Darkness", "setCode": "SUDA", "id": "suda-1"},
			{"name": "Numeric ID", "id": float64(42)},
		})
	})

	c := catalog.NewClient(srv.URL, time.Second)
	sets, err := c.FetchSets(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchSets: %v", err)
	}
	if len(sets) != 4 {
		t.Fatalf("got %d sets, want 4", len(sets))
	}

	if sets[0].SetName != "Legend of Blue Eyes" || sets[0].SetCode != "LOB" {
		t.Errorf("snake_case record normalized to %+v", sets[0])
	}
	if sets[1].SetName != "Metal Raiders" || sets[1].SetCode != "MRD" {
		t.Errorf("short-name record normalized to %+v", sets[1])
	}
	if sets[2].SetID != "suda-1" {
		t.Errorf("explicit id lost: %+v", sets[2])
	}
	if sets[3].SetID != "42" {
		t.Errorf("numeric id not stringified: %+v", sets[3])
	}
}

func TestClient_BackendRejected(t *testing.T) {
	t.Parallel()

	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "database offline"})
	})

	c := catalog.NewClient(srv.URL, time.Second)
	_, err := c.FetchSets(context.Background(), "")
	if !errors.Is(err, catalog.ErrBackendRejected) {
		t.Fatalf("error = %v, want ErrBackendRejected", err)
	}
}

func TestClient_TransportError(t *testing.T) {
	t.Parallel()

	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	c := catalog.NewClient(srv.URL, time.Second)
	_, err := c.FetchSets(context.Background(), "")
	if !errors.Is(err, catalog.ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
}

func TestCache_LoadSets_Memoizes(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		respond(w, []map[string]any{{"set_name": "Legend of Blue Eyes", "set_code": "LOB"}})
	})

	cache := catalog.NewCache(catalog.NewClient(srv.URL, time.Second), nil, event.NewBus())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.LoadSets(ctx, ""); err != nil {
			t.Fatalf("LoadSets call %d: %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend fetched %d times, want 1", got)
	}
}

func TestCache_LoadSets_ReadsThroughKV(t *testing.T) {
	t.Parallel()

	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend hit despite fresh KV mirror")
	})

	kv := storage.NewMemStore()
	ctx := context.Background()
	persisted, _ := json.Marshal([]catalog.CardSet{{SetID: "LOB", SetName: "Legend of Blue Eyes", SetCode: "LOB"}})
	_ = kv.Set(ctx, storage.KeyCardSets, persisted)
	_ = kv.Set(ctx, storage.KeyCardSetsTimestamp, []byte(time.Now().Format(time.RFC3339)))

	cache := catalog.NewCache(catalog.NewClient(srv.URL, time.Second), kv, event.NewBus())
	sets, err := cache.LoadSets(ctx, "")
	if err != nil {
		t.Fatalf("LoadSets: %v", err)
	}
	if len(sets) != 1 || sets[0].SetName != "Legend of Blue Eyes" {
		t.Errorf("sets = %+v, want persisted list", sets)
	}
}

func TestCache_LoadSets_StaleKVRefetches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		respond(w, []map[string]any{{"set_name": "Fresh Set", "set_code": "FRS"}})
	})

	kv := storage.NewMemStore()
	ctx := context.Background()
	persisted, _ := json.Marshal([]catalog.CardSet{{SetID: "OLD", SetName: "Stale Set", SetCode: "OLD"}})
	_ = kv.Set(ctx, storage.KeyCardSets, persisted)
	_ = kv.Set(ctx, storage.KeyCardSetsTimestamp,
		[]byte(time.Now().Add(-25*time.Hour).Format(time.RFC3339)))

	cache := catalog.NewCache(catalog.NewClient(srv.URL, time.Second), kv, event.NewBus())
	sets, err := cache.LoadSets(ctx, "")
	if err != nil {
		t.Fatalf("LoadSets: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("backend fetched %d times, want 1", calls.Load())
	}
	if len(sets) != 1 || sets[0].SetName != "Fresh Set" {
		t.Errorf("sets = %+v, want refetched list", sets)
	}
}

func TestCache_FilterSets(t *testing.T) {
	t.Parallel()

	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, []map[string]any{
			{"set_name": "Legend of Blue Eyes White Dragon", "set_code": "LOB"},
			{"set_name": "Metal Raiders", "set_code": "MRD"},
			{"set_name": "Supreme Darkness", "set_code": "SUDA"},
		})
	})

	bus := event.NewBus()
	var filteredEvent catalog.SetsFilteredEvent
	bus.On(event.SetsFiltered, func(p any) {
		filteredEvent = p.(catalog.SetsFilteredEvent)
	})

	cache := catalog.NewCache(catalog.NewClient(srv.URL, time.Second), nil, bus)
	if _, err := cache.LoadSets(context.Background(), ""); err != nil {
		t.Fatalf("LoadSets: %v", err)
	}

	got := cache.FilterSets("dark")
	if len(got) != 1 || got[0].SetCode != "SUDA" {
		t.Errorf("FilterSets(dark) = %+v, want Supreme Darkness", got)
	}
	if filteredEvent.TotalSets != 3 || filteredEvent.FilteredCount != 1 {
		t.Errorf("setsFiltered payload = %+v", filteredEvent)
	}

	byCode := cache.FilterSets("mrd")
	if len(byCode) != 1 || byCode[0].SetName != "Metal Raiders" {
		t.Errorf("FilterSets(mrd) = %+v, want Metal Raiders", byCode)
	}
}

func TestCache_LoadSetCards_MemoizesByID(t *testing.T) {
	t.Parallel()

	var cardCalls atomic.Int32
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/card-sets/from-cache" {
			respond(w, []map[string]any{{"set_name": "Legend of Blue Eyes", "set_code": "LOB"}})
			return
		}
		cardCalls.Add(1)
		respond(w, []map[string]any{
			{
				"id":   float64(4007),
				"name": "Dark Magician",
				"card_sets": []map[string]any{
					{"set_rarity": "Ultra Rare", "set_code": "LOB-005", "set_name": "Legend of Blue Eyes"},
				},
			},
		})
	})

	cache := catalog.NewCache(catalog.NewClient(srv.URL, time.Second), nil, event.NewBus())
	ctx := context.Background()
	if _, err := cache.LoadSets(ctx, ""); err != nil {
		t.Fatalf("LoadSets: %v", err)
	}

	for i := 0; i < 2; i++ {
		cards, err := cache.LoadSetCards(ctx, "LOB")
		if err != nil {
			t.Fatalf("LoadSetCards call %d: %v", i, err)
		}
		if len(cards) != 1 || cards[0].Name != "Dark Magician" || cards[0].CardID != "4007" {
			t.Fatalf("cards = %+v", cards)
		}
		if len(cards[0].Printings) != 1 || cards[0].Printings[0].Rarity != "Ultra Rare" {
			t.Fatalf("printings = %+v", cards[0].Printings)
		}
	}
	if cardCalls.Load() != 1 {
		t.Errorf("card endpoint hit %d times, want 1", cardCalls.Load())
	}
}

func TestCache_LoadSetCards_UnknownSet(t *testing.T) {
	t.Parallel()

	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		respond(w, []map[string]any{})
	})

	cache := catalog.NewCache(catalog.NewClient(srv.URL, time.Second), nil, event.NewBus())
	_, err := cache.LoadSetCards(context.Background(), "nope")
	if !errors.Is(err, catalog.ErrUnknownSet) {
		t.Errorf("error = %v, want ErrUnknownSet", err)
	}
}

func TestClient_FetchPrice(t *testing.T) {
	t.Parallel()

	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/price" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["card_name"] != "Dark Magician" || req["card_rarity"] != "Ultra Rare" {
			t.Errorf("price request body = %v", req)
		}
		respond(w, map[string]any{"tcg_price": 15.5, "tcg_market_price": 18.75})
	})

	c := catalog.NewClient(srv.URL, time.Second)
	quote, err := c.FetchPrice(context.Background(), "Dark Magician", "LOB-005", "Ultra Rare", "")
	if err != nil {
		t.Fatalf("FetchPrice: %v", err)
	}
	if quote.Low != 15.5 || quote.Market != 18.75 {
		t.Errorf("quote = %+v", quote)
	}
}

func TestValidRarity(t *testing.T) {
	t.Parallel()

	valid := []string{"Rare", "Ultra Rare", "Quarter Century Secret Rare"}
	for _, r := range valid {
		if !catalog.ValidRarity(r) {
			t.Errorf("ValidRarity(%q) = false, want true", r)
		}
	}
	invalid := []string{"", "  ", "unknown", "Unknown", "N/A", "undefined", "NULL"}
	for _, r := range invalid {
		if catalog.ValidRarity(r) {
			t.Errorf("ValidRarity(%q) = true, want false", r)
		}
	}
}

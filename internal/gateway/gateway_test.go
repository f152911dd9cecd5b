package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/cardrip/internal/catalog"
	"github.com/MrWong99/cardrip/internal/event"
	"github.com/MrWong99/cardrip/internal/gateway"
	"github.com/MrWong99/cardrip/internal/observe"
	"github.com/MrWong99/cardrip/internal/prices"
	"github.com/MrWong99/cardrip/internal/resolver"
	"github.com/MrWong99/cardrip/internal/session"
	"github.com/MrWong99/cardrip/internal/storage"
)

// fixture wires a gateway against a fake catalog backend.
type fixture struct {
	api     *httptest.Server
	ctrl    *session.Controller
	backend *httptest.Server
}

func newFixture(t *testing.T, cfg gateway.Config) *fixture {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/card-sets/from-cache":
			writeEnvelope(w, []map[string]any{
				{"set_name": "Legend of Blue Eyes", "set_code": "LOB", "id": "LOB"},
			})
		case strings.HasSuffix(r.URL.Path, "/cards"):
			writeEnvelope(w, []map[string]any{
				{
					"id":   float64(46986414),
					"name": "Dark Magician",
					"card_sets": []map[string]any{
						{"set_rarity": "Ultra Rare", "set_code": "LOB-005", "set_name": "Legend of Blue Eyes"},
					},
				},
				{
					"id":   float64(70781052),
					"name": "Summoned Skull",
					"card_sets": []map[string]any{
						{"set_rarity": "Ultra Rare", "set_code": "LOB-003", "set_name": "Legend of Blue Eyes"},
					},
				},
			})
		case r.URL.Path == "/cards/price":
			writeEnvelope(w, map[string]any{"tcg_price": 12.5, "tcg_market_price": 14.0})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(backend.Close)

	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	bus := event.NewBus()
	cache := catalog.NewCache(catalog.NewClient(backend.URL, time.Second), storage.NewMemStore(), bus)
	if _, err := cache.LoadSets(context.Background(), ""); err != nil {
		t.Fatalf("LoadSets: %v", err)
	}
	ctrl := session.NewController(cache, storage.NewMemStore(), bus)
	t.Cleanup(ctrl.Close)
	enricher := prices.NewEnricher(catalog.NewClient(backend.URL, time.Second), ctrl)

	srv := gateway.New(cfg, ctrl, cache, enricher, bus, m)
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	return &fixture{api: api, ctrl: ctrl, backend: backend}
}

func writeEnvelope(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func defaultConfig() gateway.Config {
	return gateway.Config{
		Resolve: resolver.Settings{
			AutoExtractRarity:   true,
			MatchThreshold:      0.7,
			EnableFuzzyMatching: true,
		},
		PriceLookups: true,
	}
}

// post sends a JSON body and decodes the envelope data into out.
func post(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil && resp.StatusCode == http.StatusOK {
		var env struct {
			Success bool            `json:"success"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return resp
}

func startSession(t *testing.T, f *fixture) {
	t.Helper()
	var sess session.Session
	resp := post(t, f.api.URL+"/api/session/start", map[string]string{"setId": "LOB"}, &sess)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
}

func TestGateway_ResolveAndSelect(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	startSession(t, f)

	var res struct {
		Candidates []resolver.Candidate `json:"candidates"`
	}
	resp := post(t, f.api.URL+"/api/resolve", map[string]string{"transcript": "dark magician ultra rare"}, &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Name != "Dark Magician" {
		t.Fatalf("candidates = %+v", res.Candidates)
	}

	var sel struct {
		Entry *session.Entry `json:"entry"`
	}
	resp = post(t, f.api.URL+"/api/select", map[string]string{"text": "option 1"}, &sel)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select status = %d", resp.StatusCode)
	}
	if sel.Entry == nil || sel.Entry.CardName != "Dark Magician" || sel.Entry.Rarity != "Ultra Rare" {
		t.Fatalf("selected entry = %+v", sel.Entry)
	}

	// The price enricher fills the entry in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := f.ctrl.Current()
		if len(snap.Entries) == 1 && snap.Entries[0].PriceStatus == session.PriceLoaded {
			if snap.Entries[0].Price != 12.5 {
				t.Fatalf("price = %v, want 12.5", snap.Entries[0].Price)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("price never enriched: %+v", snap.Entries)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second select without a pending list must fail.
	resp = post(t, f.api.URL+"/api/select", map[string]string{"text": "1"}, nil)
	if resp.StatusCode == http.StatusOK {
		t.Error("select with no pending candidates succeeded")
	}
}

func TestGateway_SelectCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	startSession(t, f)

	post(t, f.api.URL+"/api/resolve", map[string]string{"transcript": "summoned skull"}, nil)

	var sel struct {
		Cancelled bool `json:"cancelled"`
	}
	resp := post(t, f.api.URL+"/api/select", map[string]string{"text": "cancel"}, &sel)
	if resp.StatusCode != http.StatusOK || !sel.Cancelled {
		t.Fatalf("cancel: status=%d cancelled=%v", resp.StatusCode, sel.Cancelled)
	}
	if got := len(f.ctrl.Current().Entries); got != 0 {
		t.Errorf("entries after cancel = %d, want 0", got)
	}
}

func TestGateway_AutoConfirm(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.AutoConfirm = true
	cfg.AutoConfirmThreshold = 85
	f := newFixture(t, cfg)
	startSession(t, f)

	var res struct {
		AutoConfirmed bool           `json:"autoConfirmed"`
		Entry         *session.Entry `json:"entry"`
	}
	resp := post(t, f.api.URL+"/api/resolve", map[string]string{"transcript": "dark magician"}, &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}
	if !res.AutoConfirmed || res.Entry == nil {
		t.Fatalf("response = %+v, want auto-confirmed entry", res)
	}
	if got := len(f.ctrl.Current().Entries); got != 1 {
		t.Errorf("entries = %d, want 1", got)
	}
}

func TestGateway_StartSettingsOverrideSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())

	// Start with a near-exact threshold and the variant pass disabled; the
	// dropped trailing letter must then yield no candidates.
	var sess session.Session
	resp := post(t, f.api.URL+"/api/session/start", map[string]any{
		"setId": "LOB",
		"settings": map[string]any{
			"matchThreshold":      0.95,
			"enableFuzzyMatching": false,
		},
	}, &sess)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	var res struct {
		Candidates []resolver.Candidate `json:"candidates"`
	}
	post(t, f.api.URL+"/api/resolve", map[string]string{"transcript": "dark magicia"}, &res)
	if len(res.Candidates) != 0 {
		t.Fatalf("strict session candidates = %+v, want none", res.Candidates)
	}

	// Stopping restores the configured defaults for the next session.
	if resp := post(t, f.api.URL+"/api/session/stop", map[string]any{}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	startSession(t, f)

	res.Candidates = nil
	post(t, f.api.URL+"/api/resolve", map[string]string{"transcript": "dark magicia"}, &res)
	if len(res.Candidates) == 0 || res.Candidates[0].Name != "Dark Magician" {
		t.Fatalf("default session candidates = %+v, want Dark Magician", res.Candidates)
	}
}

func TestGateway_ResolveWhileIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	resp := post(t, f.api.URL+"/api/resolve", map[string]string{"transcript": "dark magician"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("resolve while idle status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestGateway_CardLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	startSession(t, f)

	var entry session.Entry
	resp := post(t, f.api.URL+"/api/session/cards", session.Entry{CardName: "Dark Magician", Rarity: "Ultra Rare", SetCode: "LOB-005"}, &entry)
	if resp.StatusCode != http.StatusOK || entry.EntryID == "" {
		t.Fatalf("add card: status=%d entry=%+v", resp.StatusCode, entry)
	}

	resp = post(t, f.api.URL+"/api/session/cards/"+entry.EntryID+"/quantity", map[string]int{"delta": 2}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("adjust quantity status = %d", resp.StatusCode)
	}
	if got := f.ctrl.Current().Entries[0].Quantity; got != 3 {
		t.Errorf("quantity = %d, want 3", got)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.api.URL+"/api/session/cards/"+entry.EntryID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}
	if got := len(f.ctrl.Current().Entries); got != 0 {
		t.Errorf("entries after delete = %d, want 0", got)
	}

	// Unknown entry maps to 404.
	req, _ = http.NewRequest(http.MethodDelete, f.api.URL+"/api/session/cards/missing", nil)
	delResp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	defer delResp2.Body.Close()
	if delResp2.StatusCode != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want 404", delResp2.StatusCode)
	}
}

func TestGateway_ExportDownload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())
	startSession(t, f)
	post(t, f.api.URL+"/api/session/cards", session.Entry{CardName: "Dark Magician", Rarity: "Ultra Rare"}, nil)

	resp, err := http.Get(f.api.URL + "/api/session/export?format=csv")
	if err != nil {
		t.Fatalf("GET export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	cd := resp.Header.Get("Content-Disposition")
	if !strings.Contains(cd, "YGO_Session_Legend_of_Blue_Eyes_") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestGateway_SetsEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConfig())

	resp, err := http.Get(f.api.URL + "/api/sets")
	if err != nil {
		t.Fatalf("GET sets: %v", err)
	}
	defer resp.Body.Close()
	var env struct {
		Success bool              `json:"success"`
		Data    []catalog.CardSet `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || len(env.Data) != 1 || env.Data[0].SetCode != "LOB" {
		t.Errorf("sets = %+v", env)
	}

	resp2, err := http.Get(f.api.URL + "/api/sets/filter?query=nothing")
	if err != nil {
		t.Fatalf("GET filter: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("filter status = %d", resp2.StatusCode)
	}
}

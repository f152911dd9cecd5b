// Package gateway exposes the resolver, catalog, and session controller to
// the browser UI over HTTP, plus a WebSocket event stream mirroring the
// internal bus. Responses use the same {success, data, message} envelope as
// the catalog backend so the UI speaks one shape everywhere.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/cardrip/internal/catalog"
	"github.com/MrWong99/cardrip/internal/event"
	"github.com/MrWong99/cardrip/internal/observe"
	"github.com/MrWong99/cardrip/internal/prices"
	"github.com/MrWong99/cardrip/internal/resilience"
	"github.com/MrWong99/cardrip/internal/resolver"
	"github.com/MrWong99/cardrip/internal/session"
)

// Config carries the per-request resolution settings and the auto-confirm
// behaviour of the voice flow.
type Config struct {
	Resolve              resolver.Settings
	AutoConfirm          bool
	AutoConfirmThreshold float64
	PriceLookups         bool
}

// Server is the HTTP surface. Create with New and mount via Handler.
type Server struct {
	cfg        Config
	controller *session.Controller
	catalog    *catalog.Cache
	enricher   *prices.Enricher
	bus        *event.Bus
	metrics    *observe.Metrics

	// pending holds the candidates of the last unresolved voice transcript,
	// waiting for a selection or a cancel. resolve is the effective resolver
	// settings: the configured defaults, overridden per session at start and
	// restored on stop.
	mu         sync.Mutex
	pending    []resolver.Candidate
	pendingArt string
	resolve    resolver.Settings
}

// New creates a gateway. enricher may be nil to disable price lookups.
func New(cfg Config, controller *session.Controller, cat *catalog.Cache, enricher *prices.Enricher, bus *event.Bus, m *observe.Metrics) *Server {
	if cfg.AutoConfirmThreshold <= 0 {
		cfg.AutoConfirmThreshold = 85
	}
	return &Server{
		cfg:        cfg,
		controller: controller,
		catalog:    cat,
		enricher:   enricher,
		bus:        bus,
		metrics:    m,
		resolve:    cfg.Resolve,
	}
}

// Handler returns the route table:
//
//	GET    /api/sets                          — set list (query= searches)
//	GET    /api/sets/filter                   — client-side substring filter
//	GET    /api/session                       — current session snapshot
//	GET    /api/session/history               — archived sessions
//	POST   /api/session/start                 — {setId}
//	POST   /api/session/stop
//	POST   /api/session/clear
//	POST   /api/session/switch                — {setId}
//	POST   /api/session/save
//	POST   /api/session/resume
//	POST   /api/session/cards                 — add an entry
//	DELETE /api/session/cards/{entryID}
//	POST   /api/session/cards/{entryID}/quantity — {delta}
//	GET    /api/session/export                — format=json|csv, fields=a,b
//	POST   /api/session/import                — exported payload in the body
//	POST   /api/resolve                       — {transcript}
//	POST   /api/select                        — {text} voice selection
//	GET    /ws                                — event stream
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sets", s.handleSets)
	mux.HandleFunc("GET /api/sets/filter", s.handleFilterSets)
	mux.HandleFunc("GET /api/session", s.handleCurrent)
	mux.HandleFunc("GET /api/session/history", s.handleHistory)
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("POST /api/session/clear", s.handleClear)
	mux.HandleFunc("POST /api/session/switch", s.handleSwitch)
	mux.HandleFunc("POST /api/session/save", s.handleSave)
	mux.HandleFunc("POST /api/session/resume", s.handleResume)
	mux.HandleFunc("POST /api/session/cards", s.handleAddCard)
	mux.HandleFunc("DELETE /api/session/cards/{entryID}", s.handleRemoveCard)
	mux.HandleFunc("POST /api/session/cards/{entryID}/quantity", s.handleAdjustQuantity)
	mux.HandleFunc("GET /api/session/export", s.handleExport)
	mux.HandleFunc("POST /api/session/import", s.handleImport)
	mux.HandleFunc("POST /api/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/select", s.handleSelect)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// envelope mirrors the backend response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		slog.Error("encoding response", "err", err)
	}
}

// writeError maps domain errors onto HTTP statuses and always returns the
// single actionable message, never a stack.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotActive):
		status = http.StatusConflict
	case errors.Is(err, session.ErrUnknownEntry), errors.Is(err, catalog.ErrUnknownSet):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrBadImport):
		status = http.StatusBadRequest
	case errors.Is(err, resilience.ErrOpen), errors.Is(err, catalog.ErrTransport), errors.Is(err, catalog.ErrBackendRejected):
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, fmt.Errorf("%w: %v", session.ErrBadImport, err))
		return false
	}
	return true
}

func (s *Server) handleSets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	sets, err := s.catalog.LoadSets(r.Context(), query)
	s.metrics.RecordCatalogRequest(r.Context(), "card-sets", statusOf(err))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sets)
}

func (s *Server) handleFilterSets(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.catalog.FilterSets(r.URL.Query().Get("query")))
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	snap := s.controller.Current()
	if snap == nil {
		writeError(w, session.ErrNotActive)
		return
	}
	writeData(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.controller.History())
}

type setRequest struct {
	SetID string `json:"setId"`
}

// settingsPatch carries optional per-session overrides of the configured
// resolver defaults. Absent fields keep the default.
type settingsPatch struct {
	AutoExtractRarity     *bool    `json:"autoExtractRarity,omitempty"`
	AutoExtractArtVariant *bool    `json:"autoExtractArtVariant,omitempty"`
	MatchThreshold        *float64 `json:"matchThreshold,omitempty"`
	EnableFuzzyMatching   *bool    `json:"enableFuzzyMatching,omitempty"`
	MaxCandidates         *int     `json:"maxCandidates,omitempty"`
}

// apply merges the patch over base.
func (p *settingsPatch) apply(base resolver.Settings) resolver.Settings {
	if p == nil {
		return base
	}
	if p.AutoExtractRarity != nil {
		base.AutoExtractRarity = *p.AutoExtractRarity
	}
	if p.AutoExtractArtVariant != nil {
		base.AutoExtractArtVariant = *p.AutoExtractArtVariant
	}
	if p.MatchThreshold != nil {
		base.MatchThreshold = *p.MatchThreshold
	}
	if p.EnableFuzzyMatching != nil {
		base.EnableFuzzyMatching = *p.EnableFuzzyMatching
	}
	if p.MaxCandidates != nil {
		base.MaxCandidates = *p.MaxCandidates
	}
	return base
}

type startRequest struct {
	SetID    string         `json:"setId"`
	Settings *settingsPatch `json:"settings,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := s.controller.Start(r.Context(), req.SetID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.setResolveSettings(req.Settings.apply(s.cfg.Resolve))
	s.metrics.ActiveSessions.Add(r.Context(), 1)
	writeData(w, http.StatusOK, sess)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	wasActive := s.controller.State() == session.Active
	sess, err := s.controller.Stop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if wasActive {
		s.metrics.ActiveSessions.Add(r.Context(), -1)
	}
	// Per-session overrides end with the session.
	s.setResolveSettings(s.cfg.Resolve)
	writeData(w, http.StatusOK, sess)
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, s.controller.Current())
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.controller.SwitchSet(r.Context(), req.SetID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, s.controller.Current())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !s.controller.Save(r.Context()) {
		writeError(w, errors.New("saving session failed"))
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := s.controller.LoadLast(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sess != nil {
		s.metrics.ActiveSessions.Add(r.Context(), 1)
	}
	writeData(w, http.StatusOK, sess)
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var req session.Entry
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CardName) == "" {
		writeError(w, fmt.Errorf("%w: cardName is required", session.ErrBadImport))
		return
	}
	entry, err := s.addEntry(r, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, entry)
}

// addEntry appends the entry and schedules its price lookup.
func (s *Server) addEntry(r *http.Request, e session.Entry) (session.Entry, error) {
	if s.cfg.PriceLookups && s.enricher != nil {
		e.PriceStatus = session.PriceLoading
	}
	entry, err := s.controller.AddCard(e)
	if err != nil {
		return session.Entry{}, err
	}
	s.metrics.RecordCardAdded(r.Context(), entry.Rarity)
	if s.cfg.PriceLookups && s.enricher != nil {
		s.enricher.Enqueue(r.Context(), entry.EntryID, prices.Request{
			CardName:   entry.CardName,
			CardNumber: entry.SetCode,
			Rarity:     entry.Rarity,
			ArtVariant: entry.ArtVariant,
		})
	}
	return entry, nil
}

func (s *Server) handleRemoveCard(w http.ResponseWriter, r *http.Request) {
	entry, err := s.controller.RemoveCard(r.PathValue("entryID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, entry)
}

type quantityRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleAdjustQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.controller.AdjustCardQuantity(r.PathValue("entryID"), req.Delta); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, s.controller.Current())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := session.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = session.FormatJSON
	}
	var fields []string
	if raw := r.URL.Query().Get("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}
	payload, err := s.controller.Export(format, fields)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", payload.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+payload.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload.Content))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	sess, err := s.controller.Import(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

type resolveRequest struct {
	Transcript string `json:"transcript"`
}

// resolveResponse carries either the candidate list awaiting a selection or
// the auto-confirmed entry.
type resolveResponse struct {
	Candidates    []resolver.Candidate `json:"candidates"`
	Rarity        string               `json:"rarity,omitempty"`
	ArtVariant    string               `json:"artVariant,omitempty"`
	AutoConfirmed bool                 `json:"autoConfirmed,omitempty"`
	Entry         *session.Entry       `json:"entry,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap := s.controller.Current()
	if snap == nil || s.controller.State() != session.Active {
		writeError(w, session.ErrNotActive)
		return
	}
	cards, err := s.catalog.LoadSetCards(r.Context(), snap.SetID)
	if err != nil {
		writeError(w, err)
		return
	}
	set, err := s.catalog.SetByID(snap.SetID)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	res := resolver.Resolve(req.Transcript, set, cards, s.resolveSettings())
	s.metrics.ResolveDuration.Record(r.Context(), time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("set", set.SetCode)),
	)

	resp := resolveResponse{
		Candidates: res.Candidates,
		Rarity:     res.Rarity,
		ArtVariant: res.ArtVariant,
	}

	if s.cfg.AutoConfirm && len(res.Candidates) > 0 &&
		res.Candidates[0].Confidence >= s.cfg.AutoConfirmThreshold {
		entry, err := s.addEntry(r, entryFromCandidate(res.Candidates[0], res.ArtVariant))
		if err != nil {
			writeError(w, err)
			return
		}
		resp.AutoConfirmed = true
		resp.Entry = &entry
		s.setPending(nil, "")
		writeData(w, http.StatusOK, resp)
		return
	}

	s.setPending(res.Candidates, res.ArtVariant)
	writeData(w, http.StatusOK, resp)
}

type selectRequest struct {
	Text string `json:"text"`
}

// selectResponse reports the outcome of a voice selection.
type selectResponse struct {
	Cancelled bool           `json:"cancelled,omitempty"`
	Entry     *session.Entry `json:"entry,omitempty"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	pending := s.pending
	art := s.pendingArt
	s.mu.Unlock()
	if len(pending) == 0 {
		writeError(w, errors.New("no pending candidates to select from"))
		return
	}

	sel, ok := ParseSelection(req.Text, len(pending))
	if !ok {
		writeError(w, fmt.Errorf("could not understand selection %q", req.Text))
		return
	}
	if sel.Cancel {
		s.setPending(nil, "")
		writeData(w, http.StatusOK, selectResponse{Cancelled: true})
		return
	}

	entry, err := s.addEntry(r, entryFromCandidate(pending[sel.Choice-1], art))
	if err != nil {
		writeError(w, err)
		return
	}
	s.setPending(nil, "")
	writeData(w, http.StatusOK, selectResponse{Entry: &entry})
}

func (s *Server) setPending(cands []resolver.Candidate, art string) {
	s.mu.Lock()
	s.pending = cands
	s.pendingArt = art
	s.mu.Unlock()
}

func (s *Server) resolveSettings() resolver.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve
}

func (s *Server) setResolveSettings(st resolver.Settings) {
	s.mu.Lock()
	s.resolve = st
	s.mu.Unlock()
}

// entryFromCandidate maps a confirmed candidate onto a session entry.
func entryFromCandidate(c resolver.Candidate, artVariant string) session.Entry {
	return session.Entry{
		CardID:     c.CardID,
		CardName:   c.Name,
		Rarity:     c.Rarity,
		SetCode:    c.SetCode,
		SetName:    c.SetName,
		ArtVariant: artVariant,
		Quantity:   1,
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, catalog.ErrBackendRejected):
		return "rejected"
	default:
		return "transport"
	}
}

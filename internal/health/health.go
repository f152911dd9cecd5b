// Package health serves the gateway's liveness and readiness probes.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only when every dependency check passes; for this
//     service that is the price checker backend and the session store.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map naming each probe's outcome, so the UI can tell "backend not
// running yet" apart from "session store broken".
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single dependency probe.
const checkTimeout = 5 * time.Second

// Checker is one named dependency probe. Check returns nil when the
// dependency can serve and an error describing why not otherwise; it must
// honour ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates a fixed checker list. Safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every checker concurrently, each under its own [checkTimeout]
// slice of the request context, and reports 503 when any fails. Concurrency
// keeps a hanging backend probe from delaying the storage verdict.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		ready  = true
	)

	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				ready = false
				return
			}
			checks[c.Name] = "ok"
		}()
	}
	wg.Wait()

	res := report{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// Package health serves the liveness and readiness endpoints of the
// voxcal server.
//
// /healthz reports process liveness and always answers 200 OK. /readyz
// evaluates every registered dependency probe and answers 503 until all
// of them pass, keeping the server out of rotation while its backing
// services (Postgres, providers) are unreachable. Responses are JSON
// with a top-level "status" and a per-probe "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout caps a single readiness probe. A probe that blocks longer
// counts as failed.
const probeTimeout = 5 * time.Second

// Checker is a named dependency probe. Check returns nil when the
// dependency is usable and an error describing the failure otherwise.
// It must respect context cancellation.
type Checker struct {
	// Name labels the probe in the JSON response (e.g. "database").
	Name string

	Check func(ctx context.Context) error
}

// checkState is the per-probe entry in the readiness response.
type checkState struct {
	Status  string `json:"status"` // "ok" or "fail"
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// response is the JSON body for both endpoints.
type response struct {
	Status string                `json:"status"`
	Checks map[string]checkState `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The probe list is fixed at
// construction time, so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given probes on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz answers liveness. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs all probes concurrently, each under a [probeTimeout]
// deadline derived from the request context, and reports 503 when any
// of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]checkState, len(h.checkers))
		ready  = true
	)

	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			state := checkState{Status: "ok", Elapsed: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				state.Status = "fail"
				state.Error = err.Error()
			}

			mu.Lock()
			checks[c.Name] = state
			if err != nil {
				ready = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	res := response{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

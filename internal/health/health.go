// Package health serves the liveness and readiness probes of the ops server.
//
//   - /healthz: liveness; always 200 while the process can serve HTTP.
//   - /readyz: readiness; 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map holding the result of each named checker. Checkers for
// the voice store, the model backend and start-up warm-up live in checks.go.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency is
// healthy and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New creates a [Handler] that evaluates checkers concurrently on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker with a deadline derived from the request context
// and reports 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.evaluate(r.Context())
	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// evaluate runs all checkers and aggregates their results.
func (h *Handler) evaluate(ctx context.Context) result {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[c.Name] = "ok"
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	if !allOK {
		res.Status = "fail"
	}
	return res
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package health serves the admin probes.
//
//   - /healthz: liveness; always 200 while the process can serve HTTP.
//   - /readyz: readiness; 200 only when every registered [Checker] passes.
//   - /statez: a JSON snapshot from the registered [StatusFunc], typically
//     the orchestrator state and counters.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is ready.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "capture", "engines").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusFunc returns a JSON-encodable snapshot for /statez.
type StatusFunc func() any

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	status   StatusFunc
}

// New creates a [Handler]. status may be nil, in which case /statez answers
// 404. Checkers run concurrently on each /readyz request.
func New(status StatusFunc, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, status: status}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every [Checker] passes within [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Statez writes the current status snapshot.
func (h *Handler) Statez(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		http.NotFound(w, nil)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statez", h.Statez)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

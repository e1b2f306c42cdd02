// Package health serves the liveness and readiness endpoints of the voxweave
// host. Liveness only confirms the process can answer HTTP. Readiness
// additionally runs every registered dependency check, such as the Postgres
// archive, and reports per-check detail so an operator can see which
// dependency is down and how long its check took.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds each individual readiness check.
const checkTimeout = 5 * time.Second

// Checker verifies one dependency of the running service.
type Checker struct {
	// Name keys the check in the readiness response.
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error
}

// checkResult is one entry in the readiness response.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// report is the response body of both endpoints.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler answers /healthz and /readyz. The checker list is fixed at
// construction; the handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200. A process that can serve the request is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs all checks concurrently, each under its own timeout, and
// answers 503 when any of them fails. The body carries per-check status,
// error text, and elapsed time.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{
				Status:  "ok",
				Elapsed: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	rep := report{
		Status: "ok",
		Checks: make(map[string]checkResult, len(h.checkers)),
	}
	status := http.StatusOK
	for i, c := range h.checkers {
		rep.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			rep.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

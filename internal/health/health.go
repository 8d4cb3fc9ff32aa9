// Package health serves liveness and readiness probes for the gateway.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs
// every registered [Checker] concurrently and answers 200 only when all of
// them pass; the body reports each check's outcome and latency.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the JSON body of both endpoints.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Checkers may be added while serving.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
}

// New creates a Handler with the given checkers.
func New(checkers ...Checker) *Handler {
	h := &Handler{}
	for _, c := range checkers {
		h.Add(c)
	}
	return h
}

// Add registers another readiness checker. A checker with the same name
// replaces the earlier one.
func (h *Handler) Add(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.checkers {
		if h.checkers[i].Name == c.Name {
			h.checkers[i] = c
			return
		}
	}
	h.checkers = append(h.checkers, c)
}

// Check runs every checker concurrently and returns the combined report.
func (h *Handler) Check(ctx context.Context) Report {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	var (
		mu  sync.Mutex
		rep = Report{Status: "ok", Checks: make(map[string]CheckResult, len(checkers))}
	)
	var g errgroup.Group
	for _, c := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			if err != nil {
				rep.Status = "fail"
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	status := http.StatusOK
	if rep.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
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

package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/windfall/voicecoach_service/pkg/response"
)

const readyCheckTimeout = 2 * time.Second

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the body of every health response.
type Status struct {
	Status  string            `json:"status"`
	Service string            `json:"service,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// HealthHandler serves the liveness and readiness checks.
type HealthHandler struct {
	ready atomic.Bool
	deps  map[string]Pinger
}

// NewHealthHandler creates a new health handler. Optional integrations that
// were configured (Redis, Postgres, Pub/Sub) are passed in deps.
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	h := &HealthHandler{deps: deps}
	h.ready.Store(true)
	return h
}

// SetReady flips readiness, used to drain traffic before shutdown.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, Status{Status: "healthy", Service: "voicecoach_service"})
}

// Ready handles GET /ready. Every dependency is pinged concurrently.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		response.JSON(w, http.StatusServiceUnavailable, Status{Status: "draining"})
		return
	}

	if failed := h.check(r.Context()); len(failed) > 0 {
		response.JSON(w, http.StatusServiceUnavailable, Status{Status: "not_ready", Failed: failed})
		return
	}
	response.JSON(w, http.StatusOK, Status{Status: "ready"})
}

// Live handles GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, Status{Status: "alive"})
}

func (h *HealthHandler) check(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed = map[string]string{}
	)
	for name, dep := range h.deps {
		wg.Add(1)
		go func(name string, dep Pinger) {
			defer wg.Done()
			if err := dep.Ping(ctx); err != nil {
				mu.Lock()
				failed[name] = err.Error()
				mu.Unlock()
			}
		}(name, dep)
	}
	wg.Wait()
	return failed
}

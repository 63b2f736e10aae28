package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/warrenguard/internal/store"
)

// readinessTimeout bounds how long the readiness probe waits on any one
// dependency (SPEC_FULL.md supplemented feature 5).
const readinessTimeout = 2 * time.Second

type healthHandlers struct {
	checkers []store.Checker
}

func (h *healthHandlers) live(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *healthHandlers) ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name()] = err.Error()
			ready = false
			continue
		}
		checks[c.Name()] = "ok"
	}
	status := http.StatusOK
	statusLabel := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		statusLabel = "not ready"
	}
	writeData(w, r, status, map[string]any{"status": statusLabel, "checks": checks})
}

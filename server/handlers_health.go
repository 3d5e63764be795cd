package server

import (
	"context"
	"net/http"
	"time"
)

// HandleHealthz reports process liveness plus a database ping.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := h.DB != nil && h.DB.PingContext(ctx) == nil
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": statusWord(dbOK),
		"db":     dbOK,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadyz reports whether the service can do useful work: database
// reachable and chat credentials present.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]bool{
		"db":   h.DB != nil && h.DB.PingContext(ctx) == nil,
		"chat": h.Cfg != nil && h.Cfg.ValidateChatReady() == nil,
	}
	ready := true
	for _, ok := range checks {
		ready = ready && ok
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// HandleStatus exposes a small operational snapshot for dashboards.
func (h *Handlers) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"gsi_clients": h.Heartbeat.ConnectedCount(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func statusWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}

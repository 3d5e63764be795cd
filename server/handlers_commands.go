package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dotalayer/companion/db"
	"github.com/dotalayer/companion/telemetry"
)

// HandleGSI forwards game telemetry posts to the ingest pipeline.
func (h *Handlers) HandleGSI(w http.ResponseWriter, r *http.Request) {
	h.GSI.ServeHTTP(w, r)
}

// HandleInvalidateCommands drops the cached chat commands and scheduled timers
// of a channel so edits made through the dashboard take effect immediately.
func (h *Handlers) HandleInvalidateCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	channel := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("channel")))
	if channel == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(channel, "#") {
		channel = "#" + channel
	}

	h.Engine.Commands().Clear(channel)
	h.Timers.Clear(channel)
	telemetry.LoggerWithCorr(r.Context()).Info("caches invalidated", "channel", channel)
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": channel})
}

// HandleResetStats wipes a user's recorded win/loss games and tells connected
// overlays to redraw.
func (h *Handlers) HandleResetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	if err := db.ClearUserStats(r.Context(), h.DB, userID); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("stats reset failed", slog.Any("err", err), slog.Int64("user", userID))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.Hub.SendMessage(userID, "dota_wl_reset", true)
	telemetry.LoggerWithCorr(r.Context()).Info("stats reset", slog.Int64("user", userID))
	writeJSON(w, http.StatusOK, map[string]any{"reset": userID})
}

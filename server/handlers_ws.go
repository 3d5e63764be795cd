package server

import (
	"log/slog"
	"net/http"

	"github.com/dotalayer/companion/db"
	"github.com/dotalayer/companion/gsi"
	"github.com/dotalayer/companion/telemetry"
)

// HandleWS upgrades an overlay/frontend connection identified by its frame API
// key and replays the current telemetry state so late subscribers catch up.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("frameApiKey")
	user, err := db.UserByFrameAPIKey(r.Context(), h.DB, key)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("ws: user lookup failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "unknown key", http.StatusNotFound)
		return
	}
	if user.Status == db.UserStatusLocked {
		http.Error(w, "account locked", http.StatusForbidden)
		return
	}

	conn, err := h.Hub.Attach(w, r, user.ID)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("ws: upgrade failed", slog.Any("err", err))
		return
	}

	h.Hub.Send(conn, string(gsi.EventConnected), h.Heartbeat.Connected(user.ID))
	for _, ev := range h.Classifier.Peek(user.ID) {
		if ev.Type == gsi.EventConnected {
			continue
		}
		h.Hub.Send(conn, string(ev.Type), ev.Value)
	}
}

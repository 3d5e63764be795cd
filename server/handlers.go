package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dotalayer/companion/betting"
	"github.com/dotalayer/companion/config"
	"github.com/dotalayer/companion/gsi"
	"github.com/dotalayer/companion/timers"
	"github.com/dotalayer/companion/twitchapi"
	"github.com/dotalayer/companion/ws"
)

// Handlers carries the shared dependencies for all HTTP endpoints.
type Handlers struct {
	DB         *sql.DB
	Cfg        *config.Config
	Engine     *betting.Engine
	GSI        *gsi.Handler
	Heartbeat  *gsi.Heartbeat
	Classifier *gsi.Classifier
	Hub        *ws.Hub
	Timers     *timers.Scheduler
	Helix      *twitchapi.HelixClient

	// OAuth state entries expire after 10 minutes.
	stateMu    sync.Mutex
	stateStore map[string]time.Time
}

const (
	oauthStateTTL  = 10 * time.Minute
	maxOAuthStates = 10000
)

func (h *Handlers) addOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if h.stateStore == nil {
		h.stateStore = make(map[string]time.Time)
	}
	h.cleanExpiredStatesLocked()
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = time.Now().Add(oauthStateTTL)
	return true
}

func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

func (h *Handlers) cleanExpiredStatesLocked() {
	now := time.Now()
	for s, exp := range h.stateStore {
		if now.After(exp) {
			delete(h.stateStore, s)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}

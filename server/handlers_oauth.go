package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/dotalayer/companion/db"
	"github.com/dotalayer/companion/telemetry"
	"github.com/dotalayer/companion/twitchapi"
)

// ScopePredictions is the stored scope slot for the broadcaster's prediction
// tokens.
const ScopePredictions = "predictions"

// HandleTwitchOAuthStart begins the broadcaster sign-in flow: it issues a
// one-time state value and redirects to the Twitch authorize page.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.Cfg.TwitchClientID == "" || h.Cfg.TwitchClientSecret == "" || h.Cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured", http.StatusServiceUnavailable)
		return
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(buf)
	if !h.addOAuthState(state) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}

	authURL, err := twitchapi.BuildAuthorizeURL(h.Cfg.TwitchClientID, h.Cfg.TwitchRedirectURI, h.Cfg.TwitchScopes, state)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback completes the flow: it validates the state,
// exchanges the code, resolves the broadcaster behind the token, creates the
// account on first sign-in, and stores the prediction tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		log.Warn("oauth denied", slog.String("error", errParam))
		http.Error(w, "authorization denied", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(state) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	res, err := twitchapi.ExchangeAuthCode(r.Context(), h.Cfg.TwitchClientID, h.Cfg.TwitchClientSecret, code, h.Cfg.TwitchRedirectURI)
	if err != nil {
		log.Error("oauth exchange failed", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	identity, err := h.Helix.UserFromToken(r.Context(), res.AccessToken)
	if err != nil {
		log.Error("oauth identity lookup failed", slog.Any("err", err))
		http.Error(w, "identity lookup failed", http.StatusBadGateway)
		return
	}

	user, err := db.RequireUser(r.Context(), h.DB, identity.ID, identity.DisplayName)
	if err != nil {
		log.Error("oauth account upsert failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	expiry := twitchapi.ComputeExpiry(res.ExpiresIn)
	if err := db.UpsertScopeToken(r.Context(), h.DB, user.ID, ScopePredictions, res.AccessToken, res.RefreshToken, expiry); err != nil {
		log.Error("oauth token store failed", slog.Any("err", err), slog.Int64("user", user.ID))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Info("broadcaster authorized", slog.Int64("user", user.ID), slog.String("login", identity.Login))
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      user.ID,
		"display_name": user.DisplayName,
		"scopes":       res.Scope,
	})
}

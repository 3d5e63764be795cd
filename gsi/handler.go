package gsi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/dotalayer/companion/telemetry"
)

const maxPayloadBytes = 1 << 20

// Handler ingests posted telemetry payloads: authenticate, refresh the heartbeat,
// classify the delta, then let the orchestrator act on the batch.
type Handler struct {
	auth       *Authenticator
	heartbeat  *Heartbeat
	classifier *Classifier
	orch       *Orchestrator
}

func NewHandler(auth *Authenticator, heartbeat *Heartbeat, classifier *Classifier, orch *Orchestrator) *Handler {
	return &Handler{auth: auth, heartbeat: heartbeat, classifier: classifier, orch: orch}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user, err := h.auth.Authenticate(ctx, payload.Auth.Token)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingToken), errors.Is(err, ErrAccountLocked):
			w.WriteHeader(http.StatusForbidden)
		case errors.Is(err, ErrUnknownToken):
			w.WriteHeader(http.StatusNotFound)
		default:
			slog.Error("gsi: auth lookup failed", slog.Any("err", err))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	telemetry.TimeFunc(telemetry.GSIHandleDuration, func() {
		first := h.heartbeat.Touch(ctx, user.ID)
		h.classifier.Ingest(user.ID, &payload, first)
		h.orch.HandleTick(ctx, user)
	})
	w.WriteHeader(http.StatusOK)
}

// Package server wires the HTTP surface: GSI ingest, overlay websockets, OAuth
// onboarding, health endpoints, and admin operations.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotalayer/companion/telemetry"
)

// NewMux builds the full route table for the service.
func NewMux(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	auth := authConfigFromEnv()
	cors := corsConfigFromEnv()
	limiter := newIPRateLimiter(rateLimitFromEnv())
	limiter.startCleanup()

	wrap := func(route string, handler http.HandlerFunc) http.Handler {
		traced := withTracing(route, handler)
		return withCORS(cors, limiter.middleware(traced))
	}

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", wrap("/healthz", h.HandleHealthz))
	mux.Handle("/readyz", wrap("/readyz", h.HandleReadyz))
	mux.Handle("/status", wrap("/status", h.HandleStatus))

	mux.Handle("/gsi", wrap("/gsi", h.HandleGSI))
	mux.Handle("/ws/{frameApiKey}", wrap("/ws/{frameApiKey}", h.HandleWS))

	mux.Handle("/api/commands/invalidate", wrap("/api/commands/invalidate", auth.require(h.HandleInvalidateCommands)))
	mux.Handle("/api/stats/reset", wrap("/api/stats/reset", auth.require(h.HandleResetStats)))

	mux.Handle("/auth/twitch/start", wrap("/auth/twitch/start", h.HandleTwitchOAuthStart))
	mux.Handle("/auth/twitch/callback", wrap("/auth/twitch/callback", h.HandleTwitchOAuthCallback))

	return mux
}

// withTracing tags each request with a correlation id and an OTel span, and
// records the response status on both.
func withTracing(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Correlation-Id")
		if corrID == "" {
			corrID = uuid.NewString()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corrID)
		w.Header().Set("X-Correlation-Id", corrID)

		ctx, span := telemetry.StartSpan(ctx, "server", route,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(route),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.status)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully with a 10s drain window.
func Start(ctx context.Context, addr string, mux *http.ServeMux) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", slog.Any("err", err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

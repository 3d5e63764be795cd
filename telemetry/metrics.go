// Package telemetry provides Prometheus metrics, OpenTelemetry tracing setup, and
// correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RoundsStarted      prometheus.Counter
	RoundsResolved     prometheus.Counter
	BetsPlaced         prometheus.Counter
	BetsRejected       prometheus.Counter
	PredictionsCreated prometheus.Counter
	PredictionsFailed  prometheus.Counter
	HeartbeatEvictions prometheus.Counter
	TimerPublishes     prometheus.Counter
	GSIRejections      prometheus.Counter

	// Histograms (seconds)
	GSIHandleDuration    prometheus.Observer
	PredictionRTTSeconds prometheus.Observer

	// Gauges
	ConnectedClientsGauge prometheus.Gauge
	ActiveRoundsGauge     prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_bet_rounds_started_total", Help: "Number of betting rounds started"})
		RoundsResolved = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_bet_rounds_resolved_total", Help: "Number of betting rounds resolved"})
		BetsPlaced = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_bets_placed_total", Help: "Number of chat bets accepted"})
		BetsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_bets_rejected_total", Help: "Number of chat bets rejected (duplicate, invalid side, stale round)"})
		PredictionsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_predictions_created_total", Help: "Number of Twitch predictions created"})
		PredictionsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_predictions_failed_total", Help: "Number of failed prediction API calls"})
		HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_heartbeat_evictions_total", Help: "Number of GSI clients disconnected by the heartbeat sweep"})
		TimerPublishes = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_timer_publishes_total", Help: "Number of scheduled chat announcements published"})
		GSIRejections = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_gsi_rejections_total", Help: "Number of rejected GSI auth attempts"})
		GSIHandleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "companion_gsi_handle_duration_seconds", Help: "GSI event batch handling duration seconds", Buckets: prometheus.DefBuckets})
		PredictionRTTSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "companion_prediction_rtt_seconds", Help: "Prediction API round trip seconds", Buckets: prometheus.DefBuckets})
		ConnectedClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "companion_gsi_connected_clients", Help: "Currently connected GSI clients"})
		ActiveRoundsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "companion_active_bet_rounds", Help: "Channels with an open or running bet round"})
	})
}

// SetConnectedClients records the current GSI-connected client count.
func SetConnectedClients(n int) {
	if ConnectedClientsGauge != nil {
		ConnectedClientsGauge.Set(float64(n))
	}
}

// SetActiveRounds records the number of channels with a live round.
func SetActiveRounds(n int) {
	if ActiveRoundsGauge != nil {
		ActiveRoundsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

package gsi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dotalayer/companion/telemetry"
)

// StatusStore persists the telemetry-connected flag of an account.
type StatusStore interface {
	SetGSIActive(ctx context.Context, userID int64, active bool) error
}

// Notifier pushes an event to a user's connected overlay/frontend subscribers.
type Notifier interface {
	SendMessage(userID int64, event string, payload any)
}

// Heartbeat tracks last-contact timestamps of telemetry clients. Entries older
// than maxAge at sweep time are evicted exactly once: the connected flag is
// cleared, a disconnect notification is pushed, and the classifier state dropped.
type Heartbeat struct {
	interval   time.Duration
	maxAge     time.Duration
	store      StatusStore
	notifier   Notifier
	classifier *Classifier
	now        func() time.Time

	mu       sync.Mutex
	lastSeen map[int64]time.Time
}

func NewHeartbeat(store StatusStore, notifier Notifier, classifier *Classifier, interval, maxAge time.Duration) *Heartbeat {
	return &Heartbeat{
		interval:   interval,
		maxAge:     maxAge,
		store:      store,
		notifier:   notifier,
		classifier: classifier,
		now:        time.Now,
		lastSeen:   make(map[int64]time.Time),
	}
}

// Touch refreshes the client's last-contact timestamp. On first contact the
// connected flag is set and subscribers are notified; returns whether this was a
// first contact.
func (h *Heartbeat) Touch(ctx context.Context, userID int64) bool {
	h.mu.Lock()
	_, known := h.lastSeen[userID]
	h.lastSeen[userID] = h.now()
	n := len(h.lastSeen)
	h.mu.Unlock()

	if known {
		return false
	}
	telemetry.SetConnectedClients(n)
	if err := h.store.SetGSIActive(ctx, userID, true); err != nil {
		slog.Warn("heartbeat: mark connected failed", slog.Any("err", err), slog.Int64("user", userID))
	}
	h.notifier.SendMessage(userID, string(EventConnected), true)
	slog.Info("gsi client connected", slog.Int64("user", userID))
	return true
}

// Connected reports whether the client currently has a live heartbeat entry.
func (h *Heartbeat) Connected(userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.lastSeen[userID]
	return ok
}

// ConnectedCount returns the number of clients with a live heartbeat entry.
func (h *Heartbeat) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lastSeen)
}

// Disconnect drops the client immediately (explicit shutdown notice).
func (h *Heartbeat) Disconnect(ctx context.Context, userID int64) {
	h.mu.Lock()
	_, known := h.lastSeen[userID]
	delete(h.lastSeen, userID)
	n := len(h.lastSeen)
	h.mu.Unlock()

	if !known {
		return
	}
	telemetry.SetConnectedClients(n)
	h.evicted(ctx, userID)
}

// Sweep evicts every entry whose last contact is older than maxAge.
func (h *Heartbeat) Sweep(ctx context.Context) {
	cutoff := h.now().Add(-h.maxAge)

	h.mu.Lock()
	var stale []int64
	for userID, seen := range h.lastSeen {
		if seen.Before(cutoff) {
			stale = append(stale, userID)
			delete(h.lastSeen, userID)
		}
	}
	n := len(h.lastSeen)
	h.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	telemetry.SetConnectedClients(n)
	for _, userID := range stale {
		if telemetry.HeartbeatEvictions != nil {
			telemetry.HeartbeatEvictions.Inc()
		}
		h.evicted(ctx, userID)
	}
}

func (h *Heartbeat) evicted(ctx context.Context, userID int64) {
	if err := h.store.SetGSIActive(ctx, userID, false); err != nil {
		slog.Warn("heartbeat: mark disconnected failed", slog.Any("err", err), slog.Int64("user", userID))
	}
	h.notifier.SendMessage(userID, string(EventConnected), false)
	h.classifier.Forget(userID)
	slog.Info("gsi client disconnected", slog.Int64("user", userID))
}

// Start runs the sweep loop until ctx is cancelled.
func (h *Heartbeat) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

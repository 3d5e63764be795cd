// Package timers publishes recurring per-channel chat announcements.
package timers

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/dotalayer/companion/db"
	"github.com/dotalayer/companion/telemetry"
)

// Timer is one announcement definition.
type Timer struct {
	ID      int64
	Message string
	Period  int // seconds
}

// Store loads a user's active timer definitions.
type Store interface {
	ActiveTimers(ctx context.Context, userID int64) ([]Timer, error)
}

// ChatTransport publishes announcements and enumerates joined channels.
type ChatTransport interface {
	Publish(channel, message string)
	Channels() []string
}

// ChannelResolver maps a chat channel to its owning account.
type ChannelResolver interface {
	ByTrustedChannel(ctx context.Context, channel string) (*db.User, error)
}

type scheduledTimer struct {
	message  string
	period   time.Duration
	nextFire time.Time
}

// Scheduler sweeps all joined channels on a fixed interval and publishes due
// announcements, at most one per channel per sweep. Channel state is loaded
// lazily on first observation; the initial fire time is jittered within
// [0.6 period, period) so channels sharing a period do not announce in lockstep.
type Scheduler struct {
	interval time.Duration
	store    Store
	chat     ChatTransport
	users    ChannelResolver
	now      func() time.Time
	randF    func() float64

	mu       sync.Mutex
	channels map[string][]*scheduledTimer
}

func NewScheduler(store Store, chat ChatTransport, users ChannelResolver, interval time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		store:    store,
		chat:     chat,
		users:    users,
		now:      time.Now,
		randF:    rand.Float64,
		channels: make(map[string][]*scheduledTimer),
	}
}

// Clear drops all timer state for a channel, forcing a reload on the next sweep.
func (s *Scheduler) Clear(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channel)
}

// Sweep checks every joined channel once. The first due timer of a channel fires
// and is rescheduled exactly one period after its scheduled fire time; remaining
// due timers wait for the next sweep.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now()
	for _, channel := range s.chat.Channels() {
		s.sweepChannel(ctx, channel, now)
	}
}

func (s *Scheduler) sweepChannel(ctx context.Context, channel string, now time.Time) {
	s.mu.Lock()
	timers, loaded := s.channels[channel]
	s.mu.Unlock()

	if !loaded {
		var err error
		timers, err = s.load(ctx, channel, now)
		if err != nil {
			slog.Warn("timers: load failed", slog.Any("err", err), slog.String("channel", channel))
			return
		}
		s.mu.Lock()
		s.channels[channel] = timers
		s.mu.Unlock()
	}

	var due string
	fired := false
	s.mu.Lock()
	for _, t := range timers {
		if t.nextFire.After(now) {
			continue
		}
		due = t.message
		t.nextFire = t.nextFire.Add(t.period)
		fired = true
		break
	}
	s.mu.Unlock()

	// Publish after releasing the lock so a slow IRC send cannot stall
	// Clear or the other channels' sweeps.
	if !fired {
		return
	}
	s.chat.Publish(channel, due)
	if telemetry.TimerPublishes != nil {
		telemetry.TimerPublishes.Inc()
	}
}

func (s *Scheduler) load(ctx context.Context, channel string, now time.Time) ([]*scheduledTimer, error) {
	user, err := s.users.ByTrustedChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	defs, err := s.store.ActiveTimers(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	timers := make([]*scheduledTimer, 0, len(defs))
	for _, d := range defs {
		period := time.Duration(d.Period) * time.Second
		delay := time.Duration((0.6 + 0.4*s.randF()) * float64(period))
		timers = append(timers, &scheduledTimer{
			message:  d.Message,
			period:   period,
			nextFire: now.Add(delay),
		})
	}
	return timers, nil
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

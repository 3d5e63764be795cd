package timers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dotalayer/companion/db"
)

type fakeTimerStore struct {
	timers map[int64][]Timer
	loads  int
}

func (f *fakeTimerStore) ActiveTimers(_ context.Context, userID int64) ([]Timer, error) {
	f.loads++
	return f.timers[userID], nil
}

type fakeTransport struct {
	mu       sync.Mutex
	channels []string
	messages []string
}

func (f *fakeTransport) Publish(channel, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, channel+"|"+message)
}

func (f *fakeTransport) Channels() []string { return f.channels }

func (f *fakeTransport) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type fakeResolver struct{}

func (fakeResolver) ByTrustedChannel(_ context.Context, channel string) (*db.User, error) {
	if channel == "#streamer" {
		return &db.User{ID: 1, DisplayName: "Streamer"}, nil
	}
	return nil, nil
}

func newTestScheduler(store *fakeTimerStore, jitter float64) (*Scheduler, *fakeTransport, *time.Time) {
	transport := &fakeTransport{channels: []string{"#streamer"}}
	s := NewScheduler(store, transport, fakeResolver{}, 20*time.Second)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	s.randF = func() float64 { return jitter }
	return s, transport, &now
}

func TestInitialFireIsJittered(t *testing.T) {
	store := &fakeTimerStore{timers: map[int64][]Timer{
		1: {{ID: 1, Message: "hi", Period: 100}},
	}}
	// randF = 0.125 puts the initial fire at 0.6 + 0.4*0.125 = 0.65 periods.
	s, transport, now := newTestScheduler(store, 0.125)
	ctx := context.Background()

	s.Sweep(ctx) // loads, nothing due yet
	if got := transport.all(); len(got) != 0 {
		t.Fatalf("published before initial delay: %v", got)
	}

	*now = now.Add(64 * time.Second)
	s.Sweep(ctx)
	if got := transport.all(); len(got) != 0 {
		t.Fatalf("published before fire time: %v", got)
	}

	*now = now.Add(1 * time.Second) // t = 65
	s.Sweep(ctx)
	if got := transport.all(); len(got) != 1 || got[0] != "#streamer|hi" {
		t.Fatalf("messages = %v", got)
	}
}

func TestRescheduleFromFireTimeNotSweepTime(t *testing.T) {
	store := &fakeTimerStore{timers: map[int64][]Timer{
		1: {{ID: 1, Message: "hi", Period: 100}},
	}}
	s, transport, now := newTestScheduler(store, 0.125) // initial fire at t=65
	ctx := context.Background()
	start := *now

	s.Sweep(ctx)
	*now = start.Add(80 * time.Second) // sweep late, 15s past the fire time
	s.Sweep(ctx)
	if len(transport.all()) != 1 {
		t.Fatalf("messages = %v", transport.all())
	}

	// Rescheduled from the scheduled fire time (65), so next fire is 165.
	*now = start.Add(164 * time.Second)
	s.Sweep(ctx)
	if len(transport.all()) != 1 {
		t.Fatalf("fired before 165s: %v", transport.all())
	}
	*now = start.Add(165 * time.Second)
	s.Sweep(ctx)
	if len(transport.all()) != 2 {
		t.Fatalf("messages = %v", transport.all())
	}
}

func TestAtMostOneFirePerChannelPerSweep(t *testing.T) {
	store := &fakeTimerStore{timers: map[int64][]Timer{
		1: {
			{ID: 1, Message: "first", Period: 100},
			{ID: 2, Message: "second", Period: 100},
		},
	}}
	s, transport, now := newTestScheduler(store, 0.0) // both fire at 0.6 periods
	ctx := context.Background()

	s.Sweep(ctx)
	*now = now.Add(200 * time.Second) // both overdue
	s.Sweep(ctx)
	if got := transport.all(); len(got) != 1 || got[0] != "#streamer|first" {
		t.Fatalf("messages = %v", got)
	}

	s.Sweep(ctx)
	if got := transport.all(); len(got) != 2 || got[1] != "#streamer|second" {
		t.Fatalf("messages = %v", got)
	}
}

func TestClearForcesReload(t *testing.T) {
	store := &fakeTimerStore{timers: map[int64][]Timer{
		1: {{ID: 1, Message: "hi", Period: 100}},
	}}
	s, _, _ := newTestScheduler(store, 0.5)
	ctx := context.Background()

	s.Sweep(ctx)
	s.Sweep(ctx)
	if store.loads != 1 {
		t.Fatalf("loads = %d, want 1", store.loads)
	}

	s.Clear("#streamer")
	s.Sweep(ctx)
	if store.loads != 2 {
		t.Errorf("loads = %d after clear, want 2", store.loads)
	}
}

type blockingTransport struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTransport) Publish(channel, message string) {
	close(b.started)
	<-b.release
}

func (b *blockingTransport) Channels() []string { return []string{"#streamer"} }

func TestClearNotBlockedByPublish(t *testing.T) {
	store := &fakeTimerStore{timers: map[int64][]Timer{
		1: {{ID: 1, Message: "hi", Period: 10}},
	}}
	transport := &blockingTransport{started: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(store, transport, fakeResolver{}, 20*time.Second)
	now := time.Unix(1_700_000_000, 0)
	s.randF = func() float64 { return 0 }
	ctx := context.Background()

	s.now = func() time.Time { return now }
	s.Sweep(ctx)

	now = now.Add(10 * time.Second)
	done := make(chan struct{})
	go func() {
		s.Sweep(ctx)
		close(done)
	}()
	<-transport.started

	cleared := make(chan struct{})
	go func() {
		s.Clear("#streamer")
		close(cleared)
	}()
	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("Clear stalled behind an in-flight publish")
	}

	close(transport.release)
	<-done
}

func TestUnknownChannelIgnored(t *testing.T) {
	store := &fakeTimerStore{}
	transport := &fakeTransport{channels: []string{"#elsewhere"}}
	s := NewScheduler(store, transport, fakeResolver{}, 20*time.Second)

	s.Sweep(context.Background())
	if store.loads != 0 {
		t.Errorf("store queried for untrusted channel")
	}
}

package gsi

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/dotalayer/companion/db"
)

type fakeRounds struct {
	mu       sync.Mutex
	started  int
	resolved []string
}

func (f *fakeRounds) StartRound(_ context.Context, _ *db.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeRounds) ResolveRound(_ context.Context, _ *db.User, winner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, winner)
}

type fakePredictions struct {
	mu        sync.Mutex
	created   []string
	resolved  []bool
	createErr error
}

func (f *fakePredictions) Create(_ context.Context, _ *db.User, _, _, title, optionA, optionB string, duration int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, fmt.Sprintf("%s/%s/%s/%d", title, optionA, optionB, duration))
	return f.createErr
}

func (f *fakePredictions) Resolve(_ context.Context, _ *db.User, _, _ string, sideAWon bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, sideAWon)
	return nil
}

type fakeCreds struct {
	access, refresh string
	err             error
}

func (f *fakeCreds) PredictionTokens(_ context.Context, _ int64) (string, string, error) {
	return f.access, f.refresh, f.err
}

type fakeGameStats struct {
	mu   sync.Mutex
	wins []bool
	err  error
}

func (f *fakeGameStats) SaveDotaGame(_ context.Context, _ int64, win bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wins = append(f.wins, win)
	return f.err
}

type orchFixture struct {
	orch       *Orchestrator
	classifier *Classifier
	rounds     *fakeRounds
	preds      *fakePredictions
	stats      *fakeGameStats
	user       *db.User
}

func newOrchFixture(creds *fakeCreds) *orchFixture {
	f := &orchFixture{
		classifier: NewClassifier(),
		rounds:     &fakeRounds{},
		preds:      &fakePredictions{},
		stats:      &fakeGameStats{},
		user: &db.User{
			ID:                 1,
			DisplayName:        "Streamer",
			UseAutomaticVoting: true,
			UsePredictions:     true,
			BetSeasonID:        sql.NullInt64{Int64: 7, Valid: true},
			TeamAName:          "radiant",
			TeamBName:          "dire",
			PredictionDuration: 300,
		},
	}
	f.orch = NewOrchestrator(f.rounds, f.preds, creds, f.stats, f.classifier)
	return f
}

func TestPreGameStartsRoundAndPrediction(t *testing.T) {
	f := newOrchFixture(&fakeCreds{access: "a", refresh: "r"})
	f.classifier.Ingest(1, payload(GameStatePreGame, TeamNone, ActivityPlaying, TeamRadiant), false)

	f.orch.HandleTick(context.Background(), f.user)

	if f.rounds.started != 1 {
		t.Errorf("rounds started = %d, want 1", f.rounds.started)
	}
	if len(f.preds.created) != 1 || f.preds.created[0] != "Will I win?/Yes/No/300" {
		t.Errorf("predictions created = %v", f.preds.created)
	}
}

func TestPreGameObservingUsesObservingTemplates(t *testing.T) {
	f := newOrchFixture(&fakeCreds{access: "a", refresh: "r"})
	f.classifier.Ingest(1, payload(GameStatePreGame, TeamNone, ActivityObserving, ""), false)

	f.orch.HandleTick(context.Background(), f.user)

	if len(f.preds.created) != 1 || f.preds.created[0] != "Who will win?/Radiant/Dire/300" {
		t.Errorf("predictions created = %v", f.preds.created)
	}
}

func TestPreGameCustomTemplates(t *testing.T) {
	f := newOrchFixture(&fakeCreds{access: "a", refresh: "r"})
	f.user.PredictionPlayingTitle = "gg?"
	f.user.PredictionPlayingOptionA = "ez"
	f.classifier.Ingest(1, payload(GameStatePreGame, TeamNone, ActivityPlaying, TeamRadiant), false)

	f.orch.HandleTick(context.Background(), f.user)

	if len(f.preds.created) != 1 || f.preds.created[0] != "gg?/ez/No/300" {
		t.Errorf("predictions created = %v", f.preds.created)
	}
}

func TestPreGameWithoutCredentialsSkipsPrediction(t *testing.T) {
	f := newOrchFixture(&fakeCreds{})
	f.classifier.Ingest(1, payload(GameStatePreGame, TeamNone, ActivityPlaying, TeamRadiant), false)

	f.orch.HandleTick(context.Background(), f.user)

	if f.rounds.started != 1 {
		t.Error("round not started")
	}
	if len(f.preds.created) != 0 {
		t.Errorf("prediction created without credentials: %v", f.preds.created)
	}
}

func TestPreGameFeaturesDisabled(t *testing.T) {
	f := newOrchFixture(&fakeCreds{access: "a", refresh: "r"})
	f.user.UseAutomaticVoting = false
	f.user.UsePredictions = false
	f.classifier.Ingest(1, payload(GameStatePreGame, TeamNone, ActivityPlaying, TeamRadiant), false)

	f.orch.HandleTick(context.Background(), f.user)

	if f.rounds.started != 0 || len(f.preds.created) != 0 {
		t.Errorf("disabled features acted: rounds=%d preds=%v", f.rounds.started, f.preds.created)
	}
}

func TestWinnerPlayingRunsAllThreeEffects(t *testing.T) {
	f := newOrchFixture(&fakeCreds{access: "a", refresh: "r"})
	f.classifier.Ingest(1, payload("x", TeamNone, ActivityPlaying, TeamRadiant), false)
	f.orch.HandleTick(context.Background(), f.user)

	f.classifier.Ingest(1, payload("y", TeamRadiant, ActivityPlaying, TeamRadiant), false)
	f.orch.HandleTick(context.Background(), f.user)

	if len(f.stats.wins) != 1 || !f.stats.wins[0] {
		t.Errorf("win/loss = %v", f.stats.wins)
	}
	if len(f.preds.resolved) != 1 || !f.preds.resolved[0] {
		t.Errorf("prediction resolutions = %v", f.preds.resolved)
	}
	if len(f.rounds.resolved) != 1 || f.rounds.resolved[0] != "radiant" {
		t.Errorf("round resolutions = %v", f.rounds.resolved)
	}
}

func TestWinnerObservingSkipsPersonalStats(t *testing.T) {
	f := newOrchFixture(&fakeCreds{access: "a", refresh: "r"})
	f.user.TeamAName = "A Team"
	f.user.TeamBName = "B Team"
	f.classifier.Ingest(1, payload("x", TeamNone, ActivityObserving, ""), false)
	f.orch.HandleTick(context.Background(), f.user)

	f.classifier.Ingest(1, payload("y", TeamDire, ActivityObserving, ""), false)
	f.orch.HandleTick(context.Background(), f.user)

	if len(f.stats.wins) != 0 {
		t.Errorf("personal stats recorded while observing: %v", f.stats.wins)
	}
	if len(f.preds.resolved) != 1 || f.preds.resolved[0] {
		t.Errorf("prediction resolutions = %v, want one false", f.preds.resolved)
	}
	if len(f.rounds.resolved) != 1 || f.rounds.resolved[0] != "b team" {
		t.Errorf("round resolutions = %v", f.rounds.resolved)
	}
}

func TestWinnerEffectsIndependent(t *testing.T) {
	f := newOrchFixture(&fakeCreds{access: "a", refresh: "r"})
	f.stats.err = fmt.Errorf("stats down")
	f.classifier.Ingest(1, payload("x", TeamNone, ActivityPlaying, TeamRadiant), false)
	f.orch.HandleTick(context.Background(), f.user)

	f.classifier.Ingest(1, payload("y", TeamDire, ActivityPlaying, TeamRadiant), false)
	f.orch.HandleTick(context.Background(), f.user)

	if len(f.preds.resolved) != 1 {
		t.Errorf("prediction resolution skipped after stats failure: %v", f.preds.resolved)
	}
	if len(f.rounds.resolved) != 1 || f.rounds.resolved[0] != "dire" {
		t.Errorf("round resolution skipped after stats failure: %v", f.rounds.resolved)
	}
}

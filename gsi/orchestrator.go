package gsi

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/dotalayer/companion/db"
)

// Built-in prediction templates, used when the user left theirs unset.
const (
	defaultPlayingTitle     = "Will I win?"
	defaultPlayingOptionA   = "Yes"
	defaultPlayingOptionB   = "No"
	defaultObservingTitle   = "Who will win?"
	defaultObservingOptionA = "Radiant"
	defaultObservingOptionB = "Dire"
)

// Rounds drives the betting round lifecycle for a user's channel.
type Rounds interface {
	StartRound(ctx context.Context, user *db.User)
	ResolveRound(ctx context.Context, user *db.User, winner string)
}

// PredictionClient talks to the external prediction market.
type PredictionClient interface {
	Create(ctx context.Context, user *db.User, access, refresh, title, optionA, optionB string, duration int) error
	Resolve(ctx context.Context, user *db.User, access, refresh string, sideAWon bool) error
}

// CredentialSource yields the user's prediction-scope token pair. Empty strings
// mean no usable credentials.
type CredentialSource interface {
	PredictionTokens(ctx context.Context, userID int64) (access, refresh string, err error)
}

// GameStatsStore records personal win/loss results.
type GameStatsStore interface {
	SaveDotaGame(ctx context.Context, userID int64, win bool) error
}

// Orchestrator turns a client's drained event batch into round transitions,
// prediction-market calls, and win/loss statistics.
type Orchestrator struct {
	rounds      Rounds
	predictions PredictionClient
	creds       CredentialSource
	stats       GameStatsStore
	classifier  *Classifier
}

func NewOrchestrator(rounds Rounds, predictions PredictionClient, creds CredentialSource, stats GameStatsStore, classifier *Classifier) *Orchestrator {
	return &Orchestrator{
		rounds:      rounds,
		predictions: predictions,
		creds:       creds,
		stats:       stats,
		classifier:  classifier,
	}
}

// HandleTick drains the user's buffered events and applies the decision rules for
// the batch. The three winner side effects (stats, prediction resolve, round
// resolve) run as independent tasks; one failing never aborts the others.
func (o *Orchestrator) HandleTick(ctx context.Context, user *db.User) {
	events := o.classifier.Drain(user.ID)
	if len(events) == 0 {
		return
	}

	preGame := false
	var winner *WinnerValue
	for _, ev := range events {
		switch ev.Type {
		case EventGameState:
			if s, ok := ev.Value.(string); ok && s == GameStatePreGame {
				preGame = true
			}
		case EventWinner:
			if w, ok := ev.Value.(WinnerValue); ok && w.WinnerTeam != TeamNone {
				winner = &w
			}
		}
	}

	activity := o.classifier.Activity(user.ID)

	if preGame {
		if user.UseAutomaticVoting {
			o.rounds.StartRound(ctx, user)
		}
		if user.UsePredictions {
			o.createPrediction(ctx, user, activity)
		}
	}

	if winner != nil {
		var wg sync.WaitGroup
		playing := activity == ActivityPlaying

		if playing {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := o.stats.SaveDotaGame(ctx, user.ID, winner.IsPlayingWin); err != nil {
					slog.Warn("orchestrator: record win/loss failed", slog.Any("err", err), slog.Int64("user", user.ID))
				}
			}()
		}

		if user.UsePredictions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.resolvePrediction(ctx, user, winner, playing)
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			side := strings.ToLower(user.TeamBName)
			if winner.WinnerTeam == TeamRadiant {
				side = strings.ToLower(user.TeamAName)
			}
			o.rounds.ResolveRound(ctx, user, side)
		}()

		wg.Wait()
	}
}

func (o *Orchestrator) createPrediction(ctx context.Context, user *db.User, activity string) {
	access, refresh, err := o.creds.PredictionTokens(ctx, user.ID)
	if err != nil {
		slog.Warn("orchestrator: prediction token fetch failed", slog.Any("err", err), slog.Int64("user", user.ID))
		return
	}
	if access == "" || refresh == "" {
		// Distinct from predictions being disabled: the feature is on but the
		// user never granted the scope.
		slog.Debug("orchestrator: prediction skipped, no credentials", slog.Int64("user", user.ID))
		return
	}

	title, optionA, optionB := predictionTexts(user, activity)
	if err := o.predictions.Create(ctx, user, access, refresh, title, optionA, optionB, user.PredictionDuration); err != nil {
		slog.Warn("orchestrator: prediction create failed", slog.Any("err", err), slog.Int64("user", user.ID))
	}
}

func (o *Orchestrator) resolvePrediction(ctx context.Context, user *db.User, winner *WinnerValue, playing bool) {
	access, refresh, err := o.creds.PredictionTokens(ctx, user.ID)
	if err != nil {
		slog.Warn("orchestrator: prediction token fetch failed", slog.Any("err", err), slog.Int64("user", user.ID))
		return
	}
	if access == "" || refresh == "" {
		slog.Debug("orchestrator: prediction resolve skipped, no credentials", slog.Int64("user", user.ID))
		return
	}

	sideAWon := winner.WinnerTeam == TeamRadiant
	if playing {
		sideAWon = winner.IsPlayingWin
	}
	if err := o.predictions.Resolve(ctx, user, access, refresh, sideAWon); err != nil {
		slog.Warn("orchestrator: prediction resolve failed", slog.Any("err", err), slog.Int64("user", user.ID))
	}
}

func predictionTexts(user *db.User, activity string) (title, optionA, optionB string) {
	if activity == ActivityObserving {
		title, optionA, optionB = user.PredictionObservingTitle, user.PredictionObservingOptionA, user.PredictionObservingOptionB
		if title == "" {
			title = defaultObservingTitle
		}
		if optionA == "" {
			optionA = defaultObservingOptionA
		}
		if optionB == "" {
			optionB = defaultObservingOptionB
		}
		return title, optionA, optionB
	}
	title, optionA, optionB = user.PredictionPlayingTitle, user.PredictionPlayingOptionA, user.PredictionPlayingOptionB
	if title == "" {
		title = defaultPlayingTitle
	}
	if optionA == "" {
		optionA = defaultPlayingOptionA
	}
	if optionB == "" {
		optionB = defaultPlayingOptionB
	}
	return title, optionA, optionB
}

// Package betting implements the per-channel betting engine: the round state
// machine, the bet ledger, the chat command dispatcher, and the placeholder
// resolver for chat responses.
package betting

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/dotalayer/companion/db"
	"github.com/dotalayer/companion/telemetry"
)

// Status is the lifecycle state of a bet round.
type Status string

const (
	StatusBetting  Status = "betting"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// validTransitions is the central transition table. finished is terminal; a new
// round object is created for the next round.
var validTransitions = map[Status]Status{
	StatusBetting: StatusRunning,
	StatusRunning: StatusFinished,
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	return validTransitions[s] == next
}

// CurrentBetRound mirrors the active round in memory so chat feedback does not
// re-query storage. It is the source of truth for live counters; the persisted
// copy trails it (eventually consistent).
type CurrentBetRound struct {
	RoundID int64
	Round   int
	Status  Status
	Bets    int
	ABets   int
	BBets   int
	Betters []string
}

func (r *CurrentBetRound) hasBetter(username string) bool {
	username = strings.ToLower(username)
	for _, b := range r.Betters {
		if b == username {
			return true
		}
	}
	return false
}

// Bettor identifies the chat participant placing a bet.
type Bettor struct {
	TwitchID    string
	DisplayName string
	Username    string
}

// Store persists rounds, bets, commands, and season statistics.
type Store interface {
	LastRoundNumber(ctx context.Context, seasonID int64) (int, error)
	CreateRound(ctx context.Context, seasonID, userID int64, round, chatters int) (int64, error)
	PatchRound(ctx context.Context, roundID int64, status Status, result string) error
	SaveBet(ctx context.Context, userID, roundID int64, bettor Bettor, side string) error
	UserCommands(ctx context.Context, userID int64) ([]Command, error)
	SeasonStats(ctx context.Context, seasonID int64, username string) (SeasonStats, error)
	SeasonToplist(ctx context.Context, seasonID int64) ([]ToplistEntry, error)
}

// Publisher sends a message to a chat channel (fire-and-forget).
type Publisher interface {
	Publish(channel, message string)
}

// Notifier pushes an event to a user's connected overlay/frontend subscribers.
type Notifier interface {
	SendMessage(userID int64, event string, payload any)
}

// ChatterCounter snapshots the current chatter count of a broadcaster's channel.
type ChatterCounter interface {
	ChatterCount(ctx context.Context, twitchID string) (int, error)
}

// Engine owns the per-channel round state. It is constructed once at service start
// and injected into the chat dispatcher and the game-event orchestrator; channels
// are fully independent, the mutex only orders operations within the process.
type Engine struct {
	store    Store
	chat     Publisher
	notifier Notifier
	chatters ChatterCounter
	commands *CommandCache

	mu     sync.Mutex
	rounds map[string]*CurrentBetRound // keyed by channel ("#name")
}

// NewEngine wires the engine with its collaborators. chatters may be nil, in which
// case round snapshots record zero chatters.
func NewEngine(store Store, chat Publisher, notifier Notifier, chatters ChatterCounter) *Engine {
	return &Engine{
		store:    store,
		chat:     chat,
		notifier: notifier,
		chatters: chatters,
		commands: NewCommandCache(store),
		rounds:   make(map[string]*CurrentBetRound),
	}
}

// Commands exposes the per-channel command cache (for invalidation hooks).
func (e *Engine) Commands() *CommandCache { return e.commands }

// CurrentRound returns the live round mirror for a channel, or nil.
func (e *Engine) CurrentRound(channel string) *CurrentBetRound {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rounds[channel]
}

func (e *Engine) countActive() int {
	n := len(e.rounds)
	telemetry.SetActiveRounds(n)
	return n
}

// StartRound opens a new round for the user's channel. Without a configured season
// this is a silent no-op. The chatter count is snapshotted best-effort.
func (e *Engine) StartRound(ctx context.Context, user *db.User) {
	if user == nil || !user.BetSeasonID.Valid {
		return
	}
	seasonID := user.BetSeasonID.Int64

	last, err := e.store.LastRoundNumber(ctx, seasonID)
	if err != nil {
		slog.Warn("bet round: last round lookup failed", slog.Any("err", err), slog.Int64("season", seasonID))
		return
	}

	chatters := 0
	if e.chatters != nil {
		if n, err := e.chatters.ChatterCount(ctx, user.TwitchID); err != nil {
			slog.Debug("bet round: chatter count failed", slog.Any("err", err))
		} else {
			chatters = n
		}
	}

	roundID, err := e.store.CreateRound(ctx, seasonID, user.ID, last+1, chatters)
	if err != nil {
		slog.Warn("bet round: create failed", slog.Any("err", err), slog.Int64("user", user.ID))
		return
	}

	channel := user.Channel()
	e.mu.Lock()
	e.rounds[channel] = &CurrentBetRound{RoundID: roundID, Round: last + 1, Status: StatusBetting}
	e.countActive()
	e.mu.Unlock()

	if telemetry.RoundsStarted != nil {
		telemetry.RoundsStarted.Inc()
	}
	slog.Info("bet round started", slog.String("channel", channel), slog.Int("round", last+1), slog.Int64("round_id", roundID))
}

// LockRound transitions betting → running, closing the betting window. Invalid
// transitions are ignored.
func (e *Engine) LockRound(ctx context.Context, channel string) {
	e.mu.Lock()
	cur := e.rounds[channel]
	if cur == nil || !cur.Status.CanTransition(StatusRunning) {
		e.mu.Unlock()
		slog.Debug("bet round: lock ignored", slog.String("channel", channel))
		return
	}
	cur.Status = StatusRunning
	roundID := cur.RoundID
	e.mu.Unlock()

	if err := e.store.PatchRound(ctx, roundID, StatusRunning, ""); err != nil {
		slog.Warn("bet round: persist lock failed", slog.Any("err", err), slog.Int64("round_id", roundID))
	}
	slog.Info("bet round locked", slog.String("channel", channel), slog.Int64("round_id", roundID))
}

// ResolveRound transitions running → finished with the winning side label, clears
// the in-memory state, and publishes the winner announcement. Resolving from any
// state but running is a no-op.
func (e *Engine) ResolveRound(ctx context.Context, user *db.User, winner string) {
	if user == nil || winner == "" {
		return
	}
	channel := user.Channel()

	e.mu.Lock()
	cur := e.rounds[channel]
	if cur == nil || !cur.Status.CanTransition(StatusFinished) {
		e.mu.Unlock()
		slog.Debug("bet round: resolve ignored", slog.String("channel", channel), slog.String("winner", winner))
		return
	}
	cur.Status = StatusFinished
	roundID := cur.RoundID
	// Clearing the mirror stops the ledger from accepting further wagers for this
	// round id; late placeBet calls see a stale id and reject.
	delete(e.rounds, channel)
	e.countActive()
	e.mu.Unlock()

	if err := e.store.PatchRound(ctx, roundID, StatusFinished, winner); err != nil {
		slog.Warn("bet round: persist resolve failed", slog.Any("err", err), slog.Int64("round_id", roundID))
	}

	e.notifier.SendMessage(user.ID, "betround_reset", struct{}{})

	cmds, err := e.commands.Commands(ctx, channel, user.ID)
	if err != nil {
		slog.Warn("bet round: winner command lookup failed", slog.Any("err", err))
	} else if bc := SelectBettingCommands(cmds); bc.Winner != nil {
		e.chat.Publish(channel, ReplaceWinner(bc.Winner.Message, winner))
	}

	if telemetry.RoundsResolved != nil {
		telemetry.RoundsResolved.Inc()
	}
	slog.Info("bet round resolved", slog.String("channel", channel), slog.Int64("round_id", roundID), slog.String("winner", winner))
}

// PlaceBet records a wager against the round identified by roundID. Counters are
// applied to the in-memory mirror synchronously; persistence runs asynchronously.
// Duplicate bets by the same watcher and stale round ids are rejected silently.
// Returns whether the bet was accepted.
func (e *Engine) PlaceBet(ctx context.Context, user *db.User, roundID int64, bettor Bettor, side string) bool {
	if user == nil {
		return false
	}
	channel := user.Channel()

	e.mu.Lock()
	cur := e.rounds[channel]
	if cur == nil || cur.RoundID != roundID || cur.Status != StatusBetting {
		e.mu.Unlock()
		if telemetry.BetsRejected != nil {
			telemetry.BetsRejected.Inc()
		}
		return false
	}
	if cur.hasBetter(bettor.Username) {
		e.mu.Unlock()
		if telemetry.BetsRejected != nil {
			telemetry.BetsRejected.Inc()
		}
		return false
	}
	cur.Bets++
	if strings.EqualFold(side, user.TeamAName) {
		cur.ABets++
	} else {
		cur.BBets++
	}
	cur.Betters = append(cur.Betters, strings.ToLower(bettor.Username))
	e.mu.Unlock()

	// The persisted copy trails the mirror; chat feedback never waits on storage.
	go func(userID int64) {
		pctx := context.WithoutCancel(ctx)
		if err := e.store.SaveBet(pctx, userID, roundID, bettor, side); err != nil {
			slog.Warn("bet persist failed", slog.Any("err", err), slog.Int64("round_id", roundID), slog.String("watcher", bettor.Username))
		}
	}(user.ID)

	if telemetry.BetsPlaced != nil {
		telemetry.BetsPlaced.Inc()
	}
	return true
}

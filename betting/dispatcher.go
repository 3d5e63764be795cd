package betting

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dotalayer/companion/db"
)

// UserLookup resolves the broadcaster account that owns a chat channel.
type UserLookup interface {
	ByTrustedChannel(ctx context.Context, channel string) (*db.User, error)
}

// Dispatcher routes inbound chat lines to the betting engine or to the channel's
// static command responses.
type Dispatcher struct {
	engine *Engine
	chat   Publisher
	users  UserLookup
}

func NewDispatcher(engine *Engine, chat Publisher, users UserLookup) *Dispatcher {
	return &Dispatcher{engine: engine, chat: chat, users: users}
}

// HandleChatMessage parses the line's leading token as a trigger and matches it
// case-sensitively against the channel's cached commands. Betting commands run
// their round action; everything else falls back to the static response path.
func (d *Dispatcher) HandleChatMessage(ctx context.Context, channel string, sender Bettor, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	trigger := fields[0]

	user, err := d.users.ByTrustedChannel(ctx, channel)
	if err != nil {
		slog.Warn("chat dispatch: channel lookup failed", slog.Any("err", err), slog.String("channel", channel))
		return
	}
	if user == nil {
		return
	}

	cmds, err := d.engine.Commands().Commands(ctx, channel, user.ID)
	if err != nil {
		slog.Warn("chat dispatch: command load failed", slog.Any("err", err), slog.String("channel", channel))
		return
	}

	var match *Command
	for i := range cmds {
		if cmds[i].Command == trigger {
			match = &cmds[i]
			break
		}
	}
	if match == nil {
		return
	}

	if match.Active && d.handleBetting(ctx, user, channel, sender, match, fields, text) {
		return
	}
	if match.Active {
		d.respondStatic(ctx, user, channel, sender, match)
	}
}

// handleBetting runs the betting action for a matched command. Returns false for
// default-typed commands so the caller falls through to the static path.
func (d *Dispatcher) handleBetting(ctx context.Context, user *db.User, channel string, sender Bettor, cmd *Command, fields []string, text string) bool {
	switch cmd.Type {
	case CommandTypeStreamer:
		if !strings.EqualFold(sender.Username, user.DisplayName) {
			// Streamer commands from non-owners are swallowed, not demoted to
			// static responses.
			return true
		}
		switch cmd.Identifier {
		case IdentifierStartBet:
			d.engine.StartRound(ctx, user)
			d.announce(ctx, user, channel, sender, cmd)
		case IdentifierBet:
			d.engine.LockRound(ctx, channel)
			d.announce(ctx, user, channel, sender, cmd)
		case IdentifierBetWinner:
			winner := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(text, cmd.Command)))
			d.engine.ResolveRound(ctx, user, winner)
		}
		return true
	case CommandTypeUser:
		if cmd.Identifier == IdentifierBet {
			d.handleUserBet(ctx, user, sender, fields)
			return true
		}
	}
	return false
}

// handleUserBet places a wager when the first argument names one of the channel's
// configured sides. Anything else is ignored without feedback.
func (d *Dispatcher) handleUserBet(ctx context.Context, user *db.User, sender Bettor, fields []string) {
	if len(fields) < 2 {
		return
	}
	var side string
	switch {
	case strings.EqualFold(fields[1], user.TeamAName):
		side = strings.ToLower(user.TeamAName)
	case strings.EqualFold(fields[1], user.TeamBName):
		side = strings.ToLower(user.TeamBName)
	default:
		return
	}

	cur := d.engine.CurrentRound(user.Channel())
	if cur == nil {
		return
	}
	d.engine.PlaceBet(ctx, user, cur.RoundID, sender, side)
}

// announce publishes a betting command's own template, if it has one.
func (d *Dispatcher) announce(ctx context.Context, user *db.User, channel string, sender Bettor, cmd *Command) {
	if cmd.Message == "" {
		return
	}
	d.chat.Publish(channel, d.render(ctx, user, sender, cmd.Message))
}

// respondStatic renders and publishes a plain command response.
func (d *Dispatcher) respondStatic(ctx context.Context, user *db.User, channel string, sender Bettor, cmd *Command) {
	if cmd.Message == "" {
		return
	}
	d.chat.Publish(channel, d.render(ctx, user, sender, cmd.Message))
}

// render expands placeholder tokens, querying season statistics only when the
// template actually references them.
func (d *Dispatcher) render(ctx context.Context, user *db.User, sender Bettor, message string) string {
	var (
		stats   SeasonStats
		toplist []ToplistEntry
	)
	if user.BetSeasonID.Valid {
		seasonID := user.BetSeasonID.Int64
		if strings.Contains(message, "{USER_BETS_") {
			st, err := d.engine.store.SeasonStats(ctx, seasonID, sender.Username)
			if err != nil {
				slog.Warn("chat dispatch: season stats lookup failed", slog.Any("err", err))
			} else {
				stats = st
			}
		}
		if strings.Contains(message, "{TOPLIST_STATS}") {
			tl, err := d.engine.store.SeasonToplist(ctx, seasonID)
			if err != nil {
				slog.Warn("chat dispatch: toplist lookup failed", slog.Any("err", err))
			} else {
				toplist = tl
			}
		}
	}
	return ReplacePlaceholders(message, sender.DisplayName, stats, toplist)
}

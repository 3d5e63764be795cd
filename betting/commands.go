package betting

import (
	"context"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
)

// Command is a broadcaster-configured chat command. Type distinguishes plain
// static responses from betting triggers; Identifier selects the betting action
// for non-default types.
type Command struct {
	ID         int64  `json:"id"`
	Command    string `json:"command"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Active     bool   `json:"active"`
	Identifier string `json:"identifier"`
}

const (
	CommandTypeDefault  = "default"
	CommandTypeUser     = "betting_user"
	CommandTypeStreamer = "betting_streamer"
)

const (
	IdentifierStartBet  = "startbet"
	IdentifierBet       = "bet"
	IdentifierBetWinner = "betwinner"
)

// BettingCommands is the subset of a channel's commands that drive the round
// state machine.
type BettingCommands struct {
	Start  *Command // betting_streamer / startbet
	Lock   *Command // betting_streamer / bet
	Winner *Command // betting_streamer / betwinner
	Bet    *Command // betting_user / bet
}

// SelectBettingCommands picks the active betting commands out of a channel's
// command list. Last active definition per slot wins.
func SelectBettingCommands(cmds []Command) BettingCommands {
	var bc BettingCommands
	for i := range cmds {
		c := &cmds[i]
		if !c.Active {
			continue
		}
		switch {
		case c.Type == CommandTypeStreamer && c.Identifier == IdentifierStartBet:
			bc.Start = c
		case c.Type == CommandTypeStreamer && c.Identifier == IdentifierBet:
			bc.Lock = c
		case c.Type == CommandTypeStreamer && c.Identifier == IdentifierBetWinner:
			bc.Winner = c
		case c.Type == CommandTypeUser && c.Identifier == IdentifierBet:
			bc.Bet = c
		}
	}
	return bc
}

const commandCacheSize = 1 << 20

// CommandCache keeps each channel's command list hot between settings changes.
// Entries never expire on their own; Clear drops a channel after its owner edits
// commands or renames the channel.
type CommandCache struct {
	store Store
	cache *freecache.Cache
}

func NewCommandCache(store Store) *CommandCache {
	return &CommandCache{store: store, cache: freecache.NewCache(commandCacheSize)}
}

// Commands returns the channel's command list, loading it from storage on first
// access.
func (c *CommandCache) Commands(ctx context.Context, channel string, userID int64) ([]Command, error) {
	key := []byte(channel)
	if raw, err := c.cache.Get(key); err == nil {
		var cmds []Command
		if err := json.Unmarshal(raw, &cmds); err == nil {
			return cmds, nil
		}
		// Undecodable entry, fall through to a reload.
		c.cache.Del(key)
	}

	cmds, err := c.store.UserCommands(ctx, userID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(cmds); err == nil {
		_ = c.cache.Set(key, raw, 0)
	}
	return cmds, nil
}

// Clear invalidates the cached command list for a channel.
func (c *CommandCache) Clear(channel string) {
	c.cache.Del([]byte(channel))
}

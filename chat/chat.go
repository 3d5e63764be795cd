// Package chat wraps the Twitch IRC connection: joined-channel tracking, outbound
// publishing, and inbound message dispatch.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Sender identifies the author of an inbound chat line.
type Sender struct {
	TwitchID    string
	DisplayName string
	Username    string
}

// MessageHandler consumes an inbound chat line. channel carries the leading "#".
type MessageHandler func(ctx context.Context, channel string, sender Sender, text string)

// Bot is the IRC client. Channel identifiers everywhere in this codebase carry
// the leading "#"; the IRC library wants them bare, conversion happens at this
// boundary only.
type Bot struct {
	client  *twitch.Client
	handler MessageHandler

	mu       sync.RWMutex
	channels map[string]struct{}
}

func NewBot(username, oauthToken string) *Bot {
	return &Bot{
		client:   twitch.NewClient(username, oauthToken),
		channels: make(map[string]struct{}),
	}
}

// OnMessage registers the inbound handler. Must be called before Run.
func (b *Bot) OnMessage(fn MessageHandler) {
	b.handler = fn
}

// Publish sends a message to a channel, fire-and-forget.
func (b *Bot) Publish(channel, message string) {
	b.client.Say(bare(channel), message)
}

// Join subscribes the bot to the given channels.
func (b *Bot) Join(channels ...string) {
	b.mu.Lock()
	for _, ch := range channels {
		b.channels[normalize(ch)] = struct{}{}
	}
	b.mu.Unlock()
	for _, ch := range channels {
		b.client.Join(bare(ch))
	}
}

// Part leaves a channel (display-name change, account deactivation).
func (b *Bot) Part(channel string) {
	b.mu.Lock()
	delete(b.channels, normalize(channel))
	b.mu.Unlock()
	b.client.Depart(bare(channel))
}

// Channels returns the currently joined channels, "#"-prefixed.
func (b *Bot) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		out = append(out, ch)
	}
	return out
}

// Run connects and blocks until ctx is cancelled or the connection fails.
func (b *Bot) Run(ctx context.Context) error {
	b.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if b.handler == nil {
			return
		}
		sender := Sender{
			TwitchID:    msg.User.ID,
			DisplayName: msg.User.DisplayName,
			Username:    msg.User.Name,
		}
		b.handler(ctx, "#"+strings.ToLower(msg.Channel), sender, msg.Message)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := b.client.Disconnect(); err != nil {
			slog.Debug("chat disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	err := b.client.Connect()
	select {
	case <-done:
		return nil
	default:
	}
	return err
}

func normalize(channel string) string {
	channel = strings.ToLower(channel)
	if !strings.HasPrefix(channel, "#") {
		channel = "#" + channel
	}
	return channel
}

func bare(channel string) string {
	return strings.TrimPrefix(strings.ToLower(channel), "#")
}

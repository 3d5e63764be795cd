// Package predictions runs Twitch channel-point predictions in parallel with the
// engine's own betting rounds.
package predictions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nicklaw5/helix/v2"

	"github.com/dotalayer/companion/db"
	"github.com/dotalayer/companion/telemetry"
)

const statusResolved = "RESOLVED"

// Client creates and resolves predictions on behalf of broadcasters. A fresh
// helix client is built per call because each broadcaster brings their own token
// pair.
type Client struct {
	clientID     string
	clientSecret string

	// Overrides for tests.
	APIBaseURL string
	HTTPClient *http.Client
}

func New(clientID, clientSecret string) *Client {
	return &Client{clientID: clientID, clientSecret: clientSecret}
}

func (c *Client) api(access, refresh string) (*helix.Client, error) {
	opts := &helix.Options{
		ClientID:        c.clientID,
		ClientSecret:    c.clientSecret,
		UserAccessToken: access,
		RefreshToken:    refresh,
	}
	if c.APIBaseURL != "" {
		opts.APIBaseURL = c.APIBaseURL
	}
	if c.HTTPClient != nil {
		opts.HTTPClient = c.HTTPClient
	}
	return helix.NewClient(opts)
}

// Create opens a two-outcome prediction on the user's channel.
func (c *Client) Create(ctx context.Context, user *db.User, access, refresh, title, optionA, optionB string, duration int) error {
	api, err := c.api(access, refresh)
	if err != nil {
		return fmt.Errorf("prediction client: %w", err)
	}

	var resp *helix.PredictionsResponse
	telemetry.TimeFunc(telemetry.PredictionRTTSeconds, func() {
		resp, err = api.CreatePrediction(&helix.CreatePredictionParams{
			BroadcasterID:    user.TwitchID,
			Title:            title,
			Outcomes:         []helix.PredictionChoiceParam{{Title: optionA}, {Title: optionB}},
			PredictionWindow: duration,
		})
	})
	if err != nil {
		c.countFailure()
		return fmt.Errorf("create prediction: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.countFailure()
		return fmt.Errorf("create prediction: status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}

	if telemetry.PredictionsCreated != nil {
		telemetry.PredictionsCreated.Inc()
	}
	slog.Info("prediction created", slog.Int64("user", user.ID), slog.String("title", title))
	return nil
}

// Resolve ends the user's most recent prediction with the winning outcome:
// first outcome when sideAWon, second otherwise.
func (c *Client) Resolve(ctx context.Context, user *db.User, access, refresh string, sideAWon bool) error {
	api, err := c.api(access, refresh)
	if err != nil {
		return fmt.Errorf("prediction client: %w", err)
	}

	list, err := api.GetPredictions(&helix.PredictionsParams{
		BroadcasterID: user.TwitchID,
		First:         "1",
	})
	if err != nil {
		c.countFailure()
		return fmt.Errorf("get predictions: %w", err)
	}
	if list.StatusCode >= 400 {
		c.countFailure()
		return fmt.Errorf("get predictions: status %d: %s", list.StatusCode, list.ErrorMessage)
	}
	if len(list.Data.Predictions) == 0 {
		c.countFailure()
		return fmt.Errorf("resolve prediction: no prediction found for broadcaster %s", user.TwitchID)
	}

	p := list.Data.Predictions[0]
	if len(p.Outcomes) < 2 {
		c.countFailure()
		return fmt.Errorf("resolve prediction: prediction %s has %d outcomes", p.ID, len(p.Outcomes))
	}
	winning := p.Outcomes[1].ID
	if sideAWon {
		winning = p.Outcomes[0].ID
	}

	var resp *helix.PredictionsResponse
	telemetry.TimeFunc(telemetry.PredictionRTTSeconds, func() {
		resp, err = api.EndPrediction(&helix.EndPredictionParams{
			BroadcasterID:    user.TwitchID,
			ID:               p.ID,
			Status:           statusResolved,
			WinningOutcomeID: winning,
		})
	})
	if err != nil {
		c.countFailure()
		return fmt.Errorf("end prediction: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.countFailure()
		return fmt.Errorf("end prediction: status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}

	slog.Info("prediction resolved", slog.Int64("user", user.ID), slog.String("prediction", p.ID), slog.Bool("side_a", sideAWon))
	return nil
}

func (c *Client) countFailure() {
	if telemetry.PredictionsFailed != nil {
		telemetry.PredictionsFailed.Inc()
	}
}

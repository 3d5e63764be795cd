package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HelixClient provides the minimal app-token Helix surface the engine needs:
// login→id resolution, live status, and chatter counts for round snapshots.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // override for tests; defaults to api.twitch.tv
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return "https://api.twitch.tv"
}

func (hc *HelixClient) get(ctx context.Context, path string, query map[string]string, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helix %s failed: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/helix/users", map[string]string{"login": login}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// AuthenticatedUser is the identity behind a user access token.
type AuthenticatedUser struct {
	ID          string
	Login       string
	DisplayName string
}

// UserFromToken resolves the identity of a user access token (OAuth callback).
// It bypasses the app token source since the caller supplies the token.
func (hc *HelixClient) UserFromToken(ctx context.Context, accessToken string) (*AuthenticatedUser, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+"/helix/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix /helix/users failed: %s", resp.Status)
	}
	var body struct {
		Data []struct {
			ID          string `json:"id"`
			Login       string `json:"login"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	u := body.Data[0]
	return &AuthenticatedUser{ID: u.ID, Login: u.Login, DisplayName: u.DisplayName}, nil
}

// Stream describes one live stream entry.
type Stream struct {
	Title     string
	StartedAt time.Time
}

// GetStreams returns live streams for a login (empty slice when offline).
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			Title     string `json:"title"`
			StartedAt string `json:"started_at"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/helix/streams", map[string]string{"user_login": login}, &body); err != nil {
		return nil, err
	}
	out := make([]Stream, 0, len(body.Data))
	for _, s := range body.Data {
		started, _ := time.Parse(time.RFC3339, s.StartedAt)
		out = append(out, Stream{Title: s.Title, StartedAt: started})
	}
	return out, nil
}

// GetChatterCount returns the current chatter total for a broadcaster. A zero count
// with nil error is a valid answer (empty chat).
func (hc *HelixClient) GetChatterCount(ctx context.Context, broadcasterID, moderatorID string) (int, error) {
	if broadcasterID == "" {
		return 0, fmt.Errorf("broadcasterID empty")
	}
	if moderatorID == "" {
		moderatorID = broadcasterID
	}
	var body struct {
		Total int `json:"total"`
	}
	err := hc.get(ctx, "/helix/chat/chatters", map[string]string{
		"broadcaster_id": broadcasterID,
		"moderator_id":   moderatorID,
	}, &body)
	if err != nil {
		return 0, err
	}
	return body.Total, nil
}

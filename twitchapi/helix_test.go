package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dotalayer/companion/testutil"
)

func seededTokenSource() *TokenSource {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(time.Hour))
	return ts
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		name        string
		login       string
		response    interface{}
		statusCode  int
		wantUserID  string
		wantErr     bool
		errContains string
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]interface{}{
				"data": []map[string]string{{"id": "12345", "login": "testuser"}},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
		},
		{
			name:        "user not found",
			login:       "nonexistent",
			response:    map[string]interface{}{"data": []map[string]string{}},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "empty login",
			login:       "",
			wantErr:     true,
			errContains: "login empty",
		},
		{
			name:        "server error",
			login:       "testuser",
			statusCode:  http.StatusInternalServerError,
			wantErr:     true,
			errContains: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if tt.login != "" && r.URL.Query().Get("login") != tt.login {
					t.Errorf("login query param = %s, want %s", r.URL.Query().Get("login"), tt.login)
				}
				w.WriteHeader(tt.statusCode)
				if tt.response != nil {
					_ = json.NewEncoder(w).Encode(tt.response)
				}
			}))
			defer server.Close()

			client := &HelixClient{
				AppTokenSource: seededTokenSource(),
				ClientID:       "test-client-id",
				BaseURL:        server.URL,
			}

			got, err := client.GetUserID(context.Background(), tt.login)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetUserID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err, tt.errContains)
			}
			if got != tt.wantUserID {
				t.Errorf("GetUserID() = %q, want %q", got, tt.wantUserID)
			}
		})
	}
}

func TestHelixClient_AgainstMockServer(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token", 3600)
	mock.MockUserResponse("99", "mockcaster")
	mock.MockChattersResponse(7)
	mock.MockStreamsResponse([]map[string]interface{}{
		{"title": "Mock Stream", "started_at": "2024-10-15T14:30:00Z"},
	})

	client := &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: mock.URL + "/oauth2/token"},
		ClientID:       "id",
		BaseURL:        mock.URL,
	}

	id, err := client.GetUserID(context.Background(), "mockcaster")
	if err != nil || id != "99" {
		t.Fatalf("GetUserID() = %q, %v", id, err)
	}
	n, err := client.GetChatterCount(context.Background(), "99", "")
	if err != nil || n != 7 {
		t.Fatalf("GetChatterCount() = %d, %v", n, err)
	}
	streams, err := client.GetStreams(context.Background(), "mockcaster")
	if err != nil || len(streams) != 1 {
		t.Fatalf("GetStreams() = %v, %v", streams, err)
	}
}

func TestHelixClient_UserFromToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/users" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Fatalf("Authorization=%q want Bearer user-token", got)
		}
		if got := r.Header.Get("Client-Id"); got != "test-client-id" {
			t.Fatalf("Client-Id=%q want test-client-id", got)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{
				"id":           "555",
				"login":        "caster",
				"display_name": "Caster",
			}},
		})
	}))
	defer server.Close()

	client := &HelixClient{ClientID: "test-client-id", BaseURL: server.URL}

	u, err := client.UserFromToken(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("UserFromToken() error = %v", err)
	}
	if u.ID != "555" || u.Login != "caster" || u.DisplayName != "Caster" {
		t.Fatalf("unexpected identity: %+v", u)
	}

	if _, err := client.UserFromToken(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestHelixClient_GetStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/streams" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.URL.Query().Get("user_login"); got != "livechannel" {
			t.Fatalf("user_login=%q want livechannel", got)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{
				"title":      "Live Now",
				"started_at": "2024-10-15T14:30:00Z",
			}},
		})
	}))
	defer server.Close()

	client := &HelixClient{
		AppTokenSource: seededTokenSource(),
		ClientID:       "test-client-id",
		BaseURL:        server.URL,
	}

	streams, err := client.GetStreams(context.Background(), "livechannel")
	if err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	if streams[0].Title != "Live Now" {
		t.Fatalf("stream title=%q want Live Now", streams[0].Title)
	}
	want := time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)
	if !streams[0].StartedAt.Equal(want) {
		t.Fatalf("started_at=%v want %v", streams[0].StartedAt, want)
	}
}

func TestHelixClient_GetChatterCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/chat/chatters" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.URL.Query().Get("broadcaster_id"); got != "777" {
			t.Fatalf("broadcaster_id=%q want 777", got)
		}
		// moderator defaults to the broadcaster when not supplied
		if got := r.URL.Query().Get("moderator_id"); got != "777" {
			t.Fatalf("moderator_id=%q want 777", got)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data":  []map[string]string{},
			"total": 42,
		})
	}))
	defer server.Close()

	client := &HelixClient{
		AppTokenSource: seededTokenSource(),
		ClientID:       "test-client-id",
		BaseURL:        server.URL,
	}

	n, err := client.GetChatterCount(context.Background(), "777", "")
	if err != nil {
		t.Fatalf("GetChatterCount() error = %v", err)
	}
	if n != 42 {
		t.Fatalf("GetChatterCount() = %d, want 42", n)
	}

	if _, err := client.GetChatterCount(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty broadcaster id")
	}
}

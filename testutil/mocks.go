package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": streams,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockChattersResponse adds a handler for /helix/chat/chatters endpoint
func (m *MockTwitchServer) MockChattersResponse(total int) {
	m.Handlers["/helix/chat/chatters"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data":  []map[string]string{},
			"total": total,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockPredictionsResponse adds handlers for the /predictions endpoint: GET lists
// the given prediction, POST and PATCH echo a minimal success body.
func (m *MockTwitchServer) MockPredictionsResponse(predictionID string, outcomeIDs []string) {
	m.Handlers["/predictions"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			outcomes := make([]map[string]string, 0, len(outcomeIDs))
			for _, id := range outcomeIDs {
				outcomes = append(outcomes, map[string]string{"id": id})
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
				"data": []map[string]interface{}{
					{"id": predictionID, "status": "LOCKED", "outcomes": outcomes},
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
				"data": []map[string]interface{}{
					{"id": predictionID},
				},
			})
		}
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

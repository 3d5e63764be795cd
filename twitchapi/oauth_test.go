package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestBuildAuthorizeURL(t *testing.T) {
	raw, err := BuildAuthorizeURL("cid", "http://localhost/cb", "chat:read, channel:manage:predictions", "st8")
	if err != nil {
		t.Fatalf("BuildAuthorizeURL() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "cid" || q.Get("state") != "st8" || q.Get("response_type") != "code" {
		t.Fatalf("unexpected query: %v", q)
	}
	if got := q.Get("scope"); got != "chat:read  channel:manage:predictions" && !strings.Contains(got, "chat:read") {
		t.Fatalf("scope=%q", got)
	}

	if _, err := BuildAuthorizeURL("", "http://localhost/cb", "", ""); err == nil {
		t.Fatal("expected error for missing client id")
	}
}

func TestExchangeAuthCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Fatalf("grant_type=%q", got)
		}
		if got := r.PostForm.Get("code"); got != "the-code" {
			t.Fatalf("code=%q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at",
			"refresh_token": "rt",
			"token_type":    "bearer",
			"scope":         []string{"channel:manage:predictions"},
			"expires_in":    3600,
		})
	}))
	defer server.Close()
	orig := tokenURL
	tokenURL = server.URL
	defer func() { tokenURL = orig }()

	res, err := ExchangeAuthCode(context.Background(), "cid", "secret", "the-code", "http://localhost/cb")
	if err != nil {
		t.Fatalf("ExchangeAuthCode() error = %v", err)
	}
	if res.AccessToken != "at" || res.RefreshToken != "rt" || res.ExpiresIn != 3600 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := ExchangeAuthCode(context.Background(), "cid", "", "c", "uri"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestRefreshToken_GrantFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"invalid refresh token"}`, http.StatusBadRequest)
	}))
	defer server.Close()
	orig := tokenURL
	tokenURL = server.URL
	defer func() { tokenURL = orig }()

	_, err := RefreshToken(context.Background(), "cid", "secret", "stale")
	if err == nil || !strings.Contains(err.Error(), "token grant failed") {
		t.Fatalf("expected grant failure, got %v", err)
	}
}

package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/lxzan/gws"
)

type captureHandler struct {
	gws.BuiltinEventHandler
	messages chan string
}

func (c *captureHandler) OnMessage(conn *gws.Conn, message *gws.Message) {
	c.messages <- string(message.Data.Bytes())
	_ = message.Close()
}

func dial(t *testing.T, url string) (*gws.Conn, *captureHandler) {
	t.Helper()
	h := &captureHandler{messages: make(chan string, 8)}
	conn, _, err := gws.NewClient(h, &gws.ClientOption{
		Addr: "ws" + strings.TrimPrefix(url, "http"),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	go conn.ReadLoop()
	return conn, h
}

func recv(t *testing.T, h *captureHandler) Envelope {
	t.Helper()
	select {
	case raw := <-h.messages:
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			t.Fatalf("bad envelope %q: %v", raw, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Envelope{}
	}
}

func newHubServer(t *testing.T, hub *Hub, userID int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := hub.Attach(w, r, userID); err != nil {
			t.Errorf("attach: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendMessageReachesSubscriber(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(t, hub, 1)

	conn, h := dial(t, srv.URL)
	defer conn.WriteClose(1000, nil)

	waitFor(t, func() bool { return hub.Subscribers(1) == 1 })
	hub.SendMessage(1, "gsi_connected", true)

	env := recv(t, h)
	if env.Type != "gsi_connected" || env.Value != true {
		t.Errorf("envelope = %+v", env)
	}
}

func TestSendMessageFansOut(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(t, hub, 1)

	c1, h1 := dial(t, srv.URL)
	defer c1.WriteClose(1000, nil)
	c2, h2 := dial(t, srv.URL)
	defer c2.WriteClose(1000, nil)

	waitFor(t, func() bool { return hub.Subscribers(1) == 2 })
	hub.SendMessage(1, "betround_reset", map[string]any{})

	if recv(t, h1).Type != "betround_reset" {
		t.Error("first subscriber missed event")
	}
	if recv(t, h2).Type != "betround_reset" {
		t.Error("second subscriber missed event")
	}
}

func TestSendMessageOtherUserUnaffected(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(t, hub, 1)

	conn, h := dial(t, srv.URL)
	defer conn.WriteClose(1000, nil)

	waitFor(t, func() bool { return hub.Subscribers(1) == 1 })
	hub.SendMessage(2, "gsi_connected", true)

	select {
	case raw := <-h.messages:
		t.Errorf("unexpected message: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDetachOnClose(t *testing.T) {
	hub := NewHub()
	srv := newHubServer(t, hub, 1)

	conn, _ := dial(t, srv.URL)
	waitFor(t, func() bool { return hub.Subscribers(1) == 1 })

	conn.WriteClose(1000, nil)
	waitFor(t, func() bool { return hub.Subscribers(1) == 0 })
}

func TestIdleSubscriberOutlivesDeadline(t *testing.T) {
	oldDeadline, oldInterval := connDeadline, pingInterval
	connDeadline, pingInterval = 400*time.Millisecond, 100*time.Millisecond
	t.Cleanup(func() { connDeadline, pingInterval = oldDeadline, oldInterval })

	hub := NewHub()
	srv := newHubServer(t, hub, 1)

	conn, h := dial(t, srv.URL)
	defer conn.WriteClose(1000, nil)
	waitFor(t, func() bool { return hub.Subscribers(1) == 1 })

	time.Sleep(3 * connDeadline)
	if got := hub.Subscribers(1); got != 1 {
		t.Fatalf("subscribers after idle period = %d, want 1", got)
	}

	hub.SendMessage(1, "betround_reset", map[string]any{})
	if recv(t, h).Type != "betround_reset" {
		t.Error("idle subscriber missed event")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

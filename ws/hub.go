// Package ws pushes engine notifications (connect/disconnect, round resets,
// telemetry events) to overlay and frontend subscribers over websockets.
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lxzan/gws"
)

// Overlays are listen-only clients, so the hub pings them itself and counts
// the pong as liveness. Vars so tests can shrink the window.
var (
	connDeadline = 60 * time.Second
	pingInterval = 20 * time.Second
)

// Envelope is the wire format of one pushed event.
type Envelope struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Hub fans events out to a user's connected subscribers. A user may hold several
// connections (overlay plus dashboard); each gets every event.
type Hub struct {
	upgrader *gws.Upgrader

	mu    sync.RWMutex
	conns map[int64]map[*gws.Conn]struct{}
	users map[*gws.Conn]int64
}

func NewHub() *Hub {
	h := &Hub{
		conns: make(map[int64]map[*gws.Conn]struct{}),
		users: make(map[*gws.Conn]int64),
	}
	h.upgrader = gws.NewUpgrader(&handler{hub: h}, &gws.ServerOption{
		ParallelEnabled: true,
	})
	return h
}

// Attach upgrades the request and registers the connection under userID. The
// read loop runs on its own goroutine; the caller may immediately push replay
// events via Send.
func (h *Hub) Attach(w http.ResponseWriter, r *http.Request, userID int64) (*gws.Conn, error) {
	conn, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*gws.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
	h.users[conn] = userID
	h.mu.Unlock()

	go conn.ReadLoop()
	go h.keepalive(conn)
	return conn, nil
}

// keepalive pings the connection until it goes away. The write error after
// close ends the loop.
func (h *Hub) keepalive(conn *gws.Conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for range t.C {
		if err := conn.WritePing(nil); err != nil {
			return
		}
	}
}

func (h *Hub) detach(conn *gws.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID, ok := h.users[conn]
	if !ok {
		return
	}
	delete(h.users, conn)
	delete(h.conns[userID], conn)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// SendMessage pushes an event to every connection of a user, fire-and-forget.
func (h *Hub) SendMessage(userID int64, event string, payload any) {
	data, err := json.Marshal(Envelope{Type: event, Value: payload})
	if err != nil {
		slog.Warn("ws: marshal failed", slog.Any("err", err), slog.String("event", event))
		return
	}

	h.mu.RLock()
	conns := make([]*gws.Conn, 0, len(h.conns[userID]))
	for conn := range h.conns[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(gws.OpcodeText, data); err != nil {
			slog.Debug("ws: write failed", slog.Any("err", err), slog.Int64("user", userID))
		}
	}
}

// Send pushes an event to a single connection (subscribe-time replay).
func (h *Hub) Send(conn *gws.Conn, event string, payload any) {
	data, err := json.Marshal(Envelope{Type: event, Value: payload})
	if err != nil {
		slog.Warn("ws: marshal failed", slog.Any("err", err), slog.String("event", event))
		return
	}
	if err := conn.WriteMessage(gws.OpcodeText, data); err != nil {
		slog.Debug("ws: write failed", slog.Any("err", err))
	}
}

// Subscribers reports the connection count of a user.
func (h *Hub) Subscribers(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

type handler struct {
	hub *Hub
}

func (h *handler) OnOpen(conn *gws.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connDeadline))
}

func (h *handler) OnClose(conn *gws.Conn, err error) {
	h.hub.detach(conn)
}

func (h *handler) OnPing(conn *gws.Conn, payload []byte) {
	_ = conn.SetDeadline(time.Now().Add(connDeadline))
	_ = conn.WritePong(payload)
}

func (h *handler) OnPong(conn *gws.Conn, payload []byte) {
	_ = conn.SetDeadline(time.Now().Add(connDeadline))
}

// Subscribers only listen; inbound text keeps the connection alive.
func (h *handler) OnMessage(conn *gws.Conn, message *gws.Message) {
	_ = conn.SetDeadline(time.Now().Add(connDeadline))
	_ = message.Close()
}

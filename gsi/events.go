// Package gsi ingests the game-state telemetry feed: auth checks with a rejection
// cache, per-client liveness tracking, classification of raw payloads into typed
// events, and the orchestrator that drives betting rounds and predictions from
// those events.
package gsi

import "sync"

// Well-known telemetry values.
const (
	GameStatePreGame  = "DOTA_GAMERULES_STATE_PRE_GAME"
	ActivityPlaying   = "playing"
	ActivityObserving = "observing"
	TeamRadiant       = "radiant"
	TeamDire          = "dire"
	TeamNone          = "none"
)

// Payload is the posted telemetry body. Blocks are optional; the game client
// omits map/player outside of matches.
type Payload struct {
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
	Map *struct {
		GameState string `json:"game_state"`
		WinTeam   string `json:"win_team"`
	} `json:"map"`
	Player *struct {
		Activity string `json:"activity"`
		TeamName string `json:"team_name"`
	} `json:"player"`
}

// EventType classifies a derived telemetry event.
type EventType string

const (
	EventConnected EventType = "gsi_connected"
	EventGameState EventType = "gsi_game_state"
	EventActivity  EventType = "gsi_game_activity"
	EventWinner    EventType = "gsi_game_winner"
)

// Event is one derived telemetry event. Value is a string for state/activity
// events, a bool for connected events, and a WinnerValue for winner events.
type Event struct {
	Type  EventType `json:"type"`
	Value any       `json:"value"`
}

// WinnerValue carries the outcome of a finished match.
type WinnerValue struct {
	WinnerTeam   string `json:"winnerTeam"`
	IsPlayingWin bool   `json:"isPlayingWin"`
}

type snapshot struct {
	gameState string
	activity  string
	winTeam   string
}

// Classifier diffs each client's posted payload against the previous snapshot and
// buffers the derived events until the orchestrator (or a websocket replay) drains
// them. One instance per process, keyed by user id.
type Classifier struct {
	mu      sync.Mutex
	states  map[int64]snapshot
	buffers map[int64][]Event
}

func NewClassifier() *Classifier {
	return &Classifier{states: make(map[int64]snapshot), buffers: make(map[int64][]Event)}
}

// Ingest records the payload's delta against the previous snapshot. firstContact
// prepends a connected event so subscribers learn about the new client.
func (c *Classifier) Ingest(userID int64, p *Payload, firstContact bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.states[userID]
	next := prev
	var events []Event

	if firstContact {
		events = append(events, Event{Type: EventConnected, Value: true})
	}
	if p.Map != nil {
		if p.Map.GameState != "" && p.Map.GameState != prev.gameState {
			events = append(events, Event{Type: EventGameState, Value: p.Map.GameState})
			next.gameState = p.Map.GameState
		}
		if p.Map.WinTeam != prev.winTeam {
			if p.Map.WinTeam != "" && p.Map.WinTeam != TeamNone {
				playing := p.Player != nil && p.Player.TeamName == p.Map.WinTeam
				events = append(events, Event{Type: EventWinner, Value: WinnerValue{WinnerTeam: p.Map.WinTeam, IsPlayingWin: playing}})
			}
			next.winTeam = p.Map.WinTeam
		}
	}
	if p.Player != nil && p.Player.Activity != "" && p.Player.Activity != prev.activity {
		events = append(events, Event{Type: EventActivity, Value: p.Player.Activity})
		next.activity = p.Player.Activity
	}

	c.states[userID] = next
	if len(events) > 0 {
		c.buffers[userID] = append(c.buffers[userID], events...)
	}
}

// Drain returns and clears the buffered events for a client.
func (c *Classifier) Drain(userID int64) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.buffers[userID]
	delete(c.buffers, userID)
	return events
}

// Peek returns the buffered events without clearing them (websocket replay).
func (c *Classifier) Peek(userID int64) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.buffers[userID]...)
}

// Activity returns the client's last observed match activity.
func (c *Classifier) Activity(userID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[userID].activity
}

// Forget drops all state for a client (explicit disconnect or eviction).
func (c *Classifier) Forget(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, userID)
	delete(c.buffers, userID)
}

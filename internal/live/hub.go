// Package live pushes challenge events and leaderboard updates to
// websocket subscribers, one room per challenge.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prepbolt/apiserver/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Message types sent to subscribers.
const (
	MessageEvent       = "event"
	MessageLeaderboard = "leaderboard"
)

// Message is the envelope written to every websocket client.
type Message struct {
	Type        string `json:"type"`
	ChallengeID int    `json:"challenge_id"`
	Payload     any    `json:"payload"`
}

// LeaderboardSource renders the publicly visible leaderboard of a
// challenge. An error means nothing is pushed.
type LeaderboardSource func(ctx context.Context, challengeID int) (types.Leaderboard, error)

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	room      int
	closeOnce sync.Once
}

// Hub tracks websocket clients by challenge and fans messages out to them.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[int]map[*client]struct{}
	source   LeaderboardSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms: make(map[int]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// SetLeaderboardSource enables leaderboard pushes after results change.
func (h *Hub) SetLeaderboardSource(source LeaderboardSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = source
}

// Publish forwards a committed event to the challenge's room. It never
// fails the caller: slow clients are dropped instead.
func (h *Hub) Publish(ctx context.Context, event types.ChallengeEvent) error {
	if h.RoomSize(event.ChallengeID) == 0 {
		return nil
	}
	h.broadcast(event.ChallengeID, Message{Type: MessageEvent, ChallengeID: event.ChallengeID, Payload: event})

	switch event.Type {
	case types.EventResultSubmitted, types.EventCompleted:
		h.pushLeaderboard(ctx, event.ChallengeID)
	}
	return nil
}

// Serve upgrades the request and streams messages for challengeID until
// the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, challengeID int) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), room: challengeID}
	h.register(c)

	go c.writePump()
	h.pushLeaderboard(r.Context(), challengeID)
	c.readPump()
	return nil
}

// RoomSize returns the number of clients following challengeID.
func (h *Hub) RoomSize(challengeID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[challengeID])
}

func (h *Hub) pushLeaderboard(ctx context.Context, challengeID int) {
	h.mu.RLock()
	source := h.source
	h.mu.RUnlock()
	if source == nil {
		return
	}
	board, err := source(ctx, challengeID)
	if err != nil {
		h.logger.Debug("live leaderboard skipped", "challenge_id", challengeID, "error", err)
		return
	}
	h.broadcast(challengeID, Message{Type: MessageLeaderboard, ChallengeID: challengeID, Payload: board})
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.room]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.room] = room
	}
	room[c] = struct{}{}
	h.logger.Debug("live client registered", "challenge_id", c.room, "clients", len(room))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	room, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.room)
	}
	c.closeOnce.Do(func() { close(c.send) })
}

func (h *Hub) broadcast(challengeID int, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode live message failed", "challenge_id", challengeID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[challengeID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow live client", "challenge_id", challengeID)
			h.removeLocked(c)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("live client read failed", "challenge_id", c.room, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

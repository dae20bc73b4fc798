// Package ws streams position events to WebSocket clients. The hub relays
// the positions pub/sub channel, so every API replica sees every mutation.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Snapshotter returns the current position; the hub sends it to each client
// on connect.
type Snapshotter interface {
	Snapshot(ctx context.Context) (domain.Position, error)
}

// Hub fans position events out to connected clients.
type Hub struct {
	bus       domain.SignalBus
	positions Snapshotter
	market    string
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a Hub. positions may be nil, in which case clients get no
// initial snapshot. allowedOrigins empty accepts any origin.
func NewHub(bus domain.SignalBus, positions Snapshotter, market string, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:       bus,
		positions: positions,
		market:    market,
		clients:   make(map[*client]struct{}),
		logger:    logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Run relays the positions channel until ctx is cancelled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, domain.PositionsChannel)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "relaying position events", slog.String("channel", domain.PositionsChannel))

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				h.closeAll()
				return nil
			}
			h.broadcast(data)
		}
	}
}

// broadcast delivers data to every client interested in its event type.
// Slow clients drop messages rather than stall the relay.
func (h *Hub) broadcast(data []byte) {
	var head struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(data, &head)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(head.Event) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

func (h *Hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	return len(h.clients)
}

func (h *Hub) remove(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	if snap := h.snapshot(r.Context()); snap != nil {
		c.send <- snap
	}
	h.logger.Info("client connected", slog.Int("clients", h.add(c)))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) snapshot(ctx context.Context) []byte {
	if h.positions == nil {
		return nil
	}
	pos, err := h.positions.Snapshot(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "initial snapshot failed", slog.String("error", err.Error()))
		return nil
	}
	data, err := json.Marshal(domain.PositionEvent{
		Event:    "position_snapshot",
		Market:   h.market,
		Position: pos.View(),
		At:       time.Now().UTC(),
	})
	if err != nil {
		return nil
	}
	return data
}

// client is one WebSocket connection. An empty filter receives every
// event.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter map[string]struct{}
}

// filterMsg narrows the events a client receives:
//
//	{"events":["position_hedged","position_closed"]}
//
// An empty list restores the full stream.
type filterMsg struct {
	Events []string `json:"events"`
}

func (c *client) wants(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[event]
	return ok
}

func (c *client) setFilter(events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = make(map[string]struct{}, len(events))
	for _, e := range events {
		c.filter[e] = struct{}{}
	}
}

func (c *client) readPump() {
	defer func() {
		n := c.hub.remove(c)
		c.conn.Close()
		c.hub.logger.Info("client disconnected", slog.Int("clients", n))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if json.Unmarshal(message, &msg) == nil {
			c.setFilter(msg.Events)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"thermolog/internal/events"
)

// EventHello greets a client with the server version, the log dates on disk
// and its event filter.
const EventHello = "hello"

const (
	wsQueueSize    = 256
	wsClientQueue  = 64
	wsReadLimit    = 4096
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type helloData struct {
	Version string   `json:"version"`
	Logs    []string `json:"logs"`
	Events  []string `json:"events,omitempty"` // empty: all
}

// wsControl is the only message a client may send: it replaces the client's
// event filter. An empty list subscribes to everything.
type wsControl struct {
	Subscribe []string `json:"subscribe"`
}

// WSHub fans bus events out to WebSocket clients. Each client receives only
// the event types it subscribed to.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan events.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	types map[string]bool
}

func newWSClient(conn *websocket.Conn, types []string) *wsClient {
	c := &wsClient{conn: conn, send: make(chan []byte, wsClientQueue)}
	c.subscribe(types)
	return c
}

func (c *wsClient) subscribe(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = nil
	for _, t := range types {
		if c.types == nil {
			c.types = make(map[string]bool)
		}
		c.types[t] = true
	}
}

func (c *wsClient) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.types == nil || c.types[eventType]
}

func (c *wsClient) subscribed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.types))
	for t := range c.types {
		out = append(out, t)
	}
	return out
}

// parseEventTypes splits a comma separated ?events= value.
func parseEventTypes(raw string) []string {
	var types []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// NewWSHub creates a hub. Call Run to start it.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan events.Event, wsQueueSize),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client connected", "total", n)
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client disconnected", "total", n)
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// fanOut encodes event once and queues it for every interested client.
// A client whose queue is full is dropped.
func (h *WSHub) fanOut(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("ws marshal", "type", event.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(event.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("ws client evicted, queue full", "type", event.Type)
		}
	}
}

// Stop shuts the hub down and closes every client. Safe to call twice.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues event without blocking; it is dropped when the queue is
// full.
func (h *WSHub) Broadcast(event events.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("ws queue full, dropping event", "type", event.Type)
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWS upgrades the request. ?events=a,b limits the stream to those event
// types. Without allowed origins only same-origin requests are accepted.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins})
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := newWSClient(conn, parseEventTypes(r.URL.Query().Get("events")))
	dates, err := s.logDates()
	if err != nil {
		s.logger.Warn("ws hello: list logs", "err", err)
	}
	hello, _ := json.Marshal(events.Event{
		Type: EventHello,
		Data: helloData{Version: s.version, Logs: dates, Events: client.subscribed()},
	})
	client.send <- hello

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

// wsWritePump drains the client queue and keeps the connection alive with
// pings. It closes the connection once the hub closes the queue.
func (s *Server) wsWritePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// wsReadPump applies subscribe messages until the connection or the hub goes
// away, then unregisters the client.
func (s *Server) wsReadPump(c *wsClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		select {
		case s.wsHub.unregister <- c:
		case <-s.wsHub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var ctl wsControl
		if err := json.Unmarshal(data, &ctl); err != nil {
			s.logger.Debug("ws bad control message", "err", err)
			continue
		}
		c.subscribe(ctl.Subscribe)
	}
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	wshandler "github.com/windfall/voicecoach_service/internal/handler/ws"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxControlSize = 64 << 10
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS already restricts browser callers
	},
}

// historyClient is one /ws/history connection. An empty category receives
// every notification.
type historyClient struct {
	id       string
	category history.Category
	hub      *WebSocketHub
	conn     *websocket.Conn
	send     chan []byte
}

func (c *historyClient) wants(category history.Category) bool {
	return c.category == "" || c.category == category
}

// WebSocketHub pushes history notifications to connected clients.
type WebSocketHub struct {
	mu         sync.RWMutex
	clients    map[*historyClient]struct{}
	register   chan *historyClient
	unregister chan *historyClient
	done       chan struct{}
	handler    *wshandler.Handler
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewWebSocketHub creates a hub answering client messages with handler.
func NewWebSocketHub(handler *wshandler.Handler, m *metrics.Metrics, log zerolog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*historyClient]struct{}),
		register:   make(chan *historyClient),
		unregister: make(chan *historyClient),
		done:       make(chan struct{}),
		handler:    handler,
		metrics:    m,
		log:        log,
	}
}

// Run serves registrations and forwards events until ctx ends. A nil or
// closed events channel leaves the hub answering client messages only.
func (h *WebSocketHub) Run(ctx context.Context, events <-chan history.Event) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("WebSocket hub shutting down")
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.metrics.SetWebSocketClients(h.ClientCount())
			h.log.Info().Str("client_id", c.id).Str("category", string(c.category)).Msg("Client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			h.mu.Unlock()
			h.metrics.SetWebSocketClients(h.ClientCount())
			h.log.Info().Str("client_id", c.id).Msg("Client disconnected")

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			message, err := h.handler.Notification(ev)
			if err != nil {
				h.log.Error().Err(err).Str("tracking_id", ev.Entry.ID).Msg("Failed to encode notification")
				continue
			}
			h.notify(ev.Entry.Category, message)
		}
	}
}

// drop must be called with mu held.
func (h *WebSocketHub) drop(c *historyClient) {
	delete(h.clients, c)
	close(c.send)
}

// notify queues message for every client following category. Clients that
// cannot keep up are disconnected rather than blocking the store.
func (h *WebSocketHub) notify(category history.Category, message []byte) {
	h.mu.Lock()
	for c := range h.clients {
		if !c.wants(category) {
			continue
		}
		select {
		case c.send <- message:
		default:
			h.log.Warn().Str("client_id", c.id).Msg("Client send buffer full, disconnecting")
			h.drop(c)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWebSocketClients(n)
}

// HandleWebSocket upgrades GET /ws/history. The optional category query
// parameter narrows pushed notifications to one coaching mode.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var category history.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := history.ParseCategory(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		category = c
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c := &historyClient{
		id:       clientID(r),
		category: category,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// HandleRecord upgrades GET /ws/record and runs one recording session on the
// connection until it closes.
func HandleRecord(log zerolog.Logger, handler *wshandler.RecordHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to upgrade connection")
			return
		}
		handler.Serve(r.Context(), conn, clientID(r))
	}
}

// ClientCount returns the number of connected history clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *historyClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxControlSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.log.Warn().Err(err).Str("client_id", c.id).Msg("Dropping malformed WebSocket message")
			continue
		}

		reply, err := c.hub.handler.Handle(c.id, msg.Type, msg.Payload)
		if err != nil {
			c.hub.log.Error().Err(err).Str("type", msg.Type).Msg("Failed to handle message")
			continue
		}
		if reply != nil {
			c.reply(reply)
		}
	}
}

// reply queues a direct answer unless the hub already dropped the client.
func (c *historyClient) reply(message []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- message:
	default:
	}
}

func (c *historyClient) writePump() {
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

func clientID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return "client-" + uuid.New().String()[:8]
}

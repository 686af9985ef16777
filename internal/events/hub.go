// Package events broadcasts session lifecycle transitions to websocket
// clients, so a queue view can update live without polling.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client

	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *zap.Logger

	mu sync.RWMutex
}

// Client is one connected websocket peer.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan Event
}

// NewHub creates a websocket hub.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan Event, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run handles client registration, unregistration and broadcasting. It loops
// until the process exits.
func (h *Hub) Run() {
	h.logger.Info("Starting event hub")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			active := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("Client connected",
				zap.String("client_id", client.id),
				zap.Int("active_connections", active),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			active := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("Client disconnected",
				zap.String("client_id", client.id),
				zap.Int("active_connections", active),
			)

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					// Slow client; drop the event rather than block the hub.
					h.logger.Warn("Client send buffer full, dropping event",
						zap.String("client_id", client.id))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastEvent queues an event for delivery to all connected clients.
func (h *Hub) BroadcastEvent(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast buffer full, dropping event",
			zap.String("event_type", string(event.Type)))
	}
}

// HandleWebSocket upgrades an HTTP request into a hub client connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Event, 64),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// checkOrigin validates the request origin against the configured allowlist.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// readPump drains inbound messages. Clients never send application data;
// the read loop exists to process control frames and detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error",
					zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

// writePump delivers events and keepalive pings to the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
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

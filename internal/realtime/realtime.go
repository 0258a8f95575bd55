// Package realtime pushes view-model updates and fresh alerts to dashboard
// clients over WebSocket.
package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/defi-guard/dashboard-aggregator/internal/metrics"
	"github.com/defi-guard/dashboard-aggregator/internal/model"
)

// MessageType tags the kind of push message.
type MessageType string

const (
	MessageTypeData      MessageType = "data"
	MessageTypeAlert     MessageType = "alert"
	MessageTypeHeartbeat MessageType = "heartbeat"
)

// Message is the envelope every push shares.
type Message struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from arbitrary origins in dev; origin
		// enforcement belongs to the fronting proxy.
		return true
	},
}

// Hub maintains the set of connected clients and fans broadcasts out to them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	stop       chan struct{}
	once       sync.Once
	collector  *metrics.Collector
	logger     *slog.Logger
	mu         sync.RWMutex
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub; call Run on its own goroutine before serving clients.
func NewHub(collector *metrics.Collector, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		stop:       make(chan struct{}),
		collector:  collector,
		logger:     logger,
	}
}

// Run dispatches register/unregister/broadcast events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			if h.collector != nil {
				h.collector.ClientConnected()
			}
			h.logger.Debug("websocket client connected", "client_id", c.id)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			if h.collector != nil {
				h.collector.ClientDisconnected()
			}
			h.logger.Debug("websocket client disconnected", "client_id", c.id)

		case payload := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Slow consumer; drop it rather than block the hub.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastData pushes a full view-model snapshot to every client.
func (h *Hub) BroadcastData(payload any) {
	h.send(Message{Type: MessageTypeData, Payload: payload, Timestamp: time.Now().UTC()})
}

// BroadcastAlerts pushes newly surfaced alerts to every client.
func (h *Hub) BroadcastAlerts(alerts []model.StablecoinAlert) {
	h.send(Message{Type: MessageTypeAlert, Payload: alerts, Timestamp: time.Now().UTC()})
}

func (h *Hub) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("broadcast payload not serializable", "type", string(msg.Type), "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.stop:
	}
}

// ServeWS upgrades an HTTP request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   fmt.Sprintf("client_%d", time.Now().UnixNano()),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	// An upgrade can race hub shutdown; once Run has returned nobody drains
	// the register channel, so the stop case keeps this handler from hanging.
	select {
	case h.register <- c:
	case <-h.stop:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump drains inbound frames so pongs and close frames are processed.
// Clients are push-only; inbound payloads are ignored.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

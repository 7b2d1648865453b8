// Package websocket pushes live fulfillment updates to admin dashboards and
// to clients following a single order or package.
package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

const (
	TypeOrderStatusChanged  = "order_status_changed"
	TypeOrderRepriced       = "order_repriced"
	TypeOrderUpdated        = "order_updated"
	TypeAssignmentUpdated   = "assignment_updated"
	TypeCancellationPending = "cancellation_pending"
	TypeAssignmentCancelled = "assignment_cancelled"
)

type Message struct {
	Type      string      `json:"type"`
	RecordID  string      `json:"record_id"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

type Client struct {
	conn   *websocket.Conn
	send   chan Message
	hub    *Hub
	follow map[string]bool
}

// wants reports whether the client follows recordID. A client that follows
// nothing receives every message.
func (c *Client) wants(recordID string) bool {
	return len(c.follow) == 0 || c.follow[recordID]
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *logrus.Logger
}

// NewHub builds a hub. allowedOrigins of nil or "*" accepts any origin.
func NewHub(allowedOrigins []string, logger *logrus.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSpace(o)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(set) == 0 || set["*"] || origin == "" || set[origin]
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if !client.wants(message.RecordID) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Slow reader; drop it rather than stall the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Broadcast queues an update about recordID. It never blocks.
func (h *Hub) Broadcast(messageType, recordID string, data interface{}) {
	message := Message{
		Type:      messageType,
		RecordID:  recordID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.WithField("type", messageType).Warn("Broadcast channel full, dropping message")
	}
}

// HandleWebSocket upgrades the request. Repeated "follow" query parameters
// limit the stream to those order or assignment IDs.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		hub:    h,
		follow: make(map[string]bool),
	}
	for _, id := range r.URL.Query()["follow"] {
		if id = strings.TrimSpace(id); id != "" {
			client.follow[id] = true
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
				c.hub.logger.WithError(err).Error("WebSocket error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if err := c.writeBatch(w, message); err != nil {
				c.hub.logger.WithError(err).Debug("WebSocket write failed")
				return
			}
			if err := w.Close(); err != nil {
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

// writeBatch writes first and then coalesces anything already queued into the
// same frame, one JSON document per line. It stops at the first write error.
func (c *Client) writeBatch(w io.Writer, first Message) error {
	if err := c.write(w, first); err != nil {
		return err
	}
	n := len(c.send)
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
		if err := c.write(w, <-c.send); err != nil {
			return err
		}
	}
	return nil
}

// write drops messages that cannot be marshalled and reports writer errors.
func (c *Client) write(w io.Writer, message Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		c.hub.logger.WithError(err).Error("Failed to marshal WebSocket message")
		return nil
	}
	_, err = w.Write(data)
	return err
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

package fanout

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Envelope is the wire format of every WebSocket message.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Topic     string      `json:"topic,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// InitialState produces the current state sent to a freshly connected
// client.
type InitialState func() interface{}

// Hub owns the live WebSocket connections. A connection whose send
// fails is evicted immediately and not retried.
type Hub struct {
	logger  *logrus.Logger
	initial InitialState

	mu      sync.Mutex
	clients map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub(initial InitialState, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		logger:  logger,
		initial: initial,
		clients: make(map[string]*websocket.Conn),
	}
}

// Add registers a connection and sends it the initial_state message.
func (h *Hub) Add(conn *websocket.Conn) string {
	id := uuid.New().String()

	h.mu.Lock()
	h.clients[id] = conn
	total := len(h.clients)

	if h.initial != nil {
		envelope := Envelope{
			Type:      "initial_state",
			Data:      h.initial(),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := conn.WriteJSON(envelope); err != nil {
			h.logger.WithError(err).Warn("Failed to send initial state")
			delete(h.clients, id)
			conn.Close()
			h.mu.Unlock()
			return ""
		}
	}
	h.mu.Unlock()

	h.logger.WithField("clients", total).Info("WebSocket client connected")
	return id
}

// Remove unregisters and closes a connection.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	conn, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		conn.Close()
		h.logger.WithField("clients", total).Info("WebSocket client disconnected")
	}
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastBulk sends one bulk_update message to all clients.
func (h *Hub) BroadcastBulk(data interface{}) {
	h.broadcast(Envelope{
		Type:      "bulk_update",
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// BroadcastPubSub mirrors one broker topic publication to all clients.
func (h *Hub) BroadcastPubSub(topic string, payload interface{}) {
	h.broadcast(Envelope{
		Type:      "pubsub_update",
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Hub) broadcast(envelope Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dead []string
	for id, conn := range h.clients {
		if err := conn.WriteJSON(envelope); err != nil {
			h.logger.WithError(err).Warn("WebSocket send failed, evicting connection")
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		h.clients[id].Close()
		delete(h.clients, id)
	}
}

// Package broadcast implements the live event stream (C10): a per-process
// hub of websocket clients, fed by local Hub.Publish calls and by messages
// the NATS bridge receives from its subject. Locally published messages
// are not sent out over NATS.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"newsradar/internal/metrics"
)

// MessageType is one of the three message kinds an Event can emit.
type MessageType string

const (
	EventUpsert       MessageType = "EVENT_UPSERT"
	EventStateChanged MessageType = "EVENT_STATE_CHANGED"
	EventMerged       MessageType = "EVENT_MERGED"
)

// Message is one frame pushed to every subscribed client. Seq is a
// per-EventID monotonic counter so clients can detect gaps or reordering;
// the hub itself guarantees in-order delivery per EventID within a process.
type Message struct {
	Type      MessageType    `json:"type"`
	EventID   string         `json:"event_id"`
	Seq       uint64         `json:"seq"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Client is one connected websocket subscriber.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to every connected Client, grounded on the
// register/unregister/broadcast select-loop pattern used for realtime
// websocket fan-out.
type Hub struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	clients  map[*Client]bool
	seqByID  map[string]uint64

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewHub constructs a Hub. Call Run in its own goroutine before serving
// traffic.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		seqByID:    make(map[string]uint64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
	}
}

// Run drains the register/unregister/broadcast channels until ctx-like
// shutdown is triggered by closing the hub's channels is not needed; callers
// simply stop sending once the owning process shuts down.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal broadcast message failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
			metrics.SSEEventsSentTotal.WithLabelValues(string(msg.Type)).Inc()
		default:
			// slow consumer; drop rather than block the hub loop.
		}
	}
}

// Publish emits one message for eventID, stamping a per-event sequence
// number so C10's per-event total-ordering guarantee holds within this
// process.
func (h *Hub) Publish(eventID string, msgType MessageType, data map[string]any) {
	h.mu.Lock()
	h.seqByID[eventID]++
	seq := h.seqByID[eventID]
	h.mu.Unlock()

	h.broadcast <- Message{
		Type:      msgType,
		EventID:   eventID,
		Seq:       seq,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ServeWS upgrades an HTTP request to a websocket connection and registers
// the resulting Client with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{conn: conn, send: make(chan []byte, 32)}
	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

func (h *Hub) writePump(c *Client) {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

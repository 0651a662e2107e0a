package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/model"
)

// Client represents a WebSocket client. Send is only written through Deliver
// and only closed by the hub.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

// Deliver queues data for the writer without blocking. It reports false when
// the queue is full or the client was closed.
func (c *Client) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub fans orchestrator state changes out to the sockets of each user
type Hub struct {
	// Clients grouped by user ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	log *logger.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	UserID  string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        log.With("component", "ws_hub"),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing every
// client; later Register and Unregister calls are no-ops.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					client.close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			return

		case client := <-h.register:
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			h.log.Debug("client registered", "user_id", client.UserID)

		case client := <-h.unregister:
			if clients, ok := h.clients[client.UserID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					client.close()
					if len(clients) == 0 {
						delete(h.clients, client.UserID)
					}
				}
			}
			h.log.Debug("client unregistered", "user_id", client.UserID)

		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.UserID]; ok {
				for client := range clients {
					if !client.Deliver(msg.Message) {
						h.log.Warn("client too slow, dropping", "user_id", msg.UserID)
						client.close()
						delete(clients, client)
					}
				}
			}
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastState pushes an orchestrator state change to the user's sockets.
// It never blocks; when the queue is full the update is dropped.
func (h *Hub) BroadcastState(userID string, state model.OrchestratorState) {
	data, err := json.Marshal(model.WSStateMessage{Type: model.WSMessageTypeState, State: state})
	if err != nil {
		h.log.Error("failed to marshal state message", "error", err)
		return
	}
	h.enqueue(userID, data)
}

// BroadcastError sends an error message to the user's sockets
func (h *Hub) BroadcastError(userID string, code, message string) {
	data, err := json.Marshal(model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		Error: model.WSError{Code: code, Message: message},
	})
	if err != nil {
		h.log.Error("failed to marshal error message", "error", err)
		return
	}
	h.enqueue(userID, data)
}

func (h *Hub) enqueue(userID string, data []byte) {
	select {
	case h.broadcast <- &BroadcastMessage{UserID: userID, Message: data}:
	default:
		h.log.Warn("broadcast queue full, dropping message", "user_id", userID)
	}
}

// HandleConnection serves one socket until it closes. The current states are
// sent first so a reconnecting page catches up.
func (h *Hub) HandleConnection(c *websocket.Conn, userID string, initial []model.OrchestratorState) {
	client := &Client{
		UserID: userID,
		Conn:   c,
		Send:   make(chan []byte, 256),
	}

	for _, s := range initial {
		data, err := json.Marshal(model.WSStateMessage{Type: model.WSMessageTypeState, State: s})
		if err == nil {
			client.Deliver(data)
		}
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket error", "user_id", userID, "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			client.Deliver(pong)
		}
	}
}

package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Server push types
const (
	MsgGateUpdate     MessageType = "gate_update"
	MsgAnsweredUpdate MessageType = "answered_update"
	MsgError          MessageType = "error"
)

// Client message types
const (
	MsgVisibility MessageType = "visibility"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Connection represents one open page of a user
type Connection struct {
	UserID   string
	ClientID string
	Send     chan []byte
}

// NewConnection creates a connection with a buffered send queue
func NewConnection(userID, clientID string) *Connection {
	return &Connection{UserID: userID, ClientID: clientID, Send: make(chan []byte, 256)}
}

// BroadcastMessage is a message for every page of one user
type BroadcastMessage struct {
	UserID  string
	Message *Message
}

// Hub manages WebSocket connections per user
type Hub struct {
	// user -> open pages
	conns map[string]map[*Connection]struct{}

	mu sync.RWMutex

	// Channels for coordination
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub and starts its loop
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		conns:      make(map[string]map[*Connection]struct{}),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logger.Named("ws"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.conns[conn.UserID] == nil {
				h.conns[conn.UserID] = make(map[*Connection]struct{})
			}
			h.conns[conn.UserID][conn] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("page connected", zap.String("user_id", conn.UserID), zap.String("client", conn.ClientID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if pages, ok := h.conns[conn.UserID]; ok {
				if _, ok := pages[conn]; ok {
					delete(pages, conn)
					close(conn.Send)
					if len(pages) == 0 {
						delete(h.conns, conn.UserID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("page disconnected", zap.String("user_id", conn.UserID), zap.String("client", conn.ClientID))

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.Message)
			if err != nil {
				h.logger.Warn("encoding push failed", zap.Error(err))
				continue
			}
			h.mu.RLock()
			for conn := range h.conns[msg.UserID] {
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for _, pages := range h.conns {
				for conn := range pages {
					close(conn.Send)
				}
			}
			h.conns = make(map[string]map[*Connection]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Close stops the hub loop and closes every connection's send queue.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.stopped
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Connected reports how many pages userID has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// SendToUser pushes a message to every page of userID (implements service.Broadcaster)
func (h *Hub) SendToUser(userID string, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("encoding push payload failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	msg := &BroadcastMessage{
		UserID:  userID,
		Message: &Message{Type: MessageType(msgType), Payload: data},
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

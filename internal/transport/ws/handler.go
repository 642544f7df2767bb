package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/gate"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	refreshTimeout = 15 * time.Second
)

// Refresher re-syncs a page that became visible again. It pushes its
// results through the hub.
type Refresher interface {
	Visibility(ctx context.Context, c *storage.Client, userID string) (gate.Decision, []string)
}

// Handler handles WebSocket connections
type Handler struct {
	hub       *Hub
	refresher Refresher
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHandler creates a new WebSocket handler. allowOrigin decides which
// page origins may connect; nil allows all.
func NewHandler(hub *Hub, refresher Refresher, allowOrigin func(origin string) bool, logger *zap.Logger) *Handler {
	return &Handler{
		hub:       hub,
		refresher: refresher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
		logger: logger.Named("ws"),
	}
}

// Serve handles GET /v1/ws. Identity comes from the auth middleware.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	client := middleware.GetClient(r.Context())
	if userID == "" || client == nil {
		http.Error(w, `{"error":"no user identity","redirect":"/login"}`, http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(userID, client.ID)
	h.hub.Register(conn)

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn, client)
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection, client *storage.Client) {
	defer func() {
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read failed", zap.String("user_id", conn.UserID), zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed client message", zap.String("user_id", conn.UserID))
			continue
		}
		switch msg.Type {
		case MsgVisibility:
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			h.refresher.Visibility(ctx, client, conn.UserID)
			cancel()
		default:
			h.logger.Debug("ignoring client message", zap.String("type", string(msg.Type)))
		}
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

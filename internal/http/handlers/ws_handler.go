package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/counseling-records/backend/internal/auth"
	"github.com/counseling-records/backend/internal/config"
	"github.com/counseling-records/backend/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// messageWriter is the subset of *websocket.Conn the hub writes through.
type messageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsClient serializes writes to one connection. The underlying websocket conn
// rejects concurrent writers, and the hub broadcasts from one goroutine per
// subscribed stream, so every write must go through the client mutex.
type wsClient struct {
	mu   sync.Mutex
	conn messageWriter
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub pushes lock lifecycle and record-update events to connected UIs so
// lock banners refresh without polling.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*wsClient
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[uuid.UUID][]*wsClient),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	_ = h.subscriber.Subscribe(ctx, events.StreamLock, h.broadcast)
	_ = h.subscriber.Subscribe(ctx, events.StreamRecord, h.broadcast)
}

func (h *WSHub) broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, clients := range h.connections {
		for _, client := range clients {
			_ = client.send(data)
		}
	}
}

func (h *WSHub) register(userID uuid.UUID, client *wsClient) {
	h.mu.Lock()
	h.connections[userID] = append(h.connections[userID], client)
	h.mu.Unlock()
}

func (h *WSHub) unregister(userID uuid.UUID, client *wsClient) {
	h.mu.Lock()
	clients := h.connections[userID]
	for i, c := range clients {
		if c == client {
			h.connections[userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
	}
	h.mu.Unlock()
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	ident, err := claims.Identity()
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}
	userID := ident.UserID

	client := &wsClient{conn: conn}
	h.register(userID, client)

	defer func() {
		h.unregister(userID, client)
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

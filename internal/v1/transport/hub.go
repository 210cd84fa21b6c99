// Package transport owns the WebSocket surface: upgrading connections, the
// per-connection read/write pumps, and graceful shutdown. Everything above the
// frame level is delegated to the Router (the room coordinator).
package transport

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/auth"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/ratelimit"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// Hub tracks live connections and upgrades new ones. Coordination state lives
// in the router; the hub only knows about sockets.
type Hub struct {
	router      Router
	origins     *auth.AllowedOrigins
	rateLimiter *ratelimit.Limiter

	mu      sync.Mutex
	clients map[types.ConnIDType]*Client
}

// NewHub wires the transport layer. rateLimiter may be nil in tests.
func NewHub(router Router, origins *auth.AllowedOrigins, rateLimiter *ratelimit.Limiter) *Hub {
	return &Hub{
		router:      router,
		origins:     origins,
		rateLimiter: rateLimiter,
		clients:     make(map[types.ConnIDType]*Client),
	}
}

// ServeWS handles GET /ws: per-IP rate limit, origin check, upgrade, and pump
// startup. Identity is established later by create-room/join-room events, not
// at upgrade time.
func (h *Hub) ServeWS(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.AllowConnection(c) {
		return // response already written
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.origins.CheckOrigin,
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection registers an established connection and starts its pumps.
// Split from ServeWS so tests can inject a fake wsConn.
func (h *Hub) HandleConnection(conn wsConn) *Client {
	client := newClient(conn, types.ConnIDType(uuid.New().String()), h.router, h)

	h.mu.Lock()
	h.clients[client.connID] = client
	h.mu.Unlock()

	metrics.IncConnection()
	logging.GetLogger().Debug("client connected", zap.String("conn_id", string(client.connID)))

	go client.writePump()
	go client.readPump()
	return client
}

// ByConnID returns the live client with the given connection id, if any. The
// signaling relay uses it to route targeted events.
func (h *Hub) ByConnID(connID types.ConnIDType) (types.ClientConn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	return c, ok
}

// remove drops a client from the registry; called from its read pump teardown.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.connID)
	h.mu.Unlock()
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects every client. Pumps drain their buffers, send close
// frames, and run the usual disconnect path through the router.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	logging.Info(ctx, "shutting down transport", zap.Int("connections", len(clients)))
	for _, c := range clients {
		c.CloseWithError(events.NewError(events.KindInternal, "Server is shutting down"))
	}
	return nil
}

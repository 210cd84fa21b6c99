package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read
	// deadline kills it. Pings go out at pingPeriod, so two missed pongs in a
	// row end the connection.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames; the largest legal payload is a
	// chat message plus reply envelope, far under this.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// wsConn is the subset of *websocket.Conn the client uses; tests substitute a
// scripted implementation.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// Router is the seam between the transport and the coordinators. Route is
// called once per inbound envelope, in arrival order, from the connection's
// read pump; per-connection causality holds because nothing here is
// concurrent for a single client.
type Router interface {
	Route(ctx context.Context, client types.ClientConn, env events.Envelope)
	Disconnected(ctx context.Context, client types.ClientConn)
}

// Client is one WebSocket connection. Identity (userId, roomId, name) is bound
// by the room coordinator on create/join and survives on this struct for the
// life of the connection.
type Client struct {
	conn   wsConn
	connID types.ConnIDType
	router Router
	hub    *Hub

	mu          sync.RWMutex
	userID      types.UserIDType
	roomID      types.RoomIDType
	displayName types.DisplayNameType
	closed      bool

	closeOnce sync.Once
	send      chan []byte
	done      chan struct{}
}

func newClient(conn wsConn, connID types.ConnIDType, router Router, hub *Hub) *Client {
	return &Client{
		conn:   conn,
		connID: connID,
		router: router,
		hub:    hub,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// --- types.ClientConn ---

func (c *Client) ConnID() types.ConnIDType {
	return c.connID
}

func (c *Client) UserID() types.UserIDType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) RoomID() types.RoomIDType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) DisplayName() types.DisplayNameType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

// SetIdentity binds the connection to a user and room. Called by the room
// coordinator after create-room or join-room succeeds.
func (c *Client) SetIdentity(userID types.UserIDType, roomID types.RoomIDType, displayName types.DisplayNameType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.roomID = roomID
	c.displayName = displayName
}

// ClearIdentity unbinds the connection, returning it to the lobby state.
func (c *Client) ClearIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = ""
	c.roomID = ""
	c.displayName = ""
}

// Send marshals the event and queues it. A full buffer drops the frame rather
// than blocking a coordinator on a slow reader.
func (c *Client) Send(event string, payload any) {
	env := events.Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			logging.Error(context.Background(), "failed to marshal outbound payload",
				zap.String("event", event), zap.Error(err))
			return
		}
		env.Payload = data
	}

	frame, err := json.Marshal(env)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal envelope",
			zap.String("event", event), zap.Error(err))
		return
	}
	c.SendRaw(frame)
}

// SendRaw queues a pre-serialized frame. Fan-out paths marshal once and reuse
// the bytes for every recipient. The send channel is never closed, so a
// broadcast racing a disconnect enqueues onto a channel nobody drains instead
// of panicking; the done case keeps that race from blocking.
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	select {
	case <-c.done:
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "send buffer full, dropping frame",
			zap.String("conn_id", string(c.connID)))
	}
}

// Disconnect closes the connection. Shutdown is signalled through done rather
// than by closing the send channel; the write pump drains whatever was queued
// first, sends a close frame, and exits, and the read pump then unblocks and
// runs disconnect cleanup through the router.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// CloseWithError emits a final room-error and then disconnects.
func (c *Client) CloseWithError(err *events.Error) {
	c.Send(events.EvRoomError, events.NewErrorPayload(err))
	c.Disconnect()
}

// readPump consumes frames until the connection dies and routes each envelope
// sequentially, preserving client-visible causality.
func (c *Client) readPump() {
	defer func() {
		c.router.Disconnected(context.Background(), c)
		c.Disconnect()
		_ = c.conn.Close()
		if c.hub != nil {
			c.hub.remove(c)
		}
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.GetLogger().Debug("websocket closed unexpectedly",
					zap.String("conn_id", string(c.connID)), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.Send(events.EvRoomError, events.NewErrorPayload(events.ErrValidation("Malformed envelope")))
			continue
		}
		if env.Event == "" {
			c.Send(events.EvRoomError, events.NewErrorPayload(events.ErrValidation("Missing event name")))
			continue
		}

		c.router.Route(context.Background(), c, env)
	}
}

// writePump owns all writes to the connection: queued frames and the periodic
// ping that keeps the read deadline honest on the other side.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			// Flush frames queued before the disconnect, then say goodbye.
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			for {
				select {
				case frame := <-c.send:
					if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/auth"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/kv"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/store"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeConn implements types.ClientConn and records everything sent to it.
type fakeConn struct {
	mu           sync.Mutex
	connID       types.ConnIDType
	userID       types.UserIDType
	roomID       types.RoomIDType
	name         types.DisplayNameType
	frames       []events.Envelope
	disconnected bool
}

func newFakeConn(connID string) *fakeConn {
	return &fakeConn{connID: types.ConnIDType(connID)}
}

func (c *fakeConn) ConnID() types.ConnIDType { return c.connID }

func (c *fakeConn) UserID() types.UserIDType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *fakeConn) RoomID() types.RoomIDType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *fakeConn) DisplayName() types.DisplayNameType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *fakeConn) SetIdentity(userID types.UserIDType, roomID types.RoomIDType, name types.DisplayNameType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID, c.roomID, c.name = userID, roomID, name
}

func (c *fakeConn) ClearIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID, c.roomID, c.name = "", "", ""
}

func (c *fakeConn) Send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, events.Envelope{Event: event, Payload: data})
}

func (c *fakeConn) SendRaw(data []byte) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, env)
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeConn) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// sentEvents returns the ordered event names received so far.
func (c *fakeConn) sentEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.frames))
	for i, f := range c.frames {
		names[i] = f.Event
	}
	return names
}

func (c *fakeConn) countOf(event string) int {
	n := 0
	for _, name := range c.sentEvents() {
		if name == event {
			n++
		}
	}
	return n
}

// lastOf decodes the most recent frame with the given event name into out.
func (c *fakeConn) lastOf(t *testing.T, event string, out any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Event == event {
			require.NoError(t, json.Unmarshal(c.frames[i].Payload, out))
			return
		}
	}
	t.Fatalf("no %q frame received; got %v", event, c.frames)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// fakeResolver returns a canned decision without touching the network.
type fakeResolver struct {
	delivery types.DeliveryType
	videoTy  types.VideoType
}

func (f *fakeResolver) Resolve(ctx context.Context, rawURL string) *types.VideoMeta {
	delivery := f.delivery
	if delivery == "" {
		delivery = types.DeliveryFileDirect
	}
	videoTy := f.videoTy
	if videoTy == "" {
		videoTy = types.VideoTypeMP4
	}
	return &types.VideoMeta{
		OriginalURL:     rawURL,
		PlaybackURL:     rawURL,
		DeliveryType:    delivery,
		VideoType:       videoTy,
		RequiresProxy:   delivery == types.DeliveryFileProxy,
		DecisionReasons: []string{"test"},
		Timestamp:       time.Now(),
	}
}

func (f *fakeResolver) ProxyURL(original string) string {
	return "/api/video-proxy?url=" + original
}

// fakeLimiter rejects everything once tripped.
type fakeLimiter struct {
	mu      sync.Mutex
	blocked bool
}

func (f *fakeLimiter) AllowMessage(ctx context.Context, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.blocked
}

func (f *fakeLimiter) block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = true
}

// newTestService wires a coordinator against a miniredis-backed store.
func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	kvs, err := kv.New(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvs.Close() })

	return NewService(
		store.NewRooms(kvs),
		store.NewChat(kvs, 50),
		store.NewIdentity(kvs),
		&fakeResolver{},
		auth.NewHostTokens(testSecret),
		nil,
		Config{SignalingPeerCap: 3},
	)
}

// route pushes one event through the dispatcher the way the transport would.
// fakeConnDirectory stands in for the transport hub's connection registry.
type fakeConnDirectory struct {
	conns map[types.ConnIDType]types.ClientConn
}

func (d *fakeConnDirectory) ByConnID(connID types.ConnIDType) (types.ClientConn, bool) {
	c, ok := d.conns[connID]
	return c, ok
}

func route(t *testing.T, s *Service, c *fakeConn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	s.Route(context.Background(), c, events.Envelope{Event: event, Payload: raw})
}

// createRoom stands up a fresh room and returns the host connection plus the
// ids from room-created.
func createRoom(t *testing.T, s *Service, hostName string) (*fakeConn, types.RoomIDType, string) {
	t.Helper()
	host := newFakeConn("conn-" + hostName)
	route(t, s, host, events.EvCreateRoom, events.CreateRoomPayload{
		HostName: types.DisplayNameType(hostName),
	})

	var created events.RoomCreatedPayload
	host.lastOf(t, events.EvRoomCreated, &created)
	require.NotEmpty(t, created.RoomID)
	require.NotEmpty(t, created.HostToken)
	return host, created.RoomID, created.HostToken
}

// joinGuest brings a guest into an existing room.
func joinGuest(t *testing.T, s *Service, roomID types.RoomIDType, name string) *fakeConn {
	t.Helper()
	guest := newFakeConn("conn-" + name)
	route(t, s, guest, events.EvJoinRoom, events.JoinRoomPayload{
		RoomID:   roomID,
		UserName: types.DisplayNameType(name),
	})

	var joined events.RoomJoinedPayload
	guest.lastOf(t, events.EvRoomJoined, &joined)
	require.Equal(t, roomID, joined.RoomID)
	return guest
}

// requireError asserts the last room-error carries the given kind.
func requireError(t *testing.T, c *fakeConn, kind events.ErrorKind) {
	t.Helper()
	var ep events.ErrorPayload
	c.lastOf(t, events.EvRoomError, &ep)
	require.Equal(t, kind, ep.Kind)
}

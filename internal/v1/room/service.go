// Package room is the coordination core: authoritative membership and host
// privileges, authoritative playback state, chat fan-out, and the signaling
// relay for the voice and camera peer meshes. It sits behind the transport's
// Router seam; every inbound event lands in Route, is validated, dispatched,
// and answered with one or more outbound events.
package room

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// Resolver is the source-resolution seam; satisfied by resolver.Service.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) *types.VideoMeta
	ProxyURL(original string) string
}

// HostTokens is the credential seam; satisfied by auth.HostTokens.
type HostTokens interface {
	Mint(roomID types.RoomIDType, hostName types.DisplayNameType) (string, error)
	Verify(token string, roomID types.RoomIDType) error
}

// MessageLimiter is the chat ingress rate-limit seam; satisfied by
// ratelimit.Limiter. A nil limiter disables the check.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID string) bool
}

// ConnDirectory resolves a connection id to the live connection behind it;
// satisfied by transport.Hub. The signaling relay pairs it with the identity
// map: the map names the connection a user should be on, the directory says
// whether that connection is still alive here.
type ConnDirectory interface {
	ByConnID(connID types.ConnIDType) (types.ClientConn, bool)
}

// Config carries the coordinator knobs out of the environment.
type Config struct {
	SignalingPeerCap int
}

// handlerFunc processes one validated inbound payload for a connection.
type handlerFunc func(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error

// Service is the room coordinator. Repositories hold the shared state; the
// maps below are process-local (live connections, signaling meshes), which is
// why deployments route all events for a room to one instance.
type Service struct {
	rooms    RoomStore
	chat     ChatStore
	identity IdentityStore
	resolver Resolver
	tokens   HostTokens
	limiter  MessageLimiter
	conns    ConnDirectory
	cfg      Config

	mu        sync.Mutex
	clients   map[types.UserIDType]types.ClientConn
	members   map[types.RoomIDType]set.Set[types.UserIDType]
	signal    map[types.RoomIDType]map[types.ModalityType]set.Set[types.UserIDType]
	errReport map[types.RoomIDType]set.Set[types.UserIDType]
	lastMsgID map[types.RoomIDType]int64

	handlers map[string]handlerFunc
}

// NewService wires the coordinator and builds its dispatch table.
func NewService(rooms RoomStore, chat ChatStore, identity IdentityStore, res Resolver, tokens HostTokens, limiter MessageLimiter, cfg Config) *Service {
	if cfg.SignalingPeerCap <= 0 {
		cfg.SignalingPeerCap = 5
	}

	s := &Service{
		rooms:     rooms,
		chat:      chat,
		identity:  identity,
		resolver:  res,
		tokens:    tokens,
		limiter:   limiter,
		cfg:       cfg,
		clients:   make(map[types.UserIDType]types.ClientConn),
		members:   make(map[types.RoomIDType]set.Set[types.UserIDType]),
		signal:    make(map[types.RoomIDType]map[types.ModalityType]set.Set[types.UserIDType]),
		errReport: make(map[types.RoomIDType]set.Set[types.UserIDType]),
		lastMsgID: make(map[types.RoomIDType]int64),
	}

	s.handlers = map[string]handlerFunc{
		events.EvCreateRoom:  s.handleCreateRoom,
		events.EvJoinRoom:    s.handleJoinRoom,
		events.EvLeaveRoom:   s.handleLeaveRoom,
		events.EvKickUser:    s.handleKickUser,
		events.EvPromoteHost: s.handlePromoteHost,

		events.EvSetVideo:         s.handleSetVideo,
		events.EvPlayVideo:        s.handlePlayVideo,
		events.EvPauseVideo:       s.handlePauseVideo,
		events.EvSeekVideo:        s.handleSeekVideo,
		events.EvSyncCheck:        s.handleSyncCheck,
		events.EvVideoErrorReport: s.handleVideoErrorReport,

		events.EvSendMessage:    s.handleSendMessage,
		events.EvToggleReaction: s.handleToggleReaction,
		events.EvTypingStart:    s.handleTypingStart,
		events.EvTypingStop:     s.handleTypingStop,

		events.EvVoiceJoin:         s.signalJoin(types.ModalityVoice),
		events.EvVoiceLeave:        s.signalLeave(types.ModalityVoice),
		events.EvVoiceOffer:        s.signalOffer(types.ModalityVoice),
		events.EvVoiceAnswer:       s.signalAnswer(types.ModalityVoice),
		events.EvVoiceICECandidate: s.signalICECandidate(types.ModalityVoice),

		events.EvVideochatJoin:         s.signalJoin(types.ModalityVideo),
		events.EvVideochatLeave:        s.signalLeave(types.ModalityVideo),
		events.EvVideochatOffer:        s.signalOffer(types.ModalityVideo),
		events.EvVideochatAnswer:       s.signalAnswer(types.ModalityVideo),
		events.EvVideochatICECandidate: s.signalICECandidate(types.ModalityVideo),
	}
	return s
}

// AttachConns wires the transport's connection directory in after the hub is
// built; the hub needs the service as its router, so this closes the loop.
// Without a directory the relay falls back to the coordinator's own client
// map.
func (s *Service) AttachConns(conns ConnDirectory) {
	s.conns = conns
}

// lobbyEvents are the only events a connection may send before it is bound to
// a room.
var lobbyEvents = map[string]bool{
	events.EvCreateRoom: true,
	events.EvJoinRoom:   true,
}

// Route implements transport.Router. It decodes and validates the payload,
// enforces the per-connection state machine, runs the handler, and translates
// any coordinator error into an outbound error event for the caller only.
func (s *Service) Route(ctx context.Context, client types.ClientConn, env events.Envelope) {
	start := time.Now()
	ctx = withClientContext(ctx, client)

	payload, decErr := events.Decode(env.Event, env.Payload)
	if decErr != nil {
		metrics.WebsocketEvents.WithLabelValues(env.Event, "invalid").Inc()
		s.sendError(client, env.Event, decErr)
		return
	}

	if !lobbyEvents[env.Event] && client.RoomID() == "" {
		metrics.WebsocketEvents.WithLabelValues(env.Event, "rejected").Inc()
		s.sendError(client, env.Event, events.ErrNotAuthenticated())
		return
	}

	handler := s.handlers[env.Event]
	if err := handler(ctx, client, payload); err != nil {
		metrics.WebsocketEvents.WithLabelValues(env.Event, "error").Inc()
		if err.Kind == events.KindInternal {
			logging.Error(ctx, "event handler failed", zap.String("event", env.Event), zap.Error(err))
		} else {
			logging.GetLogger().Debug("event rejected",
				zap.String("event", env.Event), zap.String("kind", string(err.Kind)))
		}
		s.sendError(client, env.Event, err)
		return
	}

	metrics.WebsocketEvents.WithLabelValues(env.Event, "ok").Inc()
	metrics.MessageProcessingDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())
}

// Disconnected implements transport.Router; a dropped connection behaves like
// an explicit leave-room.
func (s *Service) Disconnected(ctx context.Context, client types.ClientConn) {
	roomID := client.RoomID()
	if roomID == "" {
		return
	}
	ctx = withClientContext(ctx, client)
	logging.Info(ctx, "client disconnected")

	if err := s.removeFromRoom(ctx, client, roomID); err != nil {
		logging.Error(ctx, "disconnect cleanup failed", zap.Error(err))
	}
}

// sendError delivers err to the caller only. Signaling events answer on their
// modality's error channel; everything else uses room-error.
func (s *Service) sendError(client types.ClientConn, event string, err *events.Error) {
	name := events.EvRoomError
	switch {
	case strings.HasPrefix(event, "voice-"):
		name = "voice" + events.SufError
	case strings.HasPrefix(event, "videochat-"):
		name = "videochat" + events.SufError
	}
	metrics.WebsocketEvents.WithLabelValues(name, "sent").Inc()
	client.Send(name, events.NewErrorPayload(err))
}

// --- fan-out helpers ---

// marshalFrame serializes an envelope once so fan-out reuses the bytes.
func marshalFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(events.Envelope{Event: event, Payload: data})
}

// broadcast sends to every member of the room, including the caller.
func (s *Service) broadcast(roomID types.RoomIDType, event string, payload any) {
	s.broadcastExcept(roomID, "", event, payload)
}

// broadcastExcept sends to every member except the named user. An empty
// except sends to everyone.
func (s *Service) broadcastExcept(roomID types.RoomIDType, except types.UserIDType, event string, payload any) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal broadcast",
			zap.String("event", event), zap.Error(err))
		return
	}

	s.mu.Lock()
	recipients := make([]types.ClientConn, 0)
	for userID := range s.members[roomID] {
		if userID == except {
			continue
		}
		if conn, ok := s.clients[userID]; ok {
			recipients = append(recipients, conn)
		}
	}
	s.mu.Unlock()

	for _, conn := range recipients {
		conn.SendRaw(frame)
	}
}

// sendToUser delivers a targeted event to one member's live connection.
// Returns false if the user has no connection on this instance.
func (s *Service) sendToUser(userID types.UserIDType, event string, payload any) bool {
	s.mu.Lock()
	conn, ok := s.clients[userID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	conn.Send(event, payload)
	return true
}

// --- local state bookkeeping ---

// trackMember registers a live connection for a room member.
func (s *Service) trackMember(roomID types.RoomIDType, userID types.UserIDType, conn types.ClientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[userID] = conn
	if s.members[roomID] == nil {
		s.members[roomID] = set.New[types.UserIDType]()
	}
	s.members[roomID].Insert(userID)
}

// untrackMember forgets a member's connection and mesh membership.
func (s *Service) untrackMember(roomID types.RoomIDType, userID types.UserIDType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, userID)
	if m, ok := s.members[roomID]; ok {
		m.Delete(userID)
		if m.Len() == 0 {
			delete(s.members, roomID)
		}
	}
}

// forgetRoom drops all process-local state for a closed room.
func (s *Service) forgetRoom(roomID types.RoomIDType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID := range s.members[roomID] {
		delete(s.clients, userID)
	}
	delete(s.members, roomID)
	delete(s.signal, roomID)
	delete(s.errReport, roomID)
	delete(s.lastMsgID, roomID)
}

// memberConn returns the live connection of a room member, if any.
func (s *Service) memberConn(userID types.UserIDType) (types.ClientConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.clients[userID]
	return conn, ok
}

// hasLiveConn reports whether the user currently has a connection here.
func (s *Service) hasLiveConn(userID types.UserIDType) bool {
	_, ok := s.memberConn(userID)
	return ok
}

func withClientContext(ctx context.Context, client types.ClientConn) context.Context {
	if uid := client.UserID(); uid != "" {
		ctx = context.WithValue(ctx, logging.UserIDKey, string(uid))
	}
	if rid := client.RoomID(); rid != "" {
		ctx = context.WithValue(ctx, logging.RoomIDKey, string(rid))
	}
	return ctx
}

// nowMillis is the wall clock stamped onto playback events.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

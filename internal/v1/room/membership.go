package room

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/store"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

const (
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomIDLength   = 6
	// roomIDAttempts bounds the collision retry loop; with 36^6 codes the
	// second attempt is already vanishingly rare.
	roomIDAttempts = 10
)

// newRoomID mints a random 6-character code, retrying until it is unused.
func (s *Service) newRoomID(ctx context.Context) (types.RoomIDType, *events.Error) {
	buf := make([]byte, roomIDLength)
	for attempt := 0; attempt < roomIDAttempts; attempt++ {
		if _, err := rand.Read(buf); err != nil {
			return "", events.ErrInternal(err)
		}
		for i := range buf {
			buf[i] = roomIDAlphabet[int(buf[i])%len(roomIDAlphabet)]
		}
		roomID := types.RoomIDType(buf)

		exists, err := s.rooms.Exists(ctx, roomID)
		if err != nil {
			return "", events.ErrInternal(err)
		}
		if !exists {
			return roomID, nil
		}
	}
	return "", events.ErrInternal(errors.New("room id space exhausted"))
}

func (s *Service) handleCreateRoom(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.CreateRoomPayload)
	if client.RoomID() != "" {
		return events.ErrValidation("Already in a room")
	}

	roomID, rerr := s.newRoomID(ctx)
	if rerr != nil {
		return rerr
	}

	userID := types.UserIDType(uuid.New().String())
	token, err := s.tokens.Mint(roomID, p.HostName)
	if err != nil {
		return events.ErrInternal(err)
	}

	now := time.Now()
	room := &types.Room{
		RoomID:     roomID,
		HostID:     userID,
		HostName:   p.HostName,
		HostToken:  token,
		VideoType:  types.VideoTypeNone,
		VideoState: types.NewVideoState(now),
		Users: []types.User{
			{UserID: userID, DisplayName: p.HostName, IsHost: true, JoinedAt: now},
		},
		CreatedAt: now,
	}

	if err := s.rooms.Create(ctx, room); err != nil {
		return events.ErrInternal(err)
	}
	if err := s.identity.Bind(ctx, userID, client.ConnID()); err != nil {
		return events.ErrInternal(err)
	}

	client.SetIdentity(userID, roomID, p.HostName)
	s.trackMember(roomID, userID, client)

	logging.Info(ctx, "room created",
		zap.String("room_id", string(roomID)),
		zap.String("host_token", logging.RedactToken(token)))

	client.Send(events.EvRoomCreated, events.RoomCreatedPayload{
		RoomID:    roomID,
		HostToken: token,
		Room:      room.Public(),
	})
	return nil
}

func (s *Service) handleJoinRoom(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.JoinRoomPayload)
	if client.RoomID() != "" {
		return events.ErrValidation("Already in a room")
	}

	// The name-uniqueness decision and the insert must be one atomic step:
	// two same-name joins racing through separate check-then-add round-trips
	// would both pass the check. Mutate holds the per-room lock across both.
	var (
		user       types.User
		rebindUser *types.User
	)
	updated, err := s.rooms.Mutate(ctx, p.RoomID, func(room *types.Room) error {
		// Same name as an existing member: a reconnect, or an impersonation
		// attempt if that member holds host privileges.
		if existing := room.UserByName(p.UserName); existing != nil {
			if existing.IsHost {
				if p.HostToken == "" || s.tokens.Verify(p.HostToken, p.RoomID) != nil {
					return events.ErrInvalidHostCredentials()
				}
				rebindUser = existing
				return nil
			}
			// A guest name with a live connection is simply taken; without
			// one it is the same person coming back.
			if s.hasLiveConn(existing.UserID) {
				return events.ErrNameTaken(string(p.UserName))
			}
			rebindUser = existing
			return nil
		}

		// A new name matching the creator's is a claim on the creator
		// identity.
		isHost := false
		if p.UserName == room.HostName {
			if p.HostToken == "" || s.tokens.Verify(p.HostToken, p.RoomID) != nil {
				return events.ErrInvalidHostCredentials()
			}
			isHost = true
		}

		user = types.User{
			UserID:      types.UserIDType(uuid.New().String()),
			DisplayName: p.UserName,
			IsHost:      isHost,
			JoinedAt:    time.Now(),
		}
		room.Users = append(room.Users, user)
		return nil
	})
	if err != nil {
		var evErr *events.Error
		if errors.As(err, &evErr) {
			return evErr
		}
		if errors.Is(err, store.ErrRoomNotFound) {
			return events.ErrRoomNotFound()
		}
		return events.ErrInternal(err)
	}
	if rebindUser != nil {
		return s.rebind(ctx, client, updated, *rebindUser)
	}
	if err := s.identity.Bind(ctx, user.UserID, client.ConnID()); err != nil {
		return events.ErrInternal(err)
	}

	client.SetIdentity(user.UserID, p.RoomID, p.UserName)
	s.trackMember(p.RoomID, user.UserID, client)

	logging.Info(ctx, "user joined room",
		zap.String("room_id", string(p.RoomID)),
		zap.String("user_name", string(p.UserName)),
		zap.Bool("is_host", user.IsHost))

	// user-joined goes out before room-joined so no recipient ever learns of
	// the member after the member has started acting.
	s.broadcastExcept(p.RoomID, user.UserID, events.EvUserJoined, events.UserJoinedPayload{User: user})
	client.Send(events.EvRoomJoined, events.RoomJoinedPayload{
		RoomID: p.RoomID,
		Room:   updated.Public(),
		User:   user,
	})
	s.sendChatHistory(ctx, client, p.RoomID)
	return nil
}

// sendChatHistory replays the retained messages to one member. Best effort: a
// join must not fail because the history read did.
func (s *Service) sendChatHistory(ctx context.Context, client types.ClientConn, roomID types.RoomIDType) {
	history, err := s.chat.History(ctx, roomID)
	if err != nil {
		logging.Warn(ctx, "failed to load chat history", zap.Error(err))
		return
	}
	if len(history) == 0 {
		return
	}
	client.Send(events.EvChatHistory, events.ChatHistoryPayload{Messages: history})
}

// rebind points an existing member identity at a new connection. No
// user-joined is broadcast; the rest of the room never saw the user leave.
func (s *Service) rebind(ctx context.Context, client types.ClientConn, room *types.Room, user types.User) *events.Error {
	if old, ok := s.memberConn(user.UserID); ok && old.ConnID() != client.ConnID() {
		old.ClearIdentity()
		old.Disconnect()
	}

	if err := s.identity.Bind(ctx, user.UserID, client.ConnID()); err != nil {
		return events.ErrInternal(err)
	}

	client.SetIdentity(user.UserID, room.RoomID, user.DisplayName)
	s.trackMember(room.RoomID, user.UserID, client)

	logging.Info(ctx, "user reconnected",
		zap.String("room_id", string(room.RoomID)),
		zap.String("user_name", string(user.DisplayName)))

	client.Send(events.EvRoomJoined, events.RoomJoinedPayload{
		RoomID: room.RoomID,
		Room:   room.Public(),
		User:   user,
	})
	s.sendChatHistory(ctx, client, room.RoomID)
	return nil
}

func (s *Service) handleLeaveRoom(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.LeaveRoomPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}
	return s.removeFromRoom(ctx, client, p.RoomID)
}

// removeFromRoom is the shared exit path for leave-room, disconnects, and the
// tail end of a kick. The primary host leaving closes the whole room.
func (s *Service) removeFromRoom(ctx context.Context, client types.ClientConn, roomID types.RoomIDType) *events.Error {
	userID := client.UserID()

	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			// Room already gone (closed underneath us); just drop local state.
			_ = s.identity.Unbind(ctx, userID)
			s.untrackMember(roomID, userID)
			client.ClearIdentity()
			return nil
		}
		return events.ErrInternal(err)
	}

	if room.HostID == userID {
		return s.closeRoom(ctx, client, room)
	}

	s.signalRemoveAll(roomID, userID)

	_, deleted, err := s.rooms.RemoveUser(ctx, roomID, userID)
	if err != nil {
		return events.ErrInternal(err)
	}
	_ = s.identity.Unbind(ctx, userID)

	s.untrackMember(roomID, userID)
	client.ClearIdentity()

	if deleted {
		s.forgetRoom(roomID)
		return nil
	}

	s.broadcast(roomID, events.EvUserLeft, events.UserLeftPayload{UserID: userID})
	logging.Info(ctx, "user left room", zap.String("room_id", string(roomID)))
	return nil
}

// closeRoom evicts everyone because the primary host left. Guests receive
// host-left (an error event by wire form, not a fault) and are disconnected.
func (s *Service) closeRoom(ctx context.Context, leaver types.ClientConn, room *types.Room) *events.Error {
	roomID := room.RoomID
	leaverID := leaver.UserID()

	s.broadcastExcept(roomID, leaverID, events.EvRoomError, events.NewErrorPayload(events.ErrHostLeft()))

	if err := s.rooms.Delete(ctx, roomID); err != nil {
		return events.ErrInternal(err)
	}
	for _, u := range room.Users {
		_ = s.identity.Unbind(ctx, u.UserID)
	}

	// Disconnect guests after the eviction notice; the write pump drains the
	// queued frame before the close frame goes out.
	s.mu.Lock()
	guests := make([]types.ClientConn, 0, len(room.Users))
	for userID := range s.members[roomID] {
		if userID == leaverID {
			continue
		}
		if conn, ok := s.clients[userID]; ok {
			guests = append(guests, conn)
		}
	}
	s.mu.Unlock()

	s.forgetRoom(roomID)
	leaver.ClearIdentity()

	for _, conn := range guests {
		conn.ClearIdentity()
		conn.Disconnect()
	}

	logging.Info(ctx, "room closed by host", zap.String("room_id", string(roomID)))
	return nil
}

func (s *Service) handlePromoteHost(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.PromoteHostPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}

	var promoted *types.User
	_, err := s.rooms.Mutate(ctx, p.RoomID, func(room *types.Room) error {
		if !room.IsHostUser(client.UserID()) {
			return events.ErrHostOnly()
		}
		idx := room.UserIndex(p.UserID)
		if idx < 0 {
			return events.ErrTargetNotInRoom()
		}
		room.Users[idx].IsHost = true
		promoted = &room.Users[idx]
		return nil
	})
	if err != nil {
		var evErr *events.Error
		if errors.As(err, &evErr) {
			return evErr
		}
		if errors.Is(err, store.ErrRoomNotFound) {
			return events.ErrRoomNotFound()
		}
		return events.ErrInternal(err)
	}

	logging.Info(ctx, "user promoted",
		zap.String("room_id", string(p.RoomID)),
		zap.String("promoted", string(promoted.UserID)))

	s.broadcast(p.RoomID, events.EvUserPromoted, events.UserPromotedPayload{
		UserID:   promoted.UserID,
		UserName: promoted.DisplayName,
	})
	return nil
}

func (s *Service) handleKickUser(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.KickUserPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}

	room, err := s.rooms.Get(ctx, p.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return events.ErrRoomNotFound()
		}
		return events.ErrInternal(err)
	}

	if !room.IsHostUser(client.UserID()) {
		return events.ErrHostOnly()
	}
	idx := room.UserIndex(p.UserID)
	if idx < 0 {
		return events.ErrTargetNotInRoom()
	}
	target := room.Users[idx]
	if target.IsHost {
		return events.ErrValidation("Hosts cannot kick other hosts")
	}

	s.signalRemoveAll(p.RoomID, target.UserID)

	if _, _, err := s.rooms.RemoveUser(ctx, p.RoomID, target.UserID); err != nil {
		return events.ErrInternal(err)
	}
	_ = s.identity.Unbind(ctx, target.UserID)

	// The target is still tracked, so it receives the kick notice too.
	s.broadcast(p.RoomID, events.EvUserKicked, events.UserKickedPayload{
		UserID:   target.UserID,
		UserName: target.DisplayName,
		KickedBy: client.DisplayName(),
	})
	s.broadcastExcept(p.RoomID, target.UserID, events.EvUserLeft, events.UserLeftPayload{UserID: target.UserID})

	targetConn, hasConn := s.memberConn(target.UserID)
	s.untrackMember(p.RoomID, target.UserID)
	if hasConn {
		targetConn.ClearIdentity()
		targetConn.Disconnect()
	}

	logging.Info(ctx, "user kicked",
		zap.String("room_id", string(p.RoomID)),
		zap.String("kicked", string(target.UserID)))
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/kv"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// ErrRoomNotFound is returned when the room record is missing or expired.
var ErrRoomNotFound = errors.New("store: room not found")

// Rooms is the room repository. Records live at room:<roomId> with a 24h TTL
// and roomIds are mirrored into the active-rooms set.
type Rooms struct {
	kv    *kv.Store
	locks *KeyedMutex
}

// NewRooms creates the room repository over the given store.
func NewRooms(kvs *kv.Store) *Rooms {
	return &Rooms{kv: kvs, locks: NewKeyedMutex()}
}

// Create persists a fresh room record and registers it as active.
func (r *Rooms) Create(ctx context.Context, room *types.Room) error {
	if err := r.write(ctx, room); err != nil {
		return err
	}
	if err := r.kv.SetAdd(ctx, activeRoomsKey, string(room.RoomID)); err != nil {
		return err
	}
	metrics.ActiveRooms.Inc()
	metrics.RoomsCreated.Inc()
	logging.Info(ctx, "room created",
		zap.String("room_id", string(room.RoomID)),
		zap.String("host_name", string(room.HostName)))
	return nil
}

// Get loads a room record, restoring dates from their ISO form.
func (r *Rooms) Get(ctx context.Context, roomID types.RoomIDType) (*types.Room, error) {
	raw, err := r.kv.Get(ctx, roomKey(roomID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	var room types.Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, fmt.Errorf("corrupt room record %s: %w", roomID, err)
	}
	return &room, nil
}

// Update rewrites the full record and refreshes its TTL.
func (r *Rooms) Update(ctx context.Context, room *types.Room) error {
	return r.write(ctx, room)
}

// Delete drops the record, its chat history, and the active-rooms entry.
func (r *Rooms) Delete(ctx context.Context, roomID types.RoomIDType) error {
	if err := r.kv.Delete(ctx, roomKey(roomID)); err != nil {
		return err
	}
	if err := r.kv.Delete(ctx, chatKey(roomID)); err != nil {
		return err
	}
	if err := r.kv.SetRemove(ctx, activeRoomsKey, string(roomID)); err != nil {
		return err
	}
	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(roomID))
	logging.Info(ctx, "room deleted", zap.String("room_id", string(roomID)))
	return nil
}

// Exists reports whether the room record is present.
func (r *Rooms) Exists(ctx context.Context, roomID types.RoomIDType) (bool, error) {
	return r.kv.Exists(ctx, roomKey(roomID))
}

// ActiveRooms lists the ids in the active-rooms set.
func (r *Rooms) ActiveRooms(ctx context.Context) ([]types.RoomIDType, error) {
	members, err := r.kv.SetMembers(ctx, activeRoomsKey)
	if err != nil {
		return nil, err
	}
	ids := make([]types.RoomIDType, len(members))
	for i, m := range members {
		ids[i] = types.RoomIDType(m)
	}
	return ids, nil
}

// Mutate runs fn on the current record under the room's advisory lock and
// persists the result. fn returning an error aborts without writing. The lock
// covers only the read-modify-write; callers broadcast after it is released.
func (r *Rooms) Mutate(ctx context.Context, roomID types.RoomIDType, fn func(*types.Room) error) (*types.Room, error) {
	unlock := r.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := r.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := fn(room); err != nil {
		return nil, err
	}
	if err := r.write(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// AddUser appends user to the room. Idempotent on userId: any prior entry is
// replaced, which is how a reconnect refreshes its slot without duplication.
func (r *Rooms) AddUser(ctx context.Context, roomID types.RoomIDType, user types.User) (*types.Room, error) {
	room, err := r.Mutate(ctx, roomID, func(room *types.Room) error {
		if idx := room.UserIndex(user.UserID); idx >= 0 {
			room.Users = append(room.Users[:idx], room.Users[idx+1:]...)
		}
		room.Users = append(room.Users, user)
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RoomParticipants.WithLabelValues(string(roomID)).Set(float64(len(room.Users)))
	return room, nil
}

// RemoveUser drops userID from the room. An emptied room is deleted (returns
// deleted=true). If the removed user was the primary host, the longest-present
// member is promoted and the hostId/hostName mirror follows.
func (r *Rooms) RemoveUser(ctx context.Context, roomID types.RoomIDType, userID types.UserIDType) (*types.Room, bool, error) {
	unlock := r.locks.Lock(roomKey(roomID))
	defer unlock()

	room, err := r.Get(ctx, roomID)
	if err != nil {
		return nil, false, err
	}

	idx := room.UserIndex(userID)
	if idx < 0 {
		return room, false, nil
	}
	wasPrimary := room.HostID == userID
	room.Users = append(room.Users[:idx], room.Users[idx+1:]...)

	if len(room.Users) == 0 {
		if err := r.Delete(ctx, roomID); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	if wasPrimary {
		room.Users[0].IsHost = true
		room.HostID = room.Users[0].UserID
		room.HostName = room.Users[0].DisplayName
		logging.Info(ctx, "host succession",
			zap.String("room_id", string(roomID)),
			zap.String("new_host", string(room.HostID)))
	}

	if err := r.write(ctx, room); err != nil {
		return nil, false, err
	}
	metrics.RoomParticipants.WithLabelValues(string(roomID)).Set(float64(len(room.Users)))
	return room, false, nil
}

// SetVideo stores the new source and resets playback to a paused zero state.
func (r *Rooms) SetVideo(ctx context.Context, roomID types.RoomIDType, url string, videoType types.VideoType, meta *types.VideoMeta) (*types.Room, error) {
	return r.Mutate(ctx, roomID, func(room *types.Room) error {
		room.VideoURL = url
		room.VideoType = videoType
		room.VideoMeta = meta
		room.VideoState = types.NewVideoState(time.Now())
		return nil
	})
}

// UpdateVideoState replaces the authoritative playback state.
func (r *Rooms) UpdateVideoState(ctx context.Context, roomID types.RoomIDType, state types.VideoState) (*types.Room, error) {
	return r.Mutate(ctx, roomID, func(room *types.Room) error {
		room.VideoState = state
		return nil
	})
}

func (r *Rooms) write(ctx context.Context, room *types.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", room.RoomID, err)
	}
	return r.kv.Set(ctx, roomKey(room.RoomID), string(data), roomTTL)
}

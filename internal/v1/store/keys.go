// Package store holds the repositories that sit between the coordinators and
// the shared key-value store: room records, bounded chat history, and the
// userId to connection mapping. Multiple server instances share this state;
// every mutation runs under a per-room advisory lock and sticky routing keeps
// all writers for a room on one instance.
package store

import (
	"time"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

const (
	roomTTL     = 24 * time.Hour
	chatTTL     = 24 * time.Hour
	identityTTL = 2 * time.Hour

	activeRoomsKey = "active-rooms"

	roomKeyPrefix     = "room:"
	chatKeyPrefix     = "chat:"
	identityKeyPrefix = "user_socket:"
)

func roomKey(roomID types.RoomIDType) string {
	return roomKeyPrefix + string(roomID)
}

func chatKey(roomID types.RoomIDType) string {
	return chatKeyPrefix + string(roomID)
}

func identityKey(userID types.UserIDType) string {
	return identityKeyPrefix + string(userID)
}

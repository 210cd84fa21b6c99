package room

import (
	"context"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// The coordinator depends on the repositories through these interfaces so
// tests can supply doubles; production wiring passes the store package's
// Redis-backed implementations.

// RoomStore is the room repository seam (store.Rooms).
type RoomStore interface {
	Create(ctx context.Context, room *types.Room) error
	Get(ctx context.Context, roomID types.RoomIDType) (*types.Room, error)
	Delete(ctx context.Context, roomID types.RoomIDType) error
	Exists(ctx context.Context, roomID types.RoomIDType) (bool, error)
	AddUser(ctx context.Context, roomID types.RoomIDType, user types.User) (*types.Room, error)
	RemoveUser(ctx context.Context, roomID types.RoomIDType, userID types.UserIDType) (*types.Room, bool, error)
	SetVideo(ctx context.Context, roomID types.RoomIDType, url string, videoType types.VideoType, meta *types.VideoMeta) (*types.Room, error)
	UpdateVideoState(ctx context.Context, roomID types.RoomIDType, state types.VideoState) (*types.Room, error)
	Mutate(ctx context.Context, roomID types.RoomIDType, fn func(*types.Room) error) (*types.Room, error)
}

// ChatStore is the chat repository seam (store.Chat).
type ChatStore interface {
	Append(ctx context.Context, roomID types.RoomIDType, msg *types.ChatMessage) error
	History(ctx context.Context, roomID types.RoomIDType) ([]types.ChatMessage, error)
	UpdateReactions(ctx context.Context, roomID types.RoomIDType, messageID string, fn func(*types.ChatMessage)) (*types.ChatMessage, error)
}

// IdentityStore is the identity map seam (store.Identity).
type IdentityStore interface {
	Bind(ctx context.Context, userID types.UserIDType, connID types.ConnIDType) error
	Lookup(ctx context.Context, userID types.UserIDType) (types.ConnIDType, error)
	Unbind(ctx context.Context, userID types.UserIDType) error
}

package events

import (
	"encoding/json"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// Outbound payload shapes. Field names are the wire contract; changing a tag
// is a breaking release.

// RoomCreatedPayload goes to the creator only. It is the single place the host
// token is ever serialized.
type RoomCreatedPayload struct {
	RoomID    types.RoomIDType `json:"roomId"`
	HostToken string           `json:"hostToken"`
	Room      types.RoomInfo   `json:"room"`
}

// RoomJoinedPayload goes to the joining (or reconnecting) caller only.
type RoomJoinedPayload struct {
	RoomID types.RoomIDType `json:"roomId"`
	Room   types.RoomInfo   `json:"room"`
	User   types.User       `json:"user"`
}

// ErrorPayload is the body of room-error and of the modality *-error events.
type ErrorPayload struct {
	Kind  ErrorKind `json:"kind"`
	Error string    `json:"error"`
}

// NewErrorPayload converts a coordinator error to its wire form.
func NewErrorPayload(err *Error) ErrorPayload {
	return ErrorPayload{Kind: err.Kind, Error: err.Message}
}

type UserJoinedPayload struct {
	User types.User `json:"user"`
}

type UserLeftPayload struct {
	UserID types.UserIDType `json:"userId"`
}

type UserPromotedPayload struct {
	UserID   types.UserIDType      `json:"userId"`
	UserName types.DisplayNameType `json:"userName"`
}

type UserKickedPayload struct {
	UserID   types.UserIDType      `json:"userId"`
	UserName types.DisplayNameType `json:"userName"`
	KickedBy types.DisplayNameType `json:"kickedBy,omitempty"`
}

type VideoSetPayload struct {
	VideoURL  string           `json:"videoUrl"`
	VideoType types.VideoType  `json:"videoType"`
	VideoMeta *types.VideoMeta `json:"videoMeta,omitempty"`
}

// PlaybackEventPayload is the body of video-played, video-paused, and
// video-seeked. Timestamp is the host's wall clock in milliseconds so guests
// can compensate for transit latency.
type PlaybackEventPayload struct {
	CurrentTime float64 `json:"currentTime"`
	Timestamp   int64   `json:"timestamp"`
}

type SyncUpdatePayload struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	Timestamp   int64   `json:"timestamp"`
}

// ChatHistoryPayload replays the retained messages, oldest first, to a
// joining or reconnecting member.
type ChatHistoryPayload struct {
	Messages []types.ChatMessage `json:"messages"`
}

type NewMessagePayload struct {
	Message types.ChatMessage `json:"message"`
}

// ReactionAction distinguishes a toggle that added from one that removed.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

type ReactionUpdatedPayload struct {
	MessageID string                        `json:"messageId"`
	Emoji     string                        `json:"emoji"`
	UserID    types.UserIDType              `json:"userId"`
	Reactions map[string][]types.UserIDType `json:"reactions"`
	Action    ReactionAction                `json:"action"`
}

type UserTypingPayload struct {
	UserID   types.UserIDType      `json:"userId"`
	UserName types.DisplayNameType `json:"userName"`
}

type UserStoppedTypingPayload struct {
	UserID types.UserIDType `json:"userId"`
}

// --- Signaling ---

type ExistingPeersPayload struct {
	UserIDs []types.UserIDType `json:"userIds"`
}

type PeerJoinedPayload struct {
	UserID types.UserIDType `json:"userId"`
}

type PeerLeftPayload struct {
	UserID types.UserIDType `json:"userId"`
}

type ParticipantCountPayload struct {
	RoomID types.RoomIDType `json:"roomId"`
	Count  int              `json:"count"`
}

type SDPReceivedPayload struct {
	FromUserID types.UserIDType `json:"fromUserId"`
	SDP        json.RawMessage  `json:"sdp"`
}

type ICECandidateReceivedPayload struct {
	FromUserID types.UserIDType `json:"fromUserId"`
	Candidate  json.RawMessage  `json:"candidate"`
}

package types

import (
	"time"
)

// --- Core Domain Types ---

// UserIDType represents a stable user identity inside a room. It survives
// reconnects; the live connection behind it is tracked separately.
type UserIDType string

// RoomIDType represents a six character room code.
type RoomIDType string

// ConnIDType represents a single WebSocket connection.
type ConnIDType string

// DisplayNameType represents the human-readable name for a user.
type DisplayNameType string

// ModalityType distinguishes the independent peer meshes.
type ModalityType string

const (
	ModalityVoice ModalityType = "voice"
	ModalityVideo ModalityType = "video"
)

// VideoType classifies the media source on the room record.
type VideoType string

const (
	VideoTypeYouTube VideoType = "youtube"
	VideoTypeMP4     VideoType = "mp4"
	VideoTypeM3U8    VideoType = "m3u8"
	VideoTypeNone    VideoType = "none"
)

// DeliveryType is the resolver's routing decision for a source URL.
type DeliveryType string

const (
	DeliveryYouTube    DeliveryType = "youtube"
	DeliveryFileDirect DeliveryType = "file-direct"
	DeliveryFileProxy  DeliveryType = "file-proxy"
	DeliveryHLS        DeliveryType = "hls"
)

// --- Records ---

// User is a room member. JoinedAt doubles as the succession order tiebreaker
// because Users is kept in insertion order.
type User struct {
	UserID      UserIDType      `json:"userId"`
	DisplayName DisplayNameType `json:"displayName"`
	IsHost      bool            `json:"isHost"`
	JoinedAt    time.Time       `json:"joinedAt"`
}

// VideoState is the authoritative playback position. LastUpdateTime is
// wall-clock milliseconds so clients can extrapolate with their own clocks.
type VideoState struct {
	IsPlaying      bool    `json:"isPlaying"`
	CurrentTime    float64 `json:"currentTime"`
	Duration       float64 `json:"duration"`
	LastUpdateTime int64   `json:"lastUpdateTime"`
}

// NewVideoState returns the reset state used whenever the video URL changes.
func NewVideoState(now time.Time) VideoState {
	return VideoState{
		IsPlaying:      false,
		CurrentTime:    0,
		Duration:       0,
		LastUpdateTime: now.UnixMilli(),
	}
}

// PresentationTime extrapolates the position at now: currentTime plus elapsed
// wall clock while playing, currentTime alone while paused.
func (v VideoState) PresentationTime(now time.Time) float64 {
	if !v.IsPlaying {
		return v.CurrentTime
	}
	elapsed := float64(now.UnixMilli()-v.LastUpdateTime) / 1000.0
	if elapsed < 0 {
		elapsed = 0
	}
	return v.CurrentTime + elapsed
}

// ProbeResult captures what the resolver's HTTP probe observed.
type ProbeResult struct {
	Status       int    `json:"status"`
	ContentType  string `json:"contentType,omitempty"`
	AcceptRanges string `json:"acceptRanges,omitempty"`
}

// VideoMeta is the immutable resolver output attached to a room when a video
// is set.
type VideoMeta struct {
	OriginalURL     string       `json:"originalUrl"`
	PlaybackURL     string       `json:"playbackUrl"`
	DeliveryType    DeliveryType `json:"deliveryType"`
	VideoType       VideoType    `json:"videoType"`
	ContainerHint   string       `json:"containerHint,omitempty"`
	CodecWarning    string       `json:"codecWarning,omitempty"`
	RequiresProxy   bool         `json:"requiresProxy"`
	DecisionReasons []string     `json:"decisionReasons"`
	Probe           ProbeResult  `json:"probe"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Room is the persisted room record. HostToken never leaves the server except
// inside room-created to the creator, so the public view strips it.
type Room struct {
	RoomID     RoomIDType      `json:"roomId"`
	HostID     UserIDType      `json:"hostId"`
	HostName   DisplayNameType `json:"hostName"`
	HostToken  string          `json:"hostToken"`
	VideoURL   string          `json:"videoUrl,omitempty"`
	VideoType  VideoType       `json:"videoType"`
	VideoMeta  *VideoMeta      `json:"videoMeta,omitempty"`
	VideoState VideoState      `json:"videoState"`
	Users      []User          `json:"users"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// RoomInfo is the wire-safe view of a Room.
type RoomInfo struct {
	RoomID     RoomIDType      `json:"roomId"`
	HostID     UserIDType      `json:"hostId"`
	HostName   DisplayNameType `json:"hostName"`
	VideoURL   string          `json:"videoUrl,omitempty"`
	VideoType  VideoType       `json:"videoType"`
	VideoMeta  *VideoMeta      `json:"videoMeta,omitempty"`
	VideoState VideoState      `json:"videoState"`
	Users      []User          `json:"users"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Public strips the host token for broadcast.
func (r *Room) Public() RoomInfo {
	return RoomInfo{
		RoomID:     r.RoomID,
		HostID:     r.HostID,
		HostName:   r.HostName,
		VideoURL:   r.VideoURL,
		VideoType:  r.VideoType,
		VideoMeta:  r.VideoMeta,
		VideoState: r.VideoState,
		Users:      r.Users,
		CreatedAt:  r.CreatedAt,
	}
}

// UserIndex returns the position of userID in Users, or -1.
func (r *Room) UserIndex(userID UserIDType) int {
	for i := range r.Users {
		if r.Users[i].UserID == userID {
			return i
		}
	}
	return -1
}

// UserByName returns the member with the given display name, or nil.
func (r *Room) UserByName(name DisplayNameType) *User {
	for i := range r.Users {
		if r.Users[i].DisplayName == name {
			return &r.Users[i]
		}
	}
	return nil
}

// IsHostUser reports whether userID is a member with host privileges.
func (r *Room) IsHostUser(userID UserIDType) bool {
	for i := range r.Users {
		if r.Users[i].UserID == userID {
			return r.Users[i].IsHost
		}
	}
	return false
}

// ReplyRef is the trimmed envelope of the message being replied to.
type ReplyRef struct {
	MessageID string          `json:"messageId"`
	UserID    UserIDType      `json:"userId"`
	UserName  DisplayNameType `json:"userName"`
	Message   string          `json:"message"`
}

// ChatMessage is one entry of the bounded per-room history. Reactions maps an
// emoji to the set of users who toggled it on (stored as a list, deduplicated
// by the chat coordinator).
type ChatMessage struct {
	ID        string                  `json:"id"`
	UserID    UserIDType              `json:"userId"`
	UserName  DisplayNameType         `json:"userName"`
	Message   string                  `json:"message"`
	Timestamp time.Time               `json:"timestamp"`
	RoomID    RoomIDType              `json:"roomId"`
	Reactions map[string][]UserIDType `json:"reactions"`
	ReplyTo   *ReplyRef               `json:"replyTo,omitempty"`
}

// HasReaction reports whether userID already toggled emoji on this message.
func (m *ChatMessage) HasReaction(emoji string, userID UserIDType) bool {
	for _, id := range m.Reactions[emoji] {
		if id == userID {
			return true
		}
	}
	return false
}

// TypingUser is ephemeral typing state; it is fanned out and never persisted.
type TypingUser struct {
	UserID    UserIDType      `json:"userId"`
	UserName  DisplayNameType `json:"userName"`
	Timestamp time.Time       `json:"timestamp"`
}

// --- Shared Interfaces ---

// ClientConn is the behavior the coordinators need from a WebSocket client.
// It keeps the room package free of any dependency on the transport package.
type ClientConn interface {
	ConnID() ConnIDType
	UserID() UserIDType
	RoomID() RoomIDType
	DisplayName() DisplayNameType
	SetIdentity(userID UserIDType, roomID RoomIDType, displayName DisplayNameType)
	ClearIdentity()
	Send(event string, payload any)
	SendRaw(data []byte)
	Disconnect() // Forcefully close the connection (e.g., when kicked)
}

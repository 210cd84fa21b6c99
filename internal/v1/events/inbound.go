package events

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// Field-level constraints from the wire contract. The patterns are anchored;
// anything outside them is rejected before a coordinator sees the payload.
var (
	roomIDPattern   = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	userNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 \-_.!?]{2,20}$`)
)

const (
	maxMessageLen = 1000
	maxReplyLen   = 150
	maxEmojiLen   = 16
)

// Inbound is a decoded, validated client payload ready for dispatch.
type Inbound interface {
	Validate() *Error
}

func validateRoomID(roomID types.RoomIDType) *Error {
	if !roomIDPattern.MatchString(string(roomID)) {
		return ErrValidation("Room ID must be 6 uppercase letters or digits")
	}
	return nil
}

func validateUserName(name types.DisplayNameType) *Error {
	if !userNamePattern.MatchString(string(name)) {
		return ErrValidation("Name must be 2-20 characters (letters, digits, spaces, -_.!?)")
	}
	return nil
}

// --- Lobby ---

type CreateRoomPayload struct {
	HostName types.DisplayNameType `json:"hostName"`
}

func (p *CreateRoomPayload) Validate() *Error {
	return validateUserName(p.HostName)
}

type JoinRoomPayload struct {
	RoomID    types.RoomIDType      `json:"roomId"`
	UserName  types.DisplayNameType `json:"userName"`
	HostToken string                `json:"hostToken,omitempty"`
}

func (p *JoinRoomPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	return validateUserName(p.UserName)
}

type LeaveRoomPayload struct {
	RoomID types.RoomIDType `json:"roomId"`
}

func (p *LeaveRoomPayload) Validate() *Error {
	return validateRoomID(p.RoomID)
}

type KickUserPayload struct {
	RoomID types.RoomIDType `json:"roomId"`
	UserID types.UserIDType `json:"userId"`
}

func (p *KickUserPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	if p.UserID == "" {
		return ErrValidation("userId is required")
	}
	return nil
}

type PromoteHostPayload struct {
	RoomID types.RoomIDType `json:"roomId"`
	UserID types.UserIDType `json:"userId"`
}

func (p *PromoteHostPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	if p.UserID == "" {
		return ErrValidation("userId is required")
	}
	return nil
}

// --- Video ---

type SetVideoPayload struct {
	RoomID   types.RoomIDType `json:"roomId"`
	VideoURL string           `json:"videoUrl"`
}

func (p *SetVideoPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	u, err := url.Parse(p.VideoURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ErrValidation("videoUrl must be an absolute URL")
	}
	return nil
}

// PlaybackPayload covers play-video, pause-video, and seek-video; the three
// share one shape and differ only in the event name.
type PlaybackPayload struct {
	RoomID      types.RoomIDType `json:"roomId"`
	CurrentTime float64          `json:"currentTime"`
}

func (p *PlaybackPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	if p.CurrentTime < 0 {
		return ErrValidation("currentTime must not be negative")
	}
	return nil
}

type SyncCheckPayload struct {
	RoomID      types.RoomIDType `json:"roomId"`
	CurrentTime float64          `json:"currentTime"`
	IsPlaying   bool             `json:"isPlaying"`
	Timestamp   int64            `json:"timestamp"`
}

func (p *SyncCheckPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	if p.CurrentTime < 0 {
		return ErrValidation("currentTime must not be negative")
	}
	return nil
}

type VideoErrorReportPayload struct {
	RoomID      types.RoomIDType `json:"roomId"`
	Code        int              `json:"code,omitempty"`
	Message     string           `json:"message,omitempty"`
	CurrentSrc  string           `json:"currentSrc"`
	CurrentTime float64          `json:"currentTime,omitempty"`
}

func (p *VideoErrorReportPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	if p.CurrentSrc == "" {
		return ErrValidation("currentSrc is required")
	}
	return nil
}

// --- Chat ---

type ReplyToPayload struct {
	MessageID string                `json:"messageId"`
	UserID    types.UserIDType      `json:"userId"`
	UserName  types.DisplayNameType `json:"userName"`
	Message   string                `json:"message"`
}

type SendMessagePayload struct {
	RoomID  types.RoomIDType `json:"roomId"`
	Message string           `json:"message"`
	ReplyTo *ReplyToPayload  `json:"replyTo,omitempty"`
}

func (p *SendMessagePayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(p.Message)
	if trimmed == "" {
		return ErrValidation("Message must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxMessageLen {
		return ErrValidation(fmt.Sprintf("Message must be at most %d characters", maxMessageLen))
	}
	if p.ReplyTo != nil && p.ReplyTo.MessageID == "" {
		return ErrValidation("replyTo.messageId is required")
	}
	return nil
}

// Trimmed returns the message with surrounding whitespace removed.
func (p *SendMessagePayload) Trimmed() string {
	return strings.TrimSpace(p.Message)
}

type ToggleReactionPayload struct {
	RoomID    types.RoomIDType `json:"roomId"`
	MessageID string           `json:"messageId"`
	Emoji     string           `json:"emoji"`
}

func (p *ToggleReactionPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	if p.MessageID == "" {
		return ErrValidation("messageId is required")
	}
	if p.Emoji == "" || utf8.RuneCountInString(p.Emoji) > maxEmojiLen {
		return ErrValidation("emoji must be 1-16 characters")
	}
	return nil
}

// TypingPayload covers typing-start and typing-stop.
type TypingPayload struct {
	RoomID types.RoomIDType `json:"roomId"`
}

func (p *TypingPayload) Validate() *Error {
	return validateRoomID(p.RoomID)
}

// --- Signaling ---

// SignalJoinPayload covers voice-join, voice-leave, videochat-join, and
// videochat-leave; the modality comes from the event name.
type SignalJoinPayload struct {
	RoomID types.RoomIDType `json:"roomId"`
}

func (p *SignalJoinPayload) Validate() *Error {
	return validateRoomID(p.RoomID)
}

// SDPPayload carries an offer or answer to one target peer. The SDP body is
// relayed opaquely; the server never parses it.
type SDPPayload struct {
	RoomID       types.RoomIDType `json:"roomId"`
	TargetUserID types.UserIDType `json:"targetUserId"`
	SDP          json.RawMessage  `json:"sdp"`
}

func (p *SDPPayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	if p.TargetUserID == "" {
		return ErrValidation("targetUserId is required")
	}
	if len(p.SDP) == 0 {
		return ErrValidation("sdp is required")
	}
	return nil
}

// ICECandidatePayload carries one ICE candidate to one target peer.
type ICECandidatePayload struct {
	RoomID       types.RoomIDType `json:"roomId"`
	TargetUserID types.UserIDType `json:"targetUserId"`
	Candidate    json.RawMessage  `json:"candidate"`
}

func (p *ICECandidatePayload) Validate() *Error {
	if err := validateRoomID(p.RoomID); err != nil {
		return err
	}
	if p.TargetUserID == "" {
		return ErrValidation("targetUserId is required")
	}
	if len(p.Candidate) == 0 {
		return ErrValidation("candidate is required")
	}
	return nil
}

// decoders maps each inbound event name to its payload constructor. Decode is
// the single entry point the dispatcher calls; an unknown name or a payload
// that fails validation never reaches a handler.
var decoders = map[string]func() Inbound{
	EvCreateRoom:  func() Inbound { return &CreateRoomPayload{} },
	EvJoinRoom:    func() Inbound { return &JoinRoomPayload{} },
	EvLeaveRoom:   func() Inbound { return &LeaveRoomPayload{} },
	EvKickUser:    func() Inbound { return &KickUserPayload{} },
	EvPromoteHost: func() Inbound { return &PromoteHostPayload{} },

	EvSetVideo:         func() Inbound { return &SetVideoPayload{} },
	EvPlayVideo:        func() Inbound { return &PlaybackPayload{} },
	EvPauseVideo:       func() Inbound { return &PlaybackPayload{} },
	EvSeekVideo:        func() Inbound { return &PlaybackPayload{} },
	EvSyncCheck:        func() Inbound { return &SyncCheckPayload{} },
	EvVideoErrorReport: func() Inbound { return &VideoErrorReportPayload{} },

	EvSendMessage:    func() Inbound { return &SendMessagePayload{} },
	EvToggleReaction: func() Inbound { return &ToggleReactionPayload{} },
	EvTypingStart:    func() Inbound { return &TypingPayload{} },
	EvTypingStop:     func() Inbound { return &TypingPayload{} },

	EvVoiceJoin:         func() Inbound { return &SignalJoinPayload{} },
	EvVoiceLeave:        func() Inbound { return &SignalJoinPayload{} },
	EvVoiceOffer:        func() Inbound { return &SDPPayload{} },
	EvVoiceAnswer:       func() Inbound { return &SDPPayload{} },
	EvVoiceICECandidate: func() Inbound { return &ICECandidatePayload{} },

	EvVideochatJoin:         func() Inbound { return &SignalJoinPayload{} },
	EvVideochatLeave:        func() Inbound { return &SignalJoinPayload{} },
	EvVideochatOffer:        func() Inbound { return &SDPPayload{} },
	EvVideochatAnswer:       func() Inbound { return &SDPPayload{} },
	EvVideochatICECandidate: func() Inbound { return &ICECandidatePayload{} },
}

// Known reports whether name is a recognized inbound event.
func Known(name string) bool {
	_, ok := decoders[name]
	return ok
}

// Decode unmarshals and validates the payload for the named event.
func Decode(name string, raw json.RawMessage) (Inbound, *Error) {
	ctor, ok := decoders[name]
	if !ok {
		return nil, ErrValidation("Unknown event")
	}
	payload := ctor()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, ErrValidation("Malformed payload")
		}
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

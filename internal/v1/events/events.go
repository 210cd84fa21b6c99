// Package events is the wire contract of the coordination core: the envelope
// format, the catalog of event names, the typed payloads behind each name, and
// the validation rules applied before anything reaches a coordinator. It also
// owns the closed set of error kinds so every failure leaves the dispatcher in
// exactly one shape.
package events

import "encoding/json"

// Envelope is the frame every WebSocket message travels in.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event names (client -> server).
const (
	// Lobby
	EvCreateRoom  = "create-room"
	EvJoinRoom    = "join-room"
	EvLeaveRoom   = "leave-room"
	EvKickUser    = "kick-user"
	EvPromoteHost = "promote-host"

	// Video
	EvSetVideo         = "set-video"
	EvPlayVideo        = "play-video"
	EvPauseVideo       = "pause-video"
	EvSeekVideo        = "seek-video"
	EvSyncCheck        = "sync-check"
	EvVideoErrorReport = "video-error-report"

	// Chat
	EvSendMessage    = "send-message"
	EvToggleReaction = "toggle-reaction"
	EvTypingStart    = "typing-start"
	EvTypingStop     = "typing-stop"

	// Voice mesh
	EvVoiceJoin         = "voice-join"
	EvVoiceLeave        = "voice-leave"
	EvVoiceOffer        = "voice-offer"
	EvVoiceAnswer       = "voice-answer"
	EvVoiceICECandidate = "voice-ice-candidate"

	// Camera mesh
	EvVideochatJoin         = "videochat-join"
	EvVideochatLeave        = "videochat-leave"
	EvVideochatOffer        = "videochat-offer"
	EvVideochatAnswer       = "videochat-answer"
	EvVideochatICECandidate = "videochat-ice-candidate"
)

// Outbound event names (server -> client).
const (
	// Lobby
	EvRoomCreated  = "room-created"
	EvRoomJoined   = "room-joined"
	EvRoomError    = "room-error"
	EvUserJoined   = "user-joined"
	EvUserLeft     = "user-left"
	EvUserPromoted = "user-promoted"
	EvUserKicked   = "user-kicked"

	// Video
	EvVideoSet    = "video-set"
	EvVideoPlayed = "video-played"
	EvVideoPaused = "video-paused"
	EvVideoSeeked = "video-seeked"
	EvSyncUpdate  = "sync-update"

	// Chat
	EvChatHistory       = "chat-history"
	EvNewMessage        = "new-message"
	EvReactionUpdated   = "reaction-updated"
	EvUserTyping        = "user-typing"
	EvUserStoppedTyping = "user-stopped-typing"
)

// Signaling outbound suffixes; the relay prefixes them with the modality
// ("voice" or "videochat").
const (
	SufExistingPeers        = "-existing-peers"
	SufPeerJoined           = "-peer-joined"
	SufOfferReceived        = "-offer-received"
	SufAnswerReceived       = "-answer-received"
	SufICECandidateReceived = "-ice-candidate-received"
	SufPeerLeft             = "-peer-left"
	SufParticipantCount     = "-participant-count"
	SufError                = "-error"
)

package room

import (
	"context"
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/store"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// replyPreviewLimit caps the quoted text carried inside a reply envelope.
const replyPreviewLimit = 150

// nextMessageID returns a per-room monotone id. The nanosecond clock is the
// base; the guard bumps past it if two messages land in the same tick.
func (s *Service) nextMessageID(roomID types.RoomIDType) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := time.Now().UnixNano()
	if last := s.lastMsgID[roomID]; id <= last {
		id = last + 1
	}
	s.lastMsgID[roomID] = id
	return strconv.FormatInt(id, 10)
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func (s *Service) handleSendMessage(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.SendMessagePayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}

	if s.limiter != nil && !s.limiter.AllowMessage(ctx, string(client.UserID())) {
		return events.ErrValidation("You are sending messages too quickly")
	}

	msg := &types.ChatMessage{
		ID:        s.nextMessageID(p.RoomID),
		UserID:    client.UserID(),
		UserName:  client.DisplayName(),
		Message:   p.Trimmed(),
		Timestamp: time.Now(),
		RoomID:    p.RoomID,
		Reactions: make(map[string][]types.UserIDType),
	}
	if p.ReplyTo != nil {
		msg.ReplyTo = &types.ReplyRef{
			MessageID: p.ReplyTo.MessageID,
			UserID:    p.ReplyTo.UserID,
			UserName:  p.ReplyTo.UserName,
			Message:   truncateRunes(p.ReplyTo.Message, replyPreviewLimit),
		}
	}

	if err := s.chat.Append(ctx, p.RoomID, msg); err != nil {
		return events.ErrInternal(err)
	}

	s.broadcast(p.RoomID, events.EvNewMessage, events.NewMessagePayload{Message: *msg})
	return nil
}

// handleToggleReaction flips the caller's mark on one emoji. The repository
// serializes the read-modify-write per room and retries on conflict, so two
// simultaneous toggles both land.
func (s *Service) handleToggleReaction(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.ToggleReactionPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}

	userID := client.UserID()
	var action events.ReactionAction

	updated, err := s.chat.UpdateReactions(ctx, p.RoomID, p.MessageID, func(msg *types.ChatMessage) {
		if msg.HasReaction(p.Emoji, userID) {
			action = events.ReactionRemoved
			kept := make([]types.UserIDType, 0, len(msg.Reactions[p.Emoji])-1)
			for _, id := range msg.Reactions[p.Emoji] {
				if id != userID {
					kept = append(kept, id)
				}
			}
			msg.Reactions[p.Emoji] = kept
			return
		}
		action = events.ReactionAdded
		msg.Reactions[p.Emoji] = append(msg.Reactions[p.Emoji], userID)
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrMessageNotFound):
			return events.ErrValidation("Message not found")
		default:
			return events.ErrInternal(err)
		}
	}

	logging.GetLogger().Debug("reaction toggled",
		zap.String("message_id", p.MessageID),
		zap.String("action", string(action)))

	s.broadcast(p.RoomID, events.EvReactionUpdated, events.ReactionUpdatedPayload{
		MessageID: p.MessageID,
		Emoji:     p.Emoji,
		UserID:    userID,
		Reactions: updated.Reactions,
		Action:    action,
	})
	return nil
}

func (s *Service) handleTypingStart(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.TypingPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}
	// Ephemeral: fanned out, never stored. Clients expire typists after 1s idle.
	s.broadcastExcept(p.RoomID, client.UserID(), events.EvUserTyping, events.UserTypingPayload{
		UserID:   client.UserID(),
		UserName: client.DisplayName(),
	})
	return nil
}

func (s *Service) handleTypingStop(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.TypingPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}
	s.broadcastExcept(p.RoomID, client.UserID(), events.EvUserStoppedTyping, events.UserStoppedTypingPayload{
		UserID: client.UserID(),
	})
	return nil
}

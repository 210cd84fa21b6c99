package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/kv"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

var (
	// ErrMessageNotFound is returned when the target message fell out of the
	// bounded history window.
	ErrMessageNotFound = errors.New("store: message not found")
	// ErrConflict is returned after the bounded retry on a reaction update is
	// exhausted.
	ErrConflict = errors.New("store: concurrent chat mutation")
)

const reactionRetries = 3

// Chat is the bounded per-room message history. Messages are left-pushed onto
// chat:<roomId> and trimmed to the newest `limit`, so index 0 is always the
// most recent message.
type Chat struct {
	kv    *kv.Store
	locks *KeyedMutex
	limit int
}

// NewChat creates the chat repository retaining `limit` messages per room.
func NewChat(kvs *kv.Store, limit int) *Chat {
	return &Chat{kv: kvs, locks: NewKeyedMutex(), limit: limit}
}

// Limit returns the history bound.
func (c *Chat) Limit() int {
	return c.limit
}

// Append pushes msg and trims the history to the newest limit entries.
func (c *Chat) Append(ctx context.Context, roomID types.RoomIDType, msg *types.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message %s: %w", msg.ID, err)
	}

	unlock := c.locks.Lock(chatKey(roomID))
	defer unlock()

	key := chatKey(roomID)
	if err := c.kv.PushLeft(ctx, key, string(data)); err != nil {
		return err
	}
	if err := c.kv.Trim(ctx, key, 0, int64(c.limit)-1); err != nil {
		return err
	}
	if err := c.kv.Expire(ctx, key, chatTTL); err != nil {
		return err
	}
	metrics.ChatMessages.Inc()
	return nil
}

// History returns the retained messages oldest-first.
func (c *Chat) History(ctx context.Context, roomID types.RoomIDType) ([]types.ChatMessage, error) {
	raw, err := c.kv.Range(ctx, chatKey(roomID), 0, -1)
	if err != nil {
		return nil, err
	}

	msgs := make([]types.ChatMessage, 0, len(raw))
	// Stored newest-first; walk backwards to hand out oldest-first.
	for i := len(raw) - 1; i >= 0; i-- {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			logging.Warn(ctx, "skipping corrupt chat entry",
				zap.String("room_id", string(roomID)), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// UpdateReactions locates messageID, applies fn to it, and rewrites the entry
// in place. The room's chat lock serializes this against concurrent appends on
// this instance; a bounded retry absorbs index drift from appends racing in
// from another instance before giving up with ErrConflict.
func (c *Chat) UpdateReactions(ctx context.Context, roomID types.RoomIDType, messageID string, fn func(*types.ChatMessage)) (*types.ChatMessage, error) {
	unlock := c.locks.Lock(chatKey(roomID))
	defer unlock()

	key := chatKey(roomID)
	var lastErr error

	for attempt := 0; attempt < reactionRetries; attempt++ {
		raw, err := c.kv.Range(ctx, key, 0, -1)
		if err != nil {
			return nil, err
		}

		idx := -1
		var msg types.ChatMessage
		for i, entry := range raw {
			var candidate types.ChatMessage
			if err := json.Unmarshal([]byte(entry), &candidate); err != nil {
				continue
			}
			if candidate.ID == messageID {
				idx = i
				msg = candidate
				break
			}
		}
		if idx < 0 {
			return nil, ErrMessageNotFound
		}

		if msg.Reactions == nil {
			msg.Reactions = make(map[string][]types.UserIDType)
		}
		fn(&msg)

		data, err := json.Marshal(&msg)
		if err != nil {
			return nil, fmt.Errorf("marshal chat message %s: %w", messageID, err)
		}

		if err := c.kv.SetAt(ctx, key, int64(idx), string(data)); err != nil {
			if errors.Is(err, kv.ErrUnavailable) {
				return nil, err
			}
			// The index moved under us (append/trim from another instance);
			// re-read and try again.
			lastErr = err
			continue
		}
		return &msg, nil
	}

	logging.Warn(ctx, "reaction update exhausted retries",
		zap.String("room_id", string(roomID)),
		zap.String("message_id", messageID),
		zap.Error(lastErr))
	return nil, ErrConflict
}

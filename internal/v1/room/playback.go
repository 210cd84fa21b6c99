package room

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/store"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// driftThreshold is the gap between the host's reported position and the
// extrapolated authoritative position beyond which guests are resynced.
const driftThreshold = 1.5 // seconds

// errorReportsForFallback is how many distinct guests must report a playback
// failure before direct delivery is flipped to the proxy.
const errorReportsForFallback = 2

// reasonErrorReportFallback is appended to the decision trail on that flip.
const reasonErrorReportFallback = "error-report-fallback"

// requireHost loads the room and checks the caller holds host privileges.
func (s *Service) requireHost(ctx context.Context, client types.ClientConn, roomID types.RoomIDType) (*types.Room, *events.Error) {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil, events.ErrRoomNotFound()
		}
		return nil, events.ErrInternal(err)
	}
	if !room.IsHostUser(client.UserID()) {
		return nil, events.ErrHostOnly()
	}
	return room, nil
}

func (s *Service) handleSetVideo(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.SetVideoPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}
	if _, err := s.requireHost(ctx, client, p.RoomID); err != nil {
		return err
	}

	// Resolution is synchronous: the video-set that follows must carry the
	// final delivery decision.
	meta := s.resolver.Resolve(ctx, p.VideoURL)

	if _, err := s.rooms.SetVideo(ctx, p.RoomID, p.VideoURL, meta.VideoType, meta); err != nil {
		return events.ErrInternal(err)
	}

	// A new source starts a fresh error-report tally.
	s.mu.Lock()
	delete(s.errReport, p.RoomID)
	s.mu.Unlock()

	logging.Info(ctx, "video set",
		zap.String("room_id", string(p.RoomID)),
		zap.String("delivery", string(meta.DeliveryType)))

	s.broadcast(p.RoomID, events.EvVideoSet, events.VideoSetPayload{
		VideoURL:  p.VideoURL,
		VideoType: meta.VideoType,
		VideoMeta: meta,
	})
	return nil
}

// applyPlayback updates authoritative state and fans the event out to
// everyone except the host, who already applied the change locally.
func (s *Service) applyPlayback(ctx context.Context, client types.ClientConn, roomID types.RoomIDType, outEvent string, mutate func(*types.VideoState)) *events.Error {
	if _, err := s.requireHost(ctx, client, roomID); err != nil {
		return err
	}

	now := time.Now()
	var state types.VideoState
	_, err := s.rooms.Mutate(ctx, roomID, func(room *types.Room) error {
		mutate(&room.VideoState)
		room.VideoState.LastUpdateTime = now.UnixMilli()
		state = room.VideoState
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return events.ErrRoomNotFound()
		}
		return events.ErrInternal(err)
	}

	s.broadcastExcept(roomID, client.UserID(), outEvent, events.PlaybackEventPayload{
		CurrentTime: state.CurrentTime,
		Timestamp:   state.LastUpdateTime,
	})
	return nil
}

func (s *Service) handlePlayVideo(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.PlaybackPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}
	return s.applyPlayback(ctx, client, p.RoomID, events.EvVideoPlayed, func(vs *types.VideoState) {
		vs.IsPlaying = true
		vs.CurrentTime = p.CurrentTime
	})
}

func (s *Service) handlePauseVideo(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.PlaybackPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}
	return s.applyPlayback(ctx, client, p.RoomID, events.EvVideoPaused, func(vs *types.VideoState) {
		vs.IsPlaying = false
		vs.CurrentTime = p.CurrentTime
	})
}

func (s *Service) handleSeekVideo(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.PlaybackPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}
	// Seeking moves the position; whether playback continues is unchanged.
	return s.applyPlayback(ctx, client, p.RoomID, events.EvVideoSeeked, func(vs *types.VideoState) {
		vs.CurrentTime = p.CurrentTime
	})
}

// handleSyncCheck is the host heartbeat. The reported state always becomes
// authoritative; guests are resynced only when it drifted past the threshold,
// so a healthy room generates no extra traffic.
func (s *Service) handleSyncCheck(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.SyncCheckPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}
	room, err := s.requireHost(ctx, client, p.RoomID)
	if err != nil {
		return err
	}

	now := time.Now()
	expected := room.VideoState.PresentationTime(now)
	drift := math.Abs(expected - p.CurrentTime)

	newState := types.VideoState{
		IsPlaying:      p.IsPlaying,
		CurrentTime:    p.CurrentTime,
		Duration:       room.VideoState.Duration,
		LastUpdateTime: now.UnixMilli(),
	}
	if _, err := s.rooms.UpdateVideoState(ctx, p.RoomID, newState); err != nil {
		return events.ErrInternal(err)
	}

	if drift > driftThreshold || room.VideoState.IsPlaying != p.IsPlaying {
		logging.GetLogger().Debug("drift correction",
			zap.String("room_id", string(p.RoomID)),
			zap.Float64("drift", drift))
		s.broadcastExcept(p.RoomID, client.UserID(), events.EvSyncUpdate, events.SyncUpdatePayload{
			CurrentTime: p.CurrentTime,
			IsPlaying:   p.IsPlaying,
			Timestamp:   newState.LastUpdateTime,
		})
	}
	return nil
}

// handleVideoErrorReport collects guest playback failures. Once enough
// distinct guests report against a direct-delivery source, the room is
// flipped to proxy delivery and the new video-set is rebroadcast.
func (s *Service) handleVideoErrorReport(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
	p := payload.(*events.VideoErrorReportPayload)
	if p.RoomID != client.RoomID() {
		return events.ErrValidation("Not in that room")
	}

	logging.Warn(ctx, "video error report",
		zap.String("room_id", string(p.RoomID)),
		zap.Int("code", p.Code),
		zap.String("message", p.Message),
		zap.String("current_src", p.CurrentSrc))

	s.mu.Lock()
	if s.errReport[p.RoomID] == nil {
		s.errReport[p.RoomID] = set.New[types.UserIDType]()
	}
	s.errReport[p.RoomID].Insert(client.UserID())
	reporters := s.errReport[p.RoomID].Len()
	s.mu.Unlock()

	if reporters < errorReportsForFallback {
		return nil
	}

	var flipped *types.Room
	_, err := s.rooms.Mutate(ctx, p.RoomID, func(room *types.Room) error {
		if room.VideoMeta == nil || room.VideoMeta.DeliveryType != types.DeliveryFileDirect {
			return nil
		}
		meta := *room.VideoMeta
		meta.DeliveryType = types.DeliveryFileProxy
		meta.RequiresProxy = true
		meta.PlaybackURL = s.resolver.ProxyURL(meta.OriginalURL)
		meta.DecisionReasons = append(meta.DecisionReasons, reasonErrorReportFallback)
		room.VideoMeta = &meta
		flipped = room
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return events.ErrRoomNotFound()
		}
		return events.ErrInternal(err)
	}
	if flipped == nil {
		return nil
	}

	s.mu.Lock()
	delete(s.errReport, p.RoomID)
	s.mu.Unlock()

	logging.Info(ctx, "direct delivery failing, switching to proxy",
		zap.String("room_id", string(p.RoomID)))

	s.broadcast(p.RoomID, events.EvVideoSet, events.VideoSetPayload{
		VideoURL:  flipped.VideoURL,
		VideoType: flipped.VideoType,
		VideoMeta: flipped.VideoMeta,
	})
	return nil
}

package room

import (
	"context"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/logging"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/metrics"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

// eventPrefix maps a modality to its wire-event prefix. The camera mesh
// speaks "videochat-*" even though the modality label is "video".
func eventPrefix(modality types.ModalityType) string {
	if modality == types.ModalityVideo {
		return "videochat"
	}
	return "voice"
}

// mesh returns the peer set for (room, modality), creating it on demand.
// Caller must hold s.mu.
func (s *Service) mesh(roomID types.RoomIDType, modality types.ModalityType) set.Set[types.UserIDType] {
	byModality, ok := s.signal[roomID]
	if !ok {
		byModality = make(map[types.ModalityType]set.Set[types.UserIDType])
		s.signal[roomID] = byModality
	}
	peers, ok := byModality[modality]
	if !ok {
		peers = set.New[types.UserIDType]()
		byModality[modality] = peers
	}
	return peers
}

// signalJoin admits the caller into the modality's mesh: the caller learns
// the existing peers, the existing peers learn the caller, and everyone in
// the room sees the new count. Joining twice is a no-op beyond a refreshed
// peer list.
func (s *Service) signalJoin(modality types.ModalityType) handlerFunc {
	prefix := eventPrefix(modality)
	return func(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
		p := payload.(*events.SignalJoinPayload)
		if p.RoomID != client.RoomID() {
			return events.ErrValidation("Not in that room")
		}
		userID := client.UserID()

		s.mu.Lock()
		peers := s.mesh(p.RoomID, modality)
		if !peers.Has(userID) && peers.Len() >= s.cfg.SignalingPeerCap {
			s.mu.Unlock()
			return events.ErrOverCap(s.cfg.SignalingPeerCap)
		}
		existing := make([]types.UserIDType, 0, peers.Len())
		for peer := range peers {
			if peer != userID {
				existing = append(existing, peer)
			}
		}
		peers.Insert(userID)
		count := peers.Len()
		s.mu.Unlock()

		metrics.SignalingPeers.WithLabelValues(string(modality)).Set(float64(count))
		logging.Info(ctx, "peer joined mesh",
			zap.String("modality", string(modality)), zap.Int("peers", count))

		client.Send(prefix+events.SufExistingPeers, events.ExistingPeersPayload{UserIDs: existing})
		for _, peer := range existing {
			s.sendToUser(peer, prefix+events.SufPeerJoined, events.PeerJoinedPayload{UserID: userID})
		}
		s.broadcast(p.RoomID, prefix+events.SufParticipantCount, events.ParticipantCountPayload{
			RoomID: p.RoomID,
			Count:  count,
		})
		return nil
	}
}

func (s *Service) signalLeave(modality types.ModalityType) handlerFunc {
	return func(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
		p := payload.(*events.SignalJoinPayload)
		if p.RoomID != client.RoomID() {
			return events.ErrValidation("Not in that room")
		}
		s.signalRemove(p.RoomID, client.UserID(), modality)
		return nil
	}
}

// relay forwards a handshake frame to one peer. Every way the target can be
// gone — out of the mesh, identity binding expired, connection dead — is a
// silent drop: mesh membership changes mid-handshake constantly, and the
// peer-left broadcast already tells the caller to abandon the exchange.
func (s *Service) relay(ctx context.Context, roomID types.RoomIDType, modality types.ModalityType, target types.UserIDType, event string, payload any) *events.Error {
	s.mu.Lock()
	inMesh := false
	if byModality, ok := s.signal[roomID]; ok {
		if peers, ok := byModality[modality]; ok {
			inMesh = peers.Has(target)
		}
	}
	s.mu.Unlock()

	if !inMesh {
		logging.Debug(ctx, "relay target not in mesh, dropping",
			zap.String("modality", string(modality)),
			zap.String("target", string(target)))
		return nil
	}

	connID, err := s.identity.Lookup(ctx, target)
	if err != nil {
		logging.Debug(ctx, "relay target has no identity binding, dropping",
			zap.String("target", string(target)))
		return nil
	}

	if s.conns != nil {
		if conn, ok := s.conns.ByConnID(connID); ok {
			conn.Send(event, payload)
		}
		return nil
	}
	s.sendToUser(target, event, payload)
	return nil
}

func (s *Service) signalOffer(modality types.ModalityType) handlerFunc {
	event := eventPrefix(modality) + events.SufOfferReceived
	return func(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
		p := payload.(*events.SDPPayload)
		if p.RoomID != client.RoomID() {
			return events.ErrValidation("Not in that room")
		}
		return s.relay(ctx, p.RoomID, modality, p.TargetUserID, event, events.SDPReceivedPayload{
			FromUserID: client.UserID(),
			SDP:        p.SDP,
		})
	}
}

func (s *Service) signalAnswer(modality types.ModalityType) handlerFunc {
	event := eventPrefix(modality) + events.SufAnswerReceived
	return func(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
		p := payload.(*events.SDPPayload)
		if p.RoomID != client.RoomID() {
			return events.ErrValidation("Not in that room")
		}
		return s.relay(ctx, p.RoomID, modality, p.TargetUserID, event, events.SDPReceivedPayload{
			FromUserID: client.UserID(),
			SDP:        p.SDP,
		})
	}
}

func (s *Service) signalICECandidate(modality types.ModalityType) handlerFunc {
	event := eventPrefix(modality) + events.SufICECandidateReceived
	return func(ctx context.Context, client types.ClientConn, payload events.Inbound) *events.Error {
		p := payload.(*events.ICECandidatePayload)
		if p.RoomID != client.RoomID() {
			return events.ErrValidation("Not in that room")
		}
		return s.relay(ctx, p.RoomID, modality, p.TargetUserID, event, events.ICECandidateReceivedPayload{
			FromUserID: client.UserID(),
			Candidate:  p.Candidate,
		})
	}
}

// signalRemove drops one user from one modality's mesh and notifies the
// survivors. A user not in the mesh is a no-op.
func (s *Service) signalRemove(roomID types.RoomIDType, userID types.UserIDType, modality types.ModalityType) {
	prefix := eventPrefix(modality)

	s.mu.Lock()
	byModality, ok := s.signal[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	peers, ok := byModality[modality]
	if !ok || !peers.Has(userID) {
		s.mu.Unlock()
		return
	}
	peers.Delete(userID)
	count := peers.Len()
	if count == 0 {
		delete(byModality, modality)
		if len(byModality) == 0 {
			delete(s.signal, roomID)
		}
	}
	s.mu.Unlock()

	metrics.SignalingPeers.WithLabelValues(string(modality)).Set(float64(count))

	s.broadcastExcept(roomID, userID, prefix+events.SufPeerLeft, events.PeerLeftPayload{UserID: userID})
	s.broadcast(roomID, prefix+events.SufParticipantCount, events.ParticipantCountPayload{
		RoomID: roomID,
		Count:  count,
	})
}

// signalRemoveAll clears the user from every mesh in the room; invoked on
// leave, kick, and disconnect.
func (s *Service) signalRemoveAll(roomID types.RoomIDType, userID types.UserIDType) {
	s.signalRemove(roomID, userID, types.ModalityVoice)
	s.signalRemove(roomID, userID, types.ModalityVideo)
}

package room

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whonoahexe/sideby.me-sub001/internal/v1/events"
	"github.com/whonoahexe/sideby.me-sub001/internal/v1/types"
)

func TestSignalJoin(t *testing.T) {
	t.Run("should hand the joiner the existing peers and announce it to them", func(t *testing.T) {
		s := newTestService(t)
		host, roomID, _ := createRoom(t, s, "Alice")
		guest := joinGuest(t, s, roomID, "Bob")

		route(t, s, host, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		route(t, s, guest, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})

		var existing events.ExistingPeersPayload
		guest.lastOf(t, "voice-existing-peers", &existing)
		assert.Equal(t, []types.UserIDType{host.UserID()}, existing.UserIDs)

		var peerJoined events.PeerJoinedPayload
		host.lastOf(t, "voice-peer-joined", &peerJoined)
		assert.Equal(t, guest.UserID(), peerJoined.UserID)

		// Everyone in the room sees the count, mesh member or not.
		var count events.ParticipantCountPayload
		host.lastOf(t, "voice-participant-count", &count)
		assert.Equal(t, 2, count.Count)
	})

	t.Run("meshes should be independent per modality", func(t *testing.T) {
		s := newTestService(t)
		host, roomID, _ := createRoom(t, s, "Alice")
		guest := joinGuest(t, s, roomID, "Bob")

		route(t, s, host, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		route(t, s, guest, events.EvVideochatJoin, events.SignalJoinPayload{RoomID: roomID})

		var existing events.ExistingPeersPayload
		guest.lastOf(t, "videochat-existing-peers", &existing)
		assert.Empty(t, existing.UserIDs)
	})

	t.Run("should reject the joiner over the mesh cap on the modality error channel", func(t *testing.T) {
		s := newTestService(t) // cap 3
		host, roomID, _ := createRoom(t, s, "Alice")
		route(t, s, host, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})

		guests := []*fakeConn{
			joinGuest(t, s, roomID, "Bob"),
			joinGuest(t, s, roomID, "Cara"),
		}
		for _, g := range guests {
			route(t, s, g, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		}

		late := joinGuest(t, s, roomID, "Dana")
		route(t, s, late, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})

		var ep events.ErrorPayload
		late.lastOf(t, "voice-error", &ep)
		assert.Equal(t, events.KindOverCap, ep.Kind)
		assert.Zero(t, late.countOf("voice-existing-peers"))

		// A full voice mesh does not block the camera mesh.
		route(t, s, late, events.EvVideochatJoin, events.SignalJoinPayload{RoomID: roomID})
		assert.Equal(t, 1, late.countOf("videochat-existing-peers"))
	})

	t.Run("rejoining should refresh the peer list without growing the mesh", func(t *testing.T) {
		s := newTestService(t)
		host, roomID, _ := createRoom(t, s, "Alice")

		route(t, s, host, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		route(t, s, host, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})

		var count events.ParticipantCountPayload
		host.lastOf(t, "voice-participant-count", &count)
		assert.Equal(t, 1, count.Count)
	})
}

func TestSignalRelay(t *testing.T) {
	setupMesh := func(t *testing.T) (*Service, *fakeConn, *fakeConn, types.RoomIDType) {
		s := newTestService(t)
		host, roomID, _ := createRoom(t, s, "Alice")
		guest := joinGuest(t, s, roomID, "Bob")
		route(t, s, host, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		route(t, s, guest, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		host.reset()
		guest.reset()
		return s, host, guest, roomID
	}

	t.Run("should relay an offer opaquely to the target only", func(t *testing.T) {
		s, host, guest, roomID := setupMesh(t)

		sdp := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)
		route(t, s, host, events.EvVoiceOffer, events.SDPPayload{
			RoomID: roomID, TargetUserID: guest.UserID(), SDP: sdp,
		})

		var received events.SDPReceivedPayload
		guest.lastOf(t, "voice-offer-received", &received)
		assert.Equal(t, host.UserID(), received.FromUserID)
		assert.JSONEq(t, string(sdp), string(received.SDP))
		assert.Zero(t, host.countOf("voice-offer-received"))
	})

	t.Run("should relay answers and candidates the same way", func(t *testing.T) {
		s, host, guest, roomID := setupMesh(t)

		route(t, s, guest, events.EvVoiceAnswer, events.SDPPayload{
			RoomID: roomID, TargetUserID: host.UserID(), SDP: json.RawMessage(`{"type":"answer"}`),
		})
		var answer events.SDPReceivedPayload
		host.lastOf(t, "voice-answer-received", &answer)
		assert.Equal(t, guest.UserID(), answer.FromUserID)

		route(t, s, guest, events.EvVoiceICECandidate, events.ICECandidatePayload{
			RoomID: roomID, TargetUserID: host.UserID(), Candidate: json.RawMessage(`{"candidate":"a=..."}`),
		})
		var cand events.ICECandidateReceivedPayload
		host.lastOf(t, "voice-ice-candidate-received", &cand)
		assert.Equal(t, guest.UserID(), cand.FromUserID)
	})

	t.Run("should silently drop a relay at a target outside the mesh", func(t *testing.T) {
		s, host, _, roomID := setupMesh(t)
		outsider := joinGuest(t, s, roomID, "Cara")
		host.reset()

		route(t, s, host, events.EvVoiceOffer, events.SDPPayload{
			RoomID: roomID, TargetUserID: outsider.UserID(), SDP: json.RawMessage(`{}`),
		})

		// A target racing out of the mesh is routine, not the caller's fault.
		assert.Zero(t, host.countOf("voice-error"))
		assert.Zero(t, outsider.countOf("voice-offer-received"))
	})

	t.Run("should silently drop when the target's identity binding is gone", func(t *testing.T) {
		s, host, guest, roomID := setupMesh(t)
		require.NoError(t, s.identity.Unbind(context.Background(), guest.UserID()))

		route(t, s, host, events.EvVoiceOffer, events.SDPPayload{
			RoomID: roomID, TargetUserID: guest.UserID(), SDP: json.RawMessage(`{}`),
		})

		assert.Zero(t, host.countOf("voice-error"))
		assert.Zero(t, guest.countOf("voice-offer-received"))
	})

	t.Run("should route through the connection directory when attached", func(t *testing.T) {
		s, host, guest, roomID := setupMesh(t)
		dir := &fakeConnDirectory{conns: map[types.ConnIDType]types.ClientConn{
			host.ConnID():  host,
			guest.ConnID(): guest,
		}}
		s.AttachConns(dir)

		route(t, s, host, events.EvVoiceOffer, events.SDPPayload{
			RoomID: roomID, TargetUserID: guest.UserID(), SDP: json.RawMessage(`{"type":"offer"}`),
		})

		var received events.SDPReceivedPayload
		guest.lastOf(t, "voice-offer-received", &received)
		assert.Equal(t, host.UserID(), received.FromUserID)

		// A binding that points at a connection the directory no longer
		// tracks is a dead peer: drop, don't error.
		delete(dir.conns, guest.ConnID())
		guest.reset()
		host.reset()
		route(t, s, host, events.EvVoiceOffer, events.SDPPayload{
			RoomID: roomID, TargetUserID: guest.UserID(), SDP: json.RawMessage(`{}`),
		})
		assert.Zero(t, guest.countOf("voice-offer-received"))
		assert.Zero(t, host.countOf("voice-error"))
	})
}

func TestSignalLeave(t *testing.T) {
	t.Run("should notify survivors and update the count", func(t *testing.T) {
		s := newTestService(t)
		host, roomID, _ := createRoom(t, s, "Alice")
		guest := joinGuest(t, s, roomID, "Bob")
		route(t, s, host, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		route(t, s, guest, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		host.reset()

		route(t, s, guest, events.EvVoiceLeave, events.SignalJoinPayload{RoomID: roomID})

		var left events.PeerLeftPayload
		host.lastOf(t, "voice-peer-left", &left)
		assert.Equal(t, guest.UserID(), left.UserID)

		var count events.ParticipantCountPayload
		host.lastOf(t, "voice-participant-count", &count)
		assert.Equal(t, 1, count.Count)
	})

	t.Run("leaving the room should clear every mesh the user was in", func(t *testing.T) {
		s := newTestService(t)
		host, roomID, _ := createRoom(t, s, "Alice")
		guest := joinGuest(t, s, roomID, "Bob")
		route(t, s, host, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		route(t, s, guest, events.EvVoiceJoin, events.SignalJoinPayload{RoomID: roomID})
		route(t, s, guest, events.EvVideochatJoin, events.SignalJoinPayload{RoomID: roomID})
		host.reset()

		route(t, s, guest, events.EvLeaveRoom, events.LeaveRoomPayload{RoomID: roomID})

		require.Equal(t, 1, host.countOf("voice-peer-left"))
		require.Equal(t, 1, host.countOf("videochat-peer-left"))

		var count events.ParticipantCountPayload
		host.lastOf(t, "voice-participant-count", &count)
		assert.Equal(t, 1, count.Count)
		host.lastOf(t, "videochat-participant-count", &count)
		assert.Equal(t, 0, count.Count)
	})

	t.Run("leaving a mesh never joined should be a no-op", func(t *testing.T) {
		s := newTestService(t)
		host, roomID, _ := createRoom(t, s, "Alice")
		host.reset()

		route(t, s, host, events.EvVoiceLeave, events.SignalJoinPayload{RoomID: roomID})
		assert.Empty(t, host.sentEvents())
	})
}

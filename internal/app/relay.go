package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/avdeyev/roulette/internal/core"
	"github.com/avdeyev/roulette/internal/domain"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotAParticipant = errors.New("sender is not a participant of the room")
)

// SignalMessage is the validated envelope of a frame to be relayed. Raw
// carries the sender's original bytes; the relay never rewrites them.
type SignalMessage struct {
	RoomID   domain.RoomID
	Kind     string
	SenderID domain.ClientID
	Raw      core.Frame
}

// SignalingRelay forwards signaling frames between the two members of a
// room without interpreting the payload.
type SignalingRelay struct {
	broker   *RoomBroker
	registry *Registry
}

func NewSignalingRelay(broker *RoomBroker, registry *Registry) *SignalingRelay {
	return &SignalingRelay{broker: broker, registry: registry}
}

// Deliver forwards msg.Raw verbatim to the other participant. A failure is
// local to this message: no buffering, no retry, no state change.
func (r *SignalingRelay) Deliver(msg SignalMessage) error {
	room, ok := r.broker.Room(msg.RoomID)
	if !ok {
		return ErrRoomNotFound
	}
	peer, ok := room.Other(msg.SenderID)
	if !ok {
		return ErrNotAParticipant
	}

	conn, ok := r.registry.Get(peer)
	if !ok {
		// Peer channel already gone; the room is mid-teardown.
		log.Warn().Str("module", "app.relay").
			Str("room", string(msg.RoomID)).
			Str("peer", string(peer)).
			Msg("peer has no live connection, dropping frame")
		return nil
	}
	if err := conn.TrySend(msg.Raw); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").
			Str("room", string(msg.RoomID)).
			Str("kind", msg.Kind).
			Str("peer", string(peer)).
			Msg("dropping frame")
	}
	return nil
}

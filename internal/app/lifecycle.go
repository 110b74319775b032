package app

import (
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/roulette/internal/core"
	"github.com/avdeyev/roulette/internal/domain"
)

// Notifier delivers lifecycle events to a client's transport. Implemented
// by the signaling adapter.
type Notifier interface {
	RoomAssigned(cid domain.ClientID, room *domain.Room, initiator bool)
	SessionEnded(cid domain.ClientID, roomID domain.RoomID, reason core.EndReason)
}

// SessionLifecycle coordinates enqueue, "next", "leave" and disconnects
// across the broker and the registry so both peers observe teardown
// consistently. It is the only app-facing entry point the adapter calls.
type SessionLifecycle struct {
	Broker   *RoomBroker
	Registry *Registry
	Notifier Notifier
}

// Enqueue queues the client and, when that completes a pairing, announces
// the room to both participants. Exactly one of the two is told it is the
// initiator.
func (l *SessionLifecycle) Enqueue(cid domain.ClientID, ct domain.ChatType) error {
	pairing, err := l.Broker.Enqueue(cid, ct)
	if err != nil {
		return err
	}
	if pairing != nil {
		l.announce(pairing.Room)
	}
	return nil
}

func (l *SessionLifecycle) announce(room *domain.Room) {
	for i, cid := range room.Participants {
		l.Notifier.RoomAssigned(cid, room, i == 0)
	}
}

// Next tears down the caller's current room, if any, and re-enqueues the
// caller with the same chat type. The survivor is notified before the
// caller becomes pairable again; it is not re-enqueued automatically.
// Calling Next while still waiting keeps the queue position and is a no-op.
func (l *SessionLifecycle) Next(cid domain.ClientID, ct domain.ChatType) error {
	closed := l.teardown(cid, core.EndPeerNext)
	if !closed && l.Broker.IsWaiting(cid) {
		log.Info().Str("module", "app.lifecycle").Str("cid", string(cid)).Msg("next while waiting, keeping queue position")
		return nil
	}
	return l.Enqueue(cid, ct)
}

// Leave tears down the current room and removes the caller from any waiting
// queue. No re-enqueue. Safe to call with no active room.
func (l *SessionLifecycle) Leave(cid domain.ClientID) {
	l.teardown(cid, core.EndPeerLeft)
	l.Broker.Dequeue(cid)
}

// OnDisconnect is Leave triggered by transport closure; it additionally
// releases the registry binding. The caller's state is cleaned up only while
// conn still owns that binding: a channel superseded by a same-token
// reconnect (or one whose cleanup already ran) must not tear down the queue
// slot, room or binding of its replacement.
func (l *SessionLifecycle) OnDisconnect(cid domain.ClientID, conn core.SignalConnection) {
	if !l.Registry.UnbindIf(cid, conn) {
		log.Info().Str("module", "app.lifecycle").Str("cid", string(cid)).Msg("stale channel closed, state kept")
		return
	}
	l.teardown(cid, core.EndPeerDisconnected)
	l.Broker.Dequeue(cid)
	log.Info().Str("module", "app.lifecycle").Str("cid", string(cid)).Msg("disconnected")
}

// teardown closes the caller's room and notifies the surviving participant.
// The room leaves the broker table before anyone is notified or re-queued,
// so a stale room id can never be relayed into a new pairing.
func (l *SessionLifecycle) teardown(cid domain.ClientID, reason core.EndReason) bool {
	room, ok := l.Broker.CloseRoomOf(cid)
	if !ok {
		return false
	}
	if peer, ok := room.Other(cid); ok {
		l.Notifier.SessionEnded(peer, room.ID, reason)
	}
	return true
}

// Package peer implements the client half of the protocol: the signaling
// websocket client, the negotiation state machine and its WebRTC binding.
package peer

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/roulette/internal/domain"
)

// State of a negotiation, one machine per room membership.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateOffering
	StateAwaitingOffer
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateOffering:
		return "offering"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason qualifies the terminal state.
type CloseReason string

const (
	CloseNone              CloseReason = ""
	CloseMediaError        CloseReason = "media-error"
	CloseNegotiationFailed CloseReason = "negotiation-failed"
	ClosePeerEnded         CloseReason = "peer-ended"
	CloseTorndown          CloseReason = "torn-down"
)

// MediaSource yields the local tracks to publish. The machine treats it as
// opaque; acquisition may be slow and may fail, and it must not block the
// transport loop.
type MediaSource interface {
	Acquire(ctx context.Context) ([]webrtc.TrackLocal, error)
}

// PeerLink is the slice of a WebRTC peer connection the machine drives.
type PeerLink interface {
	AddTrack(webrtc.TrackLocal) error
	CreateOfferAndSet() (webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnected(func())
	OnFailed(func())
	Close()
}

// SignalSender emits signaling frames toward the relay.
type SignalSender interface {
	SendOffer(roomID domain.RoomID, sdp string) error
	SendAnswer(roomID domain.RoomID, sdp string) error
	SendCandidate(roomID domain.RoomID, cand webrtc.ICECandidateInit) error
}

// StateHook observes transitions; called outside the machine lock.
type StateHook func(State, CloseReason)

// Machine drives one offer/answer/ICE negotiation. It is terminal: a new
// room requires a fresh Machine.
type Machine struct {
	link     PeerLink
	media    MediaSource
	signaler SignalSender
	hook     StateHook

	mu        sync.Mutex
	state     State
	reason    CloseReason
	roomID    domain.RoomID
	initiator bool

	remoteSet bool
	pending   []webrtc.ICECandidateInit
	heldOffer *webrtc.SessionDescription
}

func NewMachine(link PeerLink, media MediaSource, signaler SignalSender, hook StateHook) *Machine {
	return &Machine{
		link:     link,
		media:    media,
		signaler: signaler,
		hook:     hook,
		state:    StateIdle,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Reason() CloseReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Start reacts to roomAssigned: wires the link callbacks and kicks off
// media acquisition in the background.
func (m *Machine) Start(ctx context.Context, roomID domain.RoomID, initiator bool) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return
	}
	m.roomID = roomID
	m.initiator = initiator
	m.state = StateAcquiringMedia
	m.mu.Unlock()
	m.notify(StateAcquiringMedia, CloseNone)

	// Locally gathered candidates go out immediately, whatever the state.
	m.link.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		m.mu.Lock()
		closed := m.state == StateClosed
		room := m.roomID
		m.mu.Unlock()
		if closed {
			return
		}
		if err := m.signaler.SendCandidate(room, cand); err != nil {
			log.Warn().Err(err).Str("module", "peer.machine").Str("room", string(room)).Msg("send candidate")
		}
	})
	m.link.OnConnected(m.handleConnected)
	m.link.OnFailed(func() { m.close(CloseNegotiationFailed) })

	go func() {
		tracks, err := m.media.Acquire(ctx)
		m.mediaReady(tracks, err)
	}()
}

func (m *Machine) mediaReady(tracks []webrtc.TrackLocal, err error) {
	m.mu.Lock()
	if m.state != StateAcquiringMedia {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.mu.Unlock()
		log.Error().Err(err).Str("module", "peer.machine").Msg("media acquisition failed")
		m.close(CloseMediaError)
		return
	}
	initiator := m.initiator
	room := m.roomID
	held := m.heldOffer
	m.heldOffer = nil
	if initiator {
		m.state = StateOffering
	} else {
		m.state = StateAwaitingOffer
	}
	next := m.state
	m.mu.Unlock()

	for _, t := range tracks {
		if err := m.link.AddTrack(t); err != nil {
			log.Error().Err(err).Str("module", "peer.machine").Msg("add track")
			m.close(CloseMediaError)
			return
		}
	}

	if initiator {
		offer, err := m.link.CreateOfferAndSet()
		if err != nil {
			log.Error().Err(err).Str("module", "peer.machine").Msg("create offer")
			m.close(CloseNegotiationFailed)
			return
		}
		if err := m.signaler.SendOffer(room, offer.SDP); err != nil {
			log.Warn().Err(err).Str("module", "peer.machine").Str("room", string(room)).Msg("send offer")
		}
		m.notify(next, CloseNone)
		return
	}

	m.notify(next, CloseNone)
	// An offer that raced ahead of media acquisition is consumed now.
	if held != nil {
		m.applyOffer(*held)
	}
}

// HandleOffer reacts to a relayed offer. While media acquisition is still
// outstanding the offer is held, not applied; the transport loop is never
// blocked on it.
func (m *Machine) HandleOffer(sdp string) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}

	m.mu.Lock()
	switch m.state {
	case StateAcquiringMedia:
		m.heldOffer = &offer
		m.mu.Unlock()
		return
	case StateAwaitingOffer:
		m.mu.Unlock()
		m.applyOffer(offer)
	default:
		state := m.state
		m.mu.Unlock()
		log.Warn().Str("module", "peer.machine").Str("state", state.String()).Msg("unexpected offer, dropping")
	}
}

func (m *Machine) applyOffer(offer webrtc.SessionDescription) {
	m.mu.Lock()
	if m.state != StateAwaitingOffer {
		m.mu.Unlock()
		return
	}
	m.state = StateNegotiating
	room := m.roomID
	m.mu.Unlock()

	answer, err := m.link.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "peer.machine").Msg("apply offer")
		m.close(CloseNegotiationFailed)
		return
	}
	if err := m.signaler.SendAnswer(room, answer.SDP); err != nil {
		log.Warn().Err(err).Str("module", "peer.machine").Str("room", string(room)).Msg("send answer")
	}
	m.drainPending()
	m.notify(StateNegotiating, CloseNone)
}

// HandleAnswer reacts to a relayed answer; only meaningful while offering.
func (m *Machine) HandleAnswer(sdp string) {
	m.mu.Lock()
	if m.state != StateOffering {
		state := m.state
		m.mu.Unlock()
		log.Warn().Str("module", "peer.machine").Str("state", state.String()).Msg("unexpected answer, dropping")
		return
	}
	m.state = StateNegotiating
	m.mu.Unlock()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := m.link.ApplyAnswer(answer); err != nil {
		log.Error().Err(err).Str("module", "peer.machine").Msg("apply answer")
		m.close(CloseNegotiationFailed)
		return
	}
	m.drainPending()
	m.notify(StateNegotiating, CloseNone)
}

// HandleRemoteCandidate buffers candidates that arrive before the remote
// description and applies later ones immediately.
func (m *Machine) HandleRemoteCandidate(cand webrtc.ICECandidateInit) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	if !m.remoteSet {
		m.pending = append(m.pending, cand)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.link.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "peer.machine").Msg("add candidate")
	}
}

// drainPending marks the remote description as set and applies buffered
// candidates in arrival order.
func (m *Machine) drainPending() {
	m.mu.Lock()
	m.remoteSet = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, cand := range pending {
		if err := m.link.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "peer.machine").Msg("add buffered candidate")
		}
	}
}

func (m *Machine) handleConnected() {
	m.mu.Lock()
	if m.state != StateNegotiating {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	room := m.roomID
	m.mu.Unlock()
	m.notify(StateConnected, CloseNone)
	log.Info().Str("module", "peer.machine").Str("room", string(room)).Msg("connected")
}

// Teardown moves the machine to Closed from any state and releases the
// underlying connection. Idempotent.
func (m *Machine) Teardown(reason CloseReason) {
	m.close(reason)
}

func (m *Machine) close(reason CloseReason) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	m.reason = reason
	m.pending = nil
	m.heldOffer = nil
	m.mu.Unlock()

	m.link.Close()
	m.notify(StateClosed, reason)
}

func (m *Machine) notify(s State, r CloseReason) {
	if m.hook != nil {
		m.hook(s, r)
	}
}

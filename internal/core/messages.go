package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/avdeyev/roulette/internal/domain"
)

// Wire message types. The server parses only the envelope of the relayed
// kinds (offer, answer, ice-candidate, chat-message); their payloads are
// forwarded byte-for-byte to the other room member.
const (
	TypeWaiting      = "waiting"
	TypeRoomAssigned = "roomAssigned"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChatMessage  = "chat-message"
	TypeNext         = "next"
	TypeLeave        = "leave"
	TypeSessionEnded = "sessionEnded"
	TypeError        = "error"
	TypePing         = "ping"
	TypePong         = "pong"
)

// EndReason tells the surviving participant why its session ended.
type EndReason string

const (
	EndPeerNext         EndReason = "peer-next"
	EndPeerLeft         EndReason = "peer-left"
	EndPeerDisconnected EndReason = "peer-disconnected"
)

// Envelope is the minimal shape every frame must carry.
type Envelope struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId,omitempty"`
}

type WaitingPayload struct {
	Type     string          `json:"type"`
	ChatType domain.ChatType `json:"chatType"`
}

type NextPayload struct {
	Type     string          `json:"type"`
	ChatType domain.ChatType `json:"chatType"`
}

type RoomAssignedPayload struct {
	Type      string          `json:"type"`
	RoomID    domain.RoomID   `json:"roomId"`
	ChatType  domain.ChatType `json:"chatType"`
	Initiator bool            `json:"initiator"`
	// STUN/TURN URLs from server config, passed through opaquely.
	ICEServers []string `json:"iceServers,omitempty"`
}

type SessionEndedPayload struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Reason EndReason     `json:"reason"`
}

type ErrorPayload struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// DescriptionPayload carries an offer or answer SDP.
type DescriptionPayload struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	SDP    string        `json:"sdp"`
}

type CandidatePayload struct {
	Type      string                  `json:"type"`
	RoomID    domain.RoomID           `json:"roomId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type ChatMessagePayload struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Text   string        `json:"text"`
}

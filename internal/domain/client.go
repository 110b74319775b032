// Package domain contains entity without logic, just meta-data
package domain

import "errors"

var ErrUnknownChatType = errors.New("unknown chat type")

type ClientID string

// ChatType selects which waiting queue a client is matched on.
type ChatType string

const (
	ChatTypeVideo ChatType = "video"
	ChatTypeText  ChatType = "text"
)

func (t ChatType) Valid() bool {
	return t == ChatTypeVideo || t == ChatTypeText
}

// ClientState is the broker-side view of a client.
type ClientState int

const (
	ClientIdle ClientState = iota
	ClientWaiting
	ClientPaired
)

func (s ClientState) String() string {
	switch s {
	case ClientWaiting:
		return "waiting"
	case ClientPaired:
		return "paired"
	default:
		return "idle"
	}
}

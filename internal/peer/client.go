package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/roulette/internal/core"
	"github.com/avdeyev/roulette/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the websocket connection to the signaling server and
// implements SignalSender for the negotiation machine.
type Client struct {
	serverURL string
	token     string

	conn     *websocket.Conn
	incoming chan core.Frame
	outgoing chan core.Frame
	done     chan struct{}

	closeOnce sync.Once
}

func NewClient(serverURL, token string) *Client {
	return &Client{
		serverURL: serverURL,
		token:     token,
		incoming:  make(chan core.Frame, 16),
		outgoing:  make(chan core.Frame, 16),
		done:      make(chan struct{}),
	}
}

// Connect dials the server and starts the read/write pumps. The client
// token rides in a header so headless peers need no cookie round trip.
func (c *Client) Connect() error {
	header := http.Header{}
	header.Set("X-Client-Token", c.token)

	conn, _, err := websocket.DefaultDialer.Dial(c.serverURL, header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// Incoming yields raw frames from the server; closed when the connection
// drops.
func (c *Client) Incoming() <-chan core.Frame { return c.incoming }

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "peer.client").Msg("read pump done")
			return
		}
		select {
		case c.incoming <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn().Err(err).Str("module", "peer.client").Msg("write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- b:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	}
}

// SendWaiting asks the broker to queue this client.
func (c *Client) SendWaiting(ct domain.ChatType) error {
	return c.sendJSON(core.WaitingPayload{Type: core.TypeWaiting, ChatType: ct})
}

// SendNext tears down the current session and re-queues.
func (c *Client) SendNext(ct domain.ChatType) error {
	return c.sendJSON(core.NextPayload{Type: core.TypeNext, ChatType: ct})
}

// SendLeave tears down the current session without re-queueing.
func (c *Client) SendLeave() error {
	return c.sendJSON(core.Envelope{Type: core.TypeLeave})
}

func (c *Client) SendChat(roomID domain.RoomID, text string) error {
	return c.sendJSON(core.ChatMessagePayload{Type: core.TypeChatMessage, RoomID: roomID, Text: text})
}

// SendOffer implements SignalSender.
func (c *Client) SendOffer(roomID domain.RoomID, sdp string) error {
	return c.sendJSON(core.DescriptionPayload{Type: core.TypeOffer, RoomID: roomID, SDP: sdp})
}

// SendAnswer implements SignalSender.
func (c *Client) SendAnswer(roomID domain.RoomID, sdp string) error {
	return c.sendJSON(core.DescriptionPayload{Type: core.TypeAnswer, RoomID: roomID, SDP: sdp})
}

// SendCandidate implements SignalSender.
func (c *Client) SendCandidate(roomID domain.RoomID, cand webrtc.ICECandidateInit) error {
	return c.sendJSON(core.CandidatePayload{Type: core.TypeICECandidate, RoomID: roomID, Candidate: cand})
}

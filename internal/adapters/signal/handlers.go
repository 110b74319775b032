package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/avdeyev/roulette/internal/app"
	"github.com/avdeyev/roulette/internal/core"
	"github.com/avdeyev/roulette/internal/domain"
)

func (ctl *WSController) handleWaiting(cid domain.ClientID, c *wsConn, data []byte) {
	var p core.WaitingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad waiting payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if !p.ChatType.Valid() {
		ctl.sendError(c, "unknown chat type")
		return
	}
	if !ctl.Limiter.Allow(cid) {
		ctl.sendError(c, "too many queue requests")
		return
	}

	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("chat_type", string(p.ChatType)).Msg("waiting")
	if err := ctl.Life.Enqueue(cid, p.ChatType); err != nil {
		if errors.Is(err, app.ErrDuplicateEnqueue) {
			ctl.sendError(c, "already waiting or paired")
			return
		}
		ctl.sendError(c, err.Error())
	}
}

func (ctl *WSController) handleNext(cid domain.ClientID, c *wsConn, data []byte) {
	var p core.NextPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad next payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if !p.ChatType.Valid() {
		ctl.sendError(c, "unknown chat type")
		return
	}
	if !ctl.Limiter.Allow(cid) {
		ctl.sendError(c, "too many queue requests")
		return
	}

	log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("next")
	if err := ctl.Life.Next(cid, p.ChatType); err != nil {
		ctl.sendError(c, err.Error())
	}
}

func (ctl *WSController) handleLeave(cid domain.ClientID) {
	log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("leave")
	ctl.Life.Leave(cid)
}

// handleRelay forwards offer/answer/ice-candidate/chat-message frames
// verbatim. A rejection is reported to the sender and never tears anything
// down.
func (ctl *WSController) handleRelay(cid domain.ClientID, c *wsConn, env core.Envelope, data []byte) {
	err := ctl.Relay.Deliver(app.SignalMessage{
		RoomID:   env.RoomID,
		Kind:     env.Type,
		SenderID: cid,
		Raw:      data,
	})
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("module", "signal").
		Str("cid", string(cid)).
		Str("room", string(env.RoomID)).
		Str("kind", env.Type).
		Msg("relay rejected")
	switch {
	case errors.Is(err, app.ErrRoomNotFound):
		ctl.sendError(c, "room not found")
	case errors.Is(err, app.ErrNotAParticipant):
		ctl.sendError(c, "not a participant")
	default:
		ctl.sendError(c, err.Error())
	}
}

func (ctl *WSController) handlePing(c *wsConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: core.TypePong,
	}
	ctl.sendJSON(c, resp)
}

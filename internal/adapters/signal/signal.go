package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/roulette/internal/app"
	"github.com/avdeyev/roulette/internal/core"
	"github.com/avdeyev/roulette/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// WSController owns the websocket endpoint: one shared instance serves all
// clients and doubles as the lifecycle's Notifier.
type WSController struct {
	Life       *app.SessionLifecycle
	Relay      *app.SignalingRelay
	Limiter    *QueueRateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
	ICEServers []string
}

func NewWSController(life *app.SessionLifecycle, relay *app.SignalingRelay, limiter *QueueRateLimiter, readLimit int64, pingPeriod time.Duration, iceServers []string) *WSController {
	return &WSController{
		Life:       life,
		Relay:      relay,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		ICEServers: iceServers,
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds the client's transport
// channel. The client id comes from the token middleware.
func (ctl *WSController) HandleSignal(ctx context.Context, c *gin.Context) {
	cid := domain.ClientID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Life.Registry.Bind(cid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cid, conn)
}

// RoomAssigned implements app.Notifier.
func (ctl *WSController) RoomAssigned(cid domain.ClientID, room *domain.Room, initiator bool) {
	conn, ok := ctl.Life.Registry.Get(cid)
	if !ok {
		log.Warn().Str("module", "signal").Str("cid", string(cid)).Msg("roomAssigned: no live connection")
		return
	}
	ctl.sendJSON(conn, core.RoomAssignedPayload{
		Type:       core.TypeRoomAssigned,
		RoomID:     room.ID,
		ChatType:   room.ChatType,
		Initiator:  initiator,
		ICEServers: ctl.ICEServers,
	})
}

// SessionEnded implements app.Notifier.
func (ctl *WSController) SessionEnded(cid domain.ClientID, roomID domain.RoomID, reason core.EndReason) {
	conn, ok := ctl.Life.Registry.Get(cid)
	if !ok {
		return
	}
	ctl.sendJSON(conn, core.SessionEndedPayload{
		Type:   core.TypeSessionEnded,
		RoomID: roomID,
		Reason: reason,
	})
}

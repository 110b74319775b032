package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/avdeyev/roulette/internal/app"
	"github.com/avdeyev/roulette/internal/core"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.RoomBroker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broker := app.NewRoomBroker()
	registry := app.NewRegistry()
	relay := app.NewSignalingRelay(broker, registry)
	life := &app.SessionLifecycle{Broker: broker, Registry: registry}
	limiter := NewQueueRateLimiter(100, time.Minute)
	ctl := NewWSController(life, relay, limiter, 64*1024, time.Minute, []string{"stun:stun.example.org:3478"})
	life.Notifier = ctl

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.GetHeader("X-Client-Token"))
		ctl.HandleSignal(context.Background(), c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, broker
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("X-Client-Token", token)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", token, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func sendFrame(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitingFrame(chatType string) []byte {
	return []byte(`{"type":"waiting","chatType":"` + chatType + `"}`)
}

// Pairs two clients over the wire and returns their roomAssigned payloads.
func pairTwo(t *testing.T, alice, bob *websocket.Conn) (pa, pb core.RoomAssignedPayload) {
	t.Helper()
	sendFrame(t, alice, waitingFrame("video"))
	sendFrame(t, bob, waitingFrame("video"))
	if err := json.Unmarshal(readFrame(t, alice), &pa); err != nil {
		t.Fatalf("alice roomAssigned: %v", err)
	}
	if err := json.Unmarshal(readFrame(t, bob), &pb); err != nil {
		t.Fatalf("bob roomAssigned: %v", err)
	}
	return pa, pb
}

func TestPairingHandshakeOverWire(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialWS(t, srv, "alice")
	bob := dialWS(t, srv, "bob")

	pa, pb := pairTwo(t, alice, bob)

	if pa.Type != core.TypeRoomAssigned || pb.Type != core.TypeRoomAssigned {
		t.Fatalf("types = %q/%q, want roomAssigned", pa.Type, pb.Type)
	}
	if pa.RoomID == "" || pa.RoomID != pb.RoomID {
		t.Errorf("room ids = %q/%q, want one shared id", pa.RoomID, pb.RoomID)
	}
	if pa.Initiator == pb.Initiator {
		t.Error("exactly one participant must be the initiator")
	}
	want := []string{"stun:stun.example.org:3478"}
	if len(pa.ICEServers) != 1 || pa.ICEServers[0] != want[0] {
		t.Errorf("iceServers = %v, want %v", pa.ICEServers, want)
	}
}

func TestOfferForwardedVerbatim(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialWS(t, srv, "alice")
	bob := dialWS(t, srv, "bob")
	pa, _ := pairTwo(t, alice, bob)

	// Field order and unknown fields must survive the relay untouched.
	raw := []byte(`{"sdp":"v=0 offer-sdp","type":"offer","roomId":"` + string(pa.RoomID) + `","x-extra":42}`)
	sendFrame(t, alice, raw)

	if got := readFrame(t, bob); !bytes.Equal(got, raw) {
		t.Errorf("forwarded frame = %s, want the sender's exact bytes %s", got, raw)
	}
}

func TestRelayToUnknownRoomReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialWS(t, srv, "alice")
	bob := dialWS(t, srv, "bob")
	pairTwo(t, alice, bob)

	sendFrame(t, alice, []byte(`{"type":"offer","roomId":"no-such-room","sdp":"v=0"}`))

	var p core.ErrorPayload
	if err := json.Unmarshal(readFrame(t, alice), &p); err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if p.Type != core.TypeError || p.Error != "room not found" {
		t.Errorf("got %+v, want error/room not found", p)
	}
}

func TestDuplicateWaitingRejectedOverWire(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialWS(t, srv, "alice")

	sendFrame(t, alice, waitingFrame("text"))
	sendFrame(t, alice, waitingFrame("text"))

	var p core.ErrorPayload
	if err := json.Unmarshal(readFrame(t, alice), &p); err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if p.Type != core.TypeError || p.Error != "already waiting or paired" {
		t.Errorf("got %+v, want already waiting or paired", p)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialWS(t, srv, "alice")
	roundTripPing(t, alice)
}

func roundTripPing(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendFrame(t, conn, []byte(`{"type":"ping"}`))
	var env core.Envelope
	if err := json.Unmarshal(readFrame(t, conn), &env); err != nil {
		t.Fatalf("pong frame: %v", err)
	}
	if env.Type != core.TypePong {
		t.Fatalf("type = %q, want pong", env.Type)
	}
}

// A same-token reconnect supersedes the old channel; the old channel's death
// must leave the new channel's queue slot and binding intact.
func TestReconnectSupersedesWithoutStateLoss(t *testing.T) {
	srv, broker := newTestServer(t)

	// A pong proves the channel's pumps are running, so its binding is in
	// place before the same token dials again.
	first := dialWS(t, srv, "alice")
	roundTripPing(t, first)
	second := dialWS(t, srv, "alice")
	roundTripPing(t, second)

	sendFrame(t, second, waitingFrame("video"))
	waitFor(t, func() bool { return broker.IsWaiting("alice") })

	first.Close()

	// The stale channel's cleanup must not dequeue the live one. There is
	// no event to observe on a no-op, so give the pumps a moment first.
	time.Sleep(200 * time.Millisecond)
	if !broker.IsWaiting("alice") {
		t.Fatal("queue slot lost to the superseded channel's cleanup")
	}

	// The new channel still works end to end.
	bob := dialWS(t, srv, "bob")
	sendFrame(t, bob, waitingFrame("video"))

	var p core.RoomAssignedPayload
	if err := json.Unmarshal(readFrame(t, second), &p); err != nil {
		t.Fatalf("roomAssigned on reconnected channel: %v", err)
	}
	if p.Type != core.TypeRoomAssigned {
		t.Fatalf("type = %q, want roomAssigned", p.Type)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

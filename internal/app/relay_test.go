package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/avdeyev/roulette/internal/core"
	"github.com/avdeyev/roulette/internal/domain"
)

// fakeConn records frames delivered to a client.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) received() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func pairedRelay(t *testing.T) (*SignalingRelay, *RoomBroker, *domain.Room, *fakeConn, *fakeConn) {
	t.Helper()
	broker := NewRoomBroker()
	registry := NewRegistry()

	connA, connB := &fakeConn{}, &fakeConn{}
	registry.Bind("A", connA, nil)
	registry.Bind("B", connB, nil)

	broker.Enqueue("A", domain.ChatTypeVideo)
	p, _ := broker.Enqueue("B", domain.ChatTypeVideo)
	if p == nil {
		t.Fatal("expected pairing")
	}
	return NewSignalingRelay(broker, registry), broker, p.Room, connA, connB
}

func TestDeliverForwardsVerbatim(t *testing.T) {
	relay, _, room, connA, connB := pairedRelay(t)

	raw := core.Frame(`{"type":"offer","roomId":"` + string(room.ID) + `","sdp":"sdp1"}`)
	err := relay.Deliver(SignalMessage{RoomID: room.ID, Kind: "offer", SenderID: "A", Raw: raw})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	got := connB.received()
	if len(got) != 1 || string(got[0]) != string(raw) {
		t.Fatalf("B received %q, want the exact sender bytes", got)
	}
	if len(connA.received()) != 0 {
		t.Error("sender must not receive its own frame")
	}
}

func TestDeliverRejectsUnknownRoom(t *testing.T) {
	relay, _, _, _, connB := pairedRelay(t)

	err := relay.Deliver(SignalMessage{RoomID: "nope", Kind: "offer", SenderID: "A", Raw: core.Frame(`{}`)})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}
	if len(connB.received()) != 0 {
		t.Error("nothing should be forwarded on rejection")
	}
}

func TestDeliverRejectsNonParticipant(t *testing.T) {
	relay, _, room, connA, connB := pairedRelay(t)

	err := relay.Deliver(SignalMessage{RoomID: room.ID, Kind: "offer", SenderID: "C", Raw: core.Frame(`{}`)})
	if !errors.Is(err, ErrNotAParticipant) {
		t.Errorf("err = %v, want ErrNotAParticipant", err)
	}
	if len(connA.received()) != 0 || len(connB.received()) != 0 {
		t.Error("nothing should be forwarded on rejection")
	}
}

func TestDeliverDropsOnBackpressure(t *testing.T) {
	relay, _, room, _, connB := pairedRelay(t)
	connB.fail = true

	// A slow peer costs the frame, not the session.
	err := relay.Deliver(SignalMessage{RoomID: room.ID, Kind: "ice-candidate", SenderID: "A", Raw: core.Frame(`{}`)})
	if err != nil {
		t.Errorf("backpressure should not surface as a delivery error, got %v", err)
	}
}

func TestDeliverAfterTeardownReturnsRoomNotFound(t *testing.T) {
	relay, broker, room, _, _ := pairedRelay(t)

	if _, ok := broker.CloseRoomOf("A"); !ok {
		t.Fatal("close failed")
	}
	err := relay.Deliver(SignalMessage{RoomID: room.ID, Kind: "answer", SenderID: "B", Raw: core.Frame(`{}`)})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound after teardown", err)
	}
}

package app

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/roulette/internal/domain"
)

// ErrDuplicateEnqueue is returned when a client that is already waiting or
// already paired asks to be queued again.
var ErrDuplicateEnqueue = errors.New("client already waiting or paired")

// Pairing is the result of an Enqueue call that completed a match.
type Pairing struct {
	Room *domain.Room
}

// RoomBroker owns the per-type waiting queues and the active room table.
// A single mutex guards all of it: pairing, dequeue-for-leave and room
// teardown never interleave, so a half-built room is never observable.
type RoomBroker struct {
	mu       sync.Mutex
	queues   map[domain.ChatType][]domain.ClientID
	waiting  map[domain.ClientID]domain.ChatType
	rooms    map[domain.RoomID]*domain.Room
	byClient map[domain.ClientID]domain.RoomID
}

func NewRoomBroker() *RoomBroker {
	return &RoomBroker{
		queues:   make(map[domain.ChatType][]domain.ClientID),
		waiting:  make(map[domain.ClientID]domain.ChatType),
		rooms:    make(map[domain.RoomID]*domain.Room),
		byClient: make(map[domain.ClientID]domain.RoomID),
	}
}

// Enqueue appends the client to its chat type queue. When the queue holds
// two or more entries the two oldest are paired into a fresh room under the
// same lock, FIFO. The first of the pair to have enqueued becomes the
// initiator (Participants[0]).
func (b *RoomBroker) Enqueue(cid domain.ClientID, ct domain.ChatType) (*Pairing, error) {
	if !ct.Valid() {
		return nil, domain.ErrUnknownChatType
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.waiting[cid]; ok {
		return nil, ErrDuplicateEnqueue
	}
	if _, ok := b.byClient[cid]; ok {
		return nil, ErrDuplicateEnqueue
	}

	q := append(b.queues[ct], cid)
	if len(q) < 2 {
		b.queues[ct] = q
		b.waiting[cid] = ct
		log.Info().Str("module", "app.broker").Str("cid", string(cid)).Str("chat_type", string(ct)).Msg("client waiting")
		return nil, nil
	}

	first, second := q[0], q[1]
	b.queues[ct] = q[2:]
	delete(b.waiting, first)
	delete(b.waiting, second)

	room := &domain.Room{
		ID:           domain.RoomID(uuid.NewString()),
		ChatType:     ct,
		Participants: [2]domain.ClientID{first, second},
		CreatedAt:    time.Now(),
	}
	b.rooms[room.ID] = room
	b.byClient[first] = room.ID
	b.byClient[second] = room.ID

	log.Info().Str("module", "app.broker").
		Str("room", string(room.ID)).
		Str("chat_type", string(ct)).
		Str("initiator", string(first)).
		Str("peer", string(second)).
		Msg("paired")
	return &Pairing{Room: room}, nil
}

// Dequeue removes the client from its waiting queue, if it is in one.
// Reports whether anything was removed.
func (b *RoomBroker) Dequeue(cid domain.ClientID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ct, ok := b.waiting[cid]
	if !ok {
		return false
	}
	delete(b.waiting, cid)
	q := b.queues[ct]
	for i, id := range q {
		if id == cid {
			b.queues[ct] = append(q[:i], q[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "app.broker").Str("cid", string(cid)).Msg("dequeued")
	return true
}

func (b *RoomBroker) IsWaiting(cid domain.ClientID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.waiting[cid]
	return ok
}

// StateOf reports the broker-side view of the client.
func (b *RoomBroker) StateOf(cid domain.ClientID) domain.ClientState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.waiting[cid]; ok {
		return domain.ClientWaiting
	}
	if _, ok := b.byClient[cid]; ok {
		return domain.ClientPaired
	}
	return domain.ClientIdle
}

func (b *RoomBroker) Room(id domain.RoomID) (*domain.Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms[id]
	return room, ok
}

func (b *RoomBroker) RoomOf(cid domain.ClientID) (*domain.Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byClient[cid]
	if !ok {
		return nil, false
	}
	return b.rooms[id], true
}

// CloseRoomOf removes the client's room from the table and unbinds both
// participants. Any later Deliver against the room id fails with
// ErrRoomNotFound; that is what makes teardown atomic with re-pairing
// eligibility.
func (b *RoomBroker) CloseRoomOf(cid domain.ClientID) (*domain.Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.byClient[cid]
	if !ok {
		return nil, false
	}
	room := b.rooms[id]
	delete(b.rooms, id)
	delete(b.byClient, room.Participants[0])
	delete(b.byClient, room.Participants[1])
	log.Info().Str("module", "app.broker").Str("room", string(id)).Msg("room closed")
	return room, true
}

// BrokerStats is a read-only snapshot for the stats endpoint.
type BrokerStats struct {
	VideoWaiting int `json:"video_waiting"`
	TextWaiting  int `json:"text_waiting"`
	ActiveRooms  int `json:"active_rooms"`
}

func (b *RoomBroker) Stats() BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BrokerStats{
		VideoWaiting: len(b.queues[domain.ChatTypeVideo]),
		TextWaiting:  len(b.queues[domain.ChatTypeText]),
		ActiveRooms:  len(b.rooms),
	}
}

package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avdeyev/roulette/internal/core"
	"github.com/avdeyev/roulette/internal/domain"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps connected clients to their live transport channels so the
// broker and lifecycle can reach the other participant of a room.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ClientID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ClientID]*connEntry)}
}

func (r *Registry) Bind(cid domain.ClientID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[cid]; ok && old.Cancel != nil {
		// A reconnect with the same token supersedes the old channel.
		old.Cancel()
	}
	r.conns[cid] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("bound connection")
}

func (r *Registry) Get(cid domain.ClientID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// UnbindIf removes the binding only while conn still owns it. A channel that
// was superseded by a same-token reconnect gets false and must not touch the
// client's state.
func (r *Registry) UnbindIf(cid domain.ClientID, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("unbound connection")
	return true
}

func (r *Registry) Cancel(cid domain.ClientID) bool {
	r.mu.RLock()
	e, ok := r.conns[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

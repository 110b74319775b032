package signal

import (
	"sync"
	"time"

	"github.com/avdeyev/roulette/internal/domain"
)

// QueueRateLimiter bounds how often a single client may enter the waiting
// queue ("waiting" and "next" both count). Sliding window per client.
type QueueRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ClientID][]time.Time
	limit    int
	interval time.Duration
}

func NewQueueRateLimiter(limit int, interval time.Duration) *QueueRateLimiter {
	return &QueueRateLimiter{
		history:  make(map[domain.ClientID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *QueueRateLimiter) Allow(cid domain.ClientID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[cid]

	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[cid] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[cid] = fresh
	return true
}

// Forget drops the client's history, e.g. on disconnect.
func (rl *QueueRateLimiter) Forget(cid domain.ClientID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, cid)
}

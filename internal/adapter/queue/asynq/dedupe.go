package asynqadp

import (
	"context"
	"sync"
	"time"
)

// DedupeGuard suppresses duplicate enqueues of bucketed jobs. Keys live for a
// TTL (one bucket plus slack) and are swept every minute. Single-owner state
// behind one mutex.
type DedupeGuard struct {
	mu   sync.Mutex
	keys map[string]time.Time // key -> expiry
	now  func() time.Time
}

// NewDedupeGuard constructs an empty guard.
func NewDedupeGuard() *DedupeGuard {
	return &DedupeGuard{
		keys: make(map[string]time.Time),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test hook.
func (g *DedupeGuard) WithClock(now func() time.Time) *DedupeGuard {
	g.now = now
	return g
}

// Acquire claims key for ttl. Returns false when the key is already live.
func (g *DedupeGuard) Acquire(key string, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if exp, ok := g.keys[key]; ok && exp.After(now) {
		return false
	}
	g.keys[key] = now.Add(ttl)
	return true
}

// Len reports the number of live keys (expired keys may linger until sweep).
func (g *DedupeGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

// Sweep drops expired keys once.
func (g *DedupeGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	removed := 0
	for k, exp := range g.keys {
		if !exp.After(now) {
			delete(g.keys, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until the context is cancelled.
func (g *DedupeGuard) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

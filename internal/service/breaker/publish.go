package breaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// CacheKey is where a breaker's snapshot lives in the shared cache. The
// worker process publishes under it; the scheduler process gates on it.
func CacheKey(name string) string { return "breaker:" + name }

// Publish writes the current snapshot to the shared cache.
func (cb *CircuitBreaker) Publish(ctx domain.Context, cache domain.Cache, ttl time.Duration) error {
	return cache.Set(ctx, CacheKey(cb.name), cb.Snapshot(), ttl)
}

// PublishLoop republishes the snapshot on an interval until the context
// ends. The TTL of twice the interval lets a crashed publisher age out of
// the cache instead of pinning the last state forever.
func (cb *CircuitBreaker) PublishLoop(ctx domain.Context, cache domain.Cache, interval time.Duration) {
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
			if err := cb.Publish(ctx, cache, 2*interval); err != nil {
				slog.Warn("breaker snapshot publish failed",
					slog.String("breaker", cb.name), slog.Any("error", err))
			}
		}
	}
}

// CachedGate refuses scheduler ticks while the published snapshot reports an
// open circuit. A missing or unreadable snapshot fails open so fetches keep
// flowing when the worker has not published yet.
func CachedGate(cache domain.Cache, name string) func() (bool, string) {
	return func() (bool, string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var snap Snapshot
		found, err := cache.Get(ctx, CacheKey(name), &snap)
		if err != nil {
			slog.Warn("breaker snapshot read failed",
				slog.String("breaker", name), slog.Any("error", err))
			return true, ""
		}
		if found && snap.State == Open.String() {
			return false, "skipped: breaker-open"
		}
		return true, ""
	}
}

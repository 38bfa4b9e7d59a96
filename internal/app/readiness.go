// Package app carries process-level helpers shared by the server and
// worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/repo/postgres"
)

// Readiness verifies the process can reach its backing services.
type Readiness struct {
	Pool  postgres.PgxPool
	Redis redis.UniversalClient
}

// Check pings the database and Redis with a short deadline. A nil
// dependency is skipped so the worker and server can share the type.
func (r Readiness) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if r.Pool != nil {
		if _, err := r.Pool.Exec(ctx, "SELECT 1"); err != nil {
			return fmt.Errorf("op=readiness.postgres: %w", err)
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("op=readiness.redis: %w", err)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
)

// Healthcheck pings the pool, for liveness/readiness probes.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("metastore/postgres: health check failed: %w", err)
	}
	return nil
}

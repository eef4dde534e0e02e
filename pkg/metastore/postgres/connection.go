package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// createConnectionPool mirrors pkg/metadata/store/postgres/connection.go:
// apply defaults, validate, build a pgxpool.Config from the DSN, and ping
// once before returning.
func createConnectionPool(ctx context.Context, cfg *Config, log *slog.Logger) (*pgxpool.Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	if cfg.QueryTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%dms", cfg.QueryTimeout.Milliseconds())
	}

	log.Info("creating postgres connection pool",
		"host", cfg.Host, "port", cfg.Port, "database", cfg.Database,
		"max_conns", cfg.MaxConns, "min_conns", cfg.MinConns, "ssl_mode", cfg.SSLMode)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info("postgres connection pool created")
	return pool, nil
}

func closeConnectionPool(pool *pgxpool.Pool, log *slog.Logger) {
	if pool == nil {
		return
	}
	log.Info("closing postgres connection pool")
	pool.Close()
}

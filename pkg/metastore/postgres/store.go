// Package postgres is the PostgreSQL-backed metastore.Store, grounded on
// pkg/metadata/store/postgres/{store.go,connection.go,transaction.go,crud.go}.
// A three-level File/Directory/Share schema collapses here to a
// two-level Upload/Chunk model (plus an idempotency_keys table), but the
// connection pool setup, retryable-transaction helper, and
// CAS-via-conditional-UPDATE idiom are carried over unchanged.
package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulfs/haulfs/pkg/idempotency"
	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/upload"
)

// Store is a PostgreSQL-backed metastore.Store.
type Store struct {
	pool   *pgxpool.Pool
	config *Config
	logger *slog.Logger
}

// New opens a connection pool, optionally runs migrations, and returns a
// ready Store.
func New(ctx context.Context, cfg *Config, log *slog.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	log = log.With("component", "postgres_metastore")

	pool, err := createConnectionPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, cfg.ConnectionString(), log); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &Store{pool: pool, config: cfg, logger: log}, nil
}

func (s *Store) Close() error {
	closeConnectionPool(s.pool, s.logger)
	return nil
}

func (s *Store) ListAgedUploads(ctx context.Context, statuses []upload.Status, olderThan time.Time, limit int) ([]*upload.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}

	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}

	const query = `
		SELECT id, owner, file_name, size_bytes, chunk_size_bytes, total_chunks,
		       file_checksum_sha256, status, multipart_handle, created_at, updated_at
		FROM uploads
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, statusStrs, olderThan, limit)
	if err != nil {
		return nil, mapPgError(err, "ListAgedUploads")
	}
	defer rows.Close()

	var out []*upload.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListExpiredIdempotencyKeys(ctx context.Context, now time.Time, limit int) ([]idempotency.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	const query = `
		SELECT kind, key, fingerprint, result, created_at, ttl_seconds
		FROM idempotency_keys
		WHERE created_at + (ttl_seconds * interval '1 second') < $1
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, mapPgError(err, "ListExpiredIdempotencyKeys")
	}
	defer rows.Close()

	var out []idempotency.Record
	for rows.Next() {
		rec, err := scanIdempotencyRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteIdempotencyKey(ctx context.Context, kind idempotency.Kind, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE kind = $1 AND key = $2`, string(kind), key)
	if err != nil {
		return mapPgError(err, "DeleteIdempotencyKey")
	}
	return nil
}

var _ metastore.Store = (*Store)(nil)

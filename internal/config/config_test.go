package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haulfs/haulfs/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
storage:
  backend: memory
queue:
  backend: memory
limiter:
  max_global_inflight: 100
  max_inflight_per_upload: 10
worker:
  initial_count: 2
  max_retries: 3
  queue_task_timeout: 10s
upload:
  default_chunk_size_bytes: 8388608
  max_chunk_size_bytes: 67108864
  idempotency_ttl: 24h
maintenance:
  stale_upload_ttl: 24h
auth:
  jwt_signing_key: test-signing-key
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, "disable", cfg.Database.SSLMode)
	require.Equal(t, int32(10), cfg.Database.MaxConns)
	require.EqualValues(t, 8<<20, cfg.Upload.DefaultChunkSizeBytes)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
storage:
  backend: memory
queue:
  backend: memory
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRequiresPostgresFieldsWhenSelected(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
storage:
  backend: memory
queue:
  backend: memory
limiter:
  max_global_inflight: 100
  max_inflight_per_upload: 10
worker:
  initial_count: 2
  max_retries: 3
  queue_task_timeout: 10s
upload:
  default_chunk_size_bytes: 8388608
  max_chunk_size_bytes: 67108864
  idempotency_ttl: 24h
maintenance:
  stale_upload_ttl: 24h
auth:
  jwt_signing_key: test-signing-key
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

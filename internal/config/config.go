// Package config loads the server's static configuration: viper for
// file/env/flag layering, mapstructure decode hooks for duration
// parsing, go-playground/validator for struct-tag validation, and a
// separate ApplyDefaults pass run before validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the root configuration for the haulfsd server.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Limiter     LimiterConfig     `mapstructure:"limiter"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Autoscaler  AutoscalerConfig  `mapstructure:"autoscaler"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

// LoggingConfig controls internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// TelemetryConfig controls OpenTelemetry tracing export and Pyroscope
// continuous profiling.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1"`

	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// ProfilingConfig controls continuous profiling export.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Endpoint     string   `mapstructure:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types"`
}

// ServerConfig controls the HTTP listener and graceful shutdown.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
}

// DatabaseConfig configures the metastore backend.
type DatabaseConfig struct {
	// Driver selects the metastore implementation: "memory" or "postgres".
	Driver string `mapstructure:"driver" validate:"required,oneof=memory postgres"`

	Host     string `mapstructure:"host" validate:"required_if=Driver postgres"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database" validate:"required_if=Driver postgres"`
	User     string `mapstructure:"user" validate:"required_if=Driver postgres"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`

	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	AutoMigrate bool          `mapstructure:"auto_migrate"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// StorageConfig configures the blobstore backend.
type StorageConfig struct {
	// Backend selects the blobstore implementation: "memory", "fs", or "s3".
	Backend string `mapstructure:"backend" validate:"required,oneof=memory fs s3"`

	FSBasePath string `mapstructure:"fs_base_path" validate:"required_if=Backend fs"`

	S3Bucket string `mapstructure:"s3_bucket" validate:"required_if=Backend s3"`
	S3Prefix string `mapstructure:"s3_prefix"`
	S3Region string `mapstructure:"s3_region"`
}

// QueueConfig configures the durable task queue.
type QueueConfig struct {
	// Backend selects the queue implementation: "memory", "redis", or "sqs".
	Backend string `mapstructure:"backend" validate:"required,oneof=memory redis sqs"`

	MaxSize int `mapstructure:"max_size"`

	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisKey  string `mapstructure:"redis_key"`

	SQSQueueURL          string        `mapstructure:"sqs_queue_url" validate:"required_if=Backend sqs"`
	SQSVisibilityTimeout time.Duration `mapstructure:"sqs_visibility_timeout"`
}

// LimiterConfig configures the three-tier admission controller.
type LimiterConfig struct {
	MaxGlobalInflight    int `mapstructure:"max_global_inflight" validate:"required,gt=0"`
	MaxInflightPerUpload int `mapstructure:"max_inflight_per_upload" validate:"required,gt=0"`
	MaxFairShareInflight int `mapstructure:"max_fair_share_inflight"`
}

// WorkerConfig configures the chunk-write worker pool.
type WorkerConfig struct {
	InitialCount     int           `mapstructure:"initial_count" validate:"required,gt=0"`
	MaxRetries       int32         `mapstructure:"max_retries" validate:"required,gt=0"`
	QueueTaskTimeout time.Duration `mapstructure:"queue_task_timeout" validate:"required,gt=0"`
	StagingDir       string        `mapstructure:"staging_dir"`
}

// AutoscalerConfig configures the worker pool autoscaler.
type AutoscalerConfig struct {
	Enabled                       bool          `mapstructure:"enabled"`
	TickInterval                  time.Duration `mapstructure:"tick_interval"`
	MinWorkers                    int           `mapstructure:"min_workers"`
	MaxWorkers                    int           `mapstructure:"max_workers"`
	Step                          int           `mapstructure:"step"`
	ScaleUpQueueThreshold         int           `mapstructure:"scale_up_queue_threshold"`
	ScaleUpUtilizationThreshold   float64       `mapstructure:"scale_up_utilization_threshold"`
	ScaleDownUtilizationThreshold float64       `mapstructure:"scale_down_utilization_threshold"`
	CooldownSeconds               time.Duration `mapstructure:"cooldown"`
}

// MaintenanceConfig configures the periodic cleanup sweep.
type MaintenanceConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	StaleUploadTTL      time.Duration `mapstructure:"stale_upload_ttl" validate:"required,gt=0"`
	IdempotencyGCBatch  int           `mapstructure:"idempotency_gc_batch"`
	StaleUploadBatch    int           `mapstructure:"stale_upload_batch"`
	ScanOrphanBlobs     bool          `mapstructure:"scan_orphan_blobs"`
	OrphanScanDryRun    bool          `mapstructure:"orphan_scan_dry_run"`
	OrphanScanMaxPerRun int           `mapstructure:"orphan_scan_max_per_run"`
}

// UploadConfig configures upload-level defaults.
type UploadConfig struct {
	DefaultChunkSizeBytes int64         `mapstructure:"default_chunk_size_bytes" validate:"required,gt=0"`
	MaxChunkSizeBytes     int64         `mapstructure:"max_chunk_size_bytes" validate:"required,gt=0"`
	IdempotencyTTL        time.Duration `mapstructure:"idempotency_ttl" validate:"required,gt=0"`
}

// AuthConfig configures the bearer-token authenticator.
type AuthConfig struct {
	// JWTSigningKey verifies bearer tokens on every endpoint except
	// /health, /health/ready, /metrics, /version and /.
	JWTSigningKey string `mapstructure:"jwt_signing_key" validate:"required"`
	AdminPrincipals []string `mapstructure:"admin_principals"`
}

// Load reads configuration from configPath (if non-empty), environment
// variables prefixed HAULFS_, and defaults, in that precedence order
// (lowest to highest: defaults, file, env).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HAULFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			found = false
		} else if os.IsNotExist(err) {
			found = false
		} else {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{}
	ApplyDefaults(cfg)
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.Profiling.Endpoint == "" {
		cfg.Telemetry.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		cfg.Telemetry.Profiling.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects"}
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = 2
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}

	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.MaxSize == 0 {
		cfg.Queue.MaxSize = 1000
	}
	if cfg.Queue.RedisKey == "" {
		cfg.Queue.RedisKey = "haulfs:chunk-tasks"
	}
	if cfg.Queue.SQSVisibilityTimeout == 0 {
		cfg.Queue.SQSVisibilityTimeout = 5 * time.Minute
	}

	if cfg.Limiter.MaxGlobalInflight == 0 {
		cfg.Limiter.MaxGlobalInflight = 64
	}
	if cfg.Limiter.MaxInflightPerUpload == 0 {
		cfg.Limiter.MaxInflightPerUpload = 8
	}

	if cfg.Worker.InitialCount == 0 {
		cfg.Worker.InitialCount = 4
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.QueueTaskTimeout == 0 {
		cfg.Worker.QueueTaskTimeout = 30 * time.Second
	}
	if cfg.Worker.StagingDir == "" {
		cfg.Worker.StagingDir = os.TempDir()
	}

	if cfg.Autoscaler.TickInterval == 0 {
		cfg.Autoscaler.TickInterval = 5 * time.Second
	}
	if cfg.Autoscaler.MinWorkers == 0 {
		cfg.Autoscaler.MinWorkers = 1
	}
	if cfg.Autoscaler.MaxWorkers == 0 {
		cfg.Autoscaler.MaxWorkers = 16
	}
	if cfg.Autoscaler.Step == 0 {
		cfg.Autoscaler.Step = 1
	}
	if cfg.Autoscaler.ScaleUpQueueThreshold == 0 {
		cfg.Autoscaler.ScaleUpQueueThreshold = 10
	}
	if cfg.Autoscaler.ScaleUpUtilizationThreshold == 0 {
		cfg.Autoscaler.ScaleUpUtilizationThreshold = 0.8
	}
	if cfg.Autoscaler.ScaleDownUtilizationThreshold == 0 {
		cfg.Autoscaler.ScaleDownUtilizationThreshold = 0.2
	}
	if cfg.Autoscaler.CooldownSeconds == 0 {
		cfg.Autoscaler.CooldownSeconds = 30 * time.Second
	}

	if cfg.Maintenance.TickInterval == 0 {
		cfg.Maintenance.TickInterval = time.Minute
	}
	if cfg.Maintenance.StaleUploadTTL == 0 {
		cfg.Maintenance.StaleUploadTTL = 24 * time.Hour
	}
	if cfg.Maintenance.IdempotencyGCBatch == 0 {
		cfg.Maintenance.IdempotencyGCBatch = 500
	}
	if cfg.Maintenance.StaleUploadBatch == 0 {
		cfg.Maintenance.StaleUploadBatch = 100
	}
	if cfg.Maintenance.OrphanScanMaxPerRun == 0 {
		cfg.Maintenance.OrphanScanMaxPerRun = 10000
	}

	if cfg.Upload.DefaultChunkSizeBytes == 0 {
		cfg.Upload.DefaultChunkSizeBytes = 8 << 20
	}
	if cfg.Upload.MaxChunkSizeBytes == 0 {
		cfg.Upload.MaxChunkSizeBytes = 64 << 20
	}
	if cfg.Upload.IdempotencyTTL == 0 {
		cfg.Upload.IdempotencyTTL = 24 * time.Hour
	}
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "haulfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "haulfs")
}

// Package config loads service configuration from SESSIONS_* environment
// variables, optionally layered over a TOML file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Store backends.
const (
	StoreDynamo   = "dynamo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is read from SESSIONS_CONFIG_FILE (when set) and then from the
// environment; a non-empty environment variable wins over the file.
type Config struct {
	Store string `toml:"store"` // SESSIONS_STORE (default "dynamo")

	DynamoTable    string `toml:"dynamo_table"`    // SESSIONS_DYNAMO_TABLE (default "sessions")
	DynamoRegion   string `toml:"dynamo_region"`   // SESSIONS_DYNAMO_REGION (default "us-east-1")
	DynamoEndpoint string `toml:"dynamo_endpoint"` // SESSIONS_DYNAMO_ENDPOINT (custom endpoint for DynamoDB Local)
	DatabaseURL    string `toml:"database_url"`    // SESSIONS_DATABASE_URL (required for postgres)

	GRPCAddr  string `toml:"grpc_addr"`  // SESSIONS_GRPC_ADDR (default ":9090")
	HTTPAddr  string `toml:"http_addr"`  // SESSIONS_HTTP_ADDR (default ":8080")
	AuthToken string `toml:"auth_token"` // SESSIONS_AUTH_TOKEN (optional, empty = auth disabled)

	NATSURL      string `toml:"nats_url"`      // SESSIONS_NATS_URL (optional, empty = no worker)
	NATSQueue    string `toml:"nats_queue"`    // SESSIONS_NATS_QUEUE (default "sessions-attributors")
	NATSCompress bool   `toml:"nats_compress"` // SESSIONS_NATS_COMPRESS (zstd-frame published payloads)

	RedisURL  string        `toml:"redis_url"`  // SESSIONS_REDIS_URL (optional shared cache tier)
	CacheSize int           `toml:"cache_size"` // SESSIONS_CACHE_SIZE (default 10000; 0 = no local cache)
	CacheTTL  time.Duration `toml:"cache_ttl"`  // SESSIONS_CACHE_TTL (default 5m)

	RetryAttempts  int           `toml:"retry_attempts"`   // SESSIONS_RETRY_ATTEMPTS (default 3)
	RetryBaseDelay time.Duration `toml:"retry_base_delay"` // SESSIONS_RETRY_BASE_DELAY (default 50ms)

	ShouldDefault bool `toml:"should_default"` // SESSIONS_SHOULD_DEFAULT (default true)
	ExtendEnd     bool `toml:"extend_end"`     // SESSIONS_EXTEND_END (default false)

	TracingEnabled bool   `toml:"tracing_enabled"` // SESSIONS_TRACING (default false)
	ServiceName    string `toml:"service_name"`    // SESSIONS_SERVICE_NAME (default "sessiond")
	LogLevel       string `toml:"log_level"`       // SESSIONS_LOG_LEVEL (default "info")
	LogFormat      string `toml:"log_format"`      // SESSIONS_LOG_FORMAT (default "text")

	// Sync settings
	SyncInterval   time.Duration `toml:"sync_interval"`    // SESSIONS_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        `toml:"sync_s3_bucket"`   // SESSIONS_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        `toml:"sync_s3_endpoint"` // SESSIONS_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        `toml:"sync_s3_region"`   // SESSIONS_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        `toml:"sync_s3_key"`      // SESSIONS_SYNC_S3_KEY (default "sessions/export.jsonl")
	SyncFile       string        `toml:"sync_file"`        // SESSIONS_SYNC_FILE (enables a local file export when set)
	SyncCompress   bool          `toml:"sync_compress"`    // SESSIONS_SYNC_COMPRESS (zstd-frame exports; ".zst" is appended to names)
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Store:          StoreDynamo,
		DynamoTable:    "sessions",
		DynamoRegion:   "us-east-1",
		GRPCAddr:       ":9090",
		HTTPAddr:       ":8080",
		NATSQueue:      "sessions-attributors",
		CacheSize:      10000,
		CacheTTL:       5 * time.Minute,
		RetryAttempts:  3,
		RetryBaseDelay: 50 * time.Millisecond,
		ShouldDefault:  true,
		ServiceName:    "sessiond",
		LogLevel:       "info",
		LogFormat:      "text",
		SyncInterval:   3 * time.Minute,
		SyncS3Region:   "us-east-1",
		SyncS3Key:      "sessions/export.jsonl",
	}
}

func Load() (*Config, error) {
	c := Default()

	if path := os.Getenv("SESSIONS_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("SESSIONS_CONFIG_FILE %s: %w", path, err)
		}
	}

	c.Store = envOrDefault("SESSIONS_STORE", c.Store)
	c.DynamoTable = envOrDefault("SESSIONS_DYNAMO_TABLE", c.DynamoTable)
	c.DynamoRegion = envOrDefault("SESSIONS_DYNAMO_REGION", c.DynamoRegion)
	c.DynamoEndpoint = envOrDefault("SESSIONS_DYNAMO_ENDPOINT", c.DynamoEndpoint)
	c.DatabaseURL = envOrDefault("SESSIONS_DATABASE_URL", c.DatabaseURL)
	c.GRPCAddr = envOrDefault("SESSIONS_GRPC_ADDR", c.GRPCAddr)
	c.HTTPAddr = envOrDefault("SESSIONS_HTTP_ADDR", c.HTTPAddr)
	c.AuthToken = envOrDefault("SESSIONS_AUTH_TOKEN", c.AuthToken)
	c.NATSURL = envOrDefault("SESSIONS_NATS_URL", c.NATSURL)
	c.NATSQueue = envOrDefault("SESSIONS_NATS_QUEUE", c.NATSQueue)
	c.RedisURL = envOrDefault("SESSIONS_REDIS_URL", c.RedisURL)
	c.ServiceName = envOrDefault("SESSIONS_SERVICE_NAME", c.ServiceName)
	c.LogLevel = envOrDefault("SESSIONS_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("SESSIONS_LOG_FORMAT", c.LogFormat)
	c.SyncS3Bucket = envOrDefault("SESSIONS_SYNC_S3_BUCKET", c.SyncS3Bucket)
	c.SyncS3Endpoint = envOrDefault("SESSIONS_SYNC_S3_ENDPOINT", c.SyncS3Endpoint)
	c.SyncS3Region = envOrDefault("SESSIONS_SYNC_S3_REGION", c.SyncS3Region)
	c.SyncS3Key = envOrDefault("SESSIONS_SYNC_S3_KEY", c.SyncS3Key)
	c.SyncFile = envOrDefault("SESSIONS_SYNC_FILE", c.SyncFile)

	var err error
	if c.NATSCompress, err = envBool("SESSIONS_NATS_COMPRESS", c.NATSCompress); err != nil {
		return nil, err
	}
	if c.SyncCompress, err = envBool("SESSIONS_SYNC_COMPRESS", c.SyncCompress); err != nil {
		return nil, err
	}
	if c.ShouldDefault, err = envBool("SESSIONS_SHOULD_DEFAULT", c.ShouldDefault); err != nil {
		return nil, err
	}
	if c.ExtendEnd, err = envBool("SESSIONS_EXTEND_END", c.ExtendEnd); err != nil {
		return nil, err
	}
	if c.TracingEnabled, err = envBool("SESSIONS_TRACING", c.TracingEnabled); err != nil {
		return nil, err
	}
	if c.CacheSize, err = envInt("SESSIONS_CACHE_SIZE", c.CacheSize); err != nil {
		return nil, err
	}
	if c.RetryAttempts, err = envInt("SESSIONS_RETRY_ATTEMPTS", c.RetryAttempts); err != nil {
		return nil, err
	}
	if c.CacheTTL, err = envDuration("SESSIONS_CACHE_TTL", c.CacheTTL); err != nil {
		return nil, err
	}
	if c.RetryBaseDelay, err = envDuration("SESSIONS_RETRY_BASE_DELAY", c.RetryBaseDelay); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = envDuration("SESSIONS_SYNC_INTERVAL", c.SyncInterval); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreDynamo:
		if c.DynamoTable == "" {
			return fmt.Errorf("SESSIONS_DYNAMO_TABLE is required for the dynamo store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("SESSIONS_DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("SESSIONS_STORE: unknown store %q (must be dynamo, postgres or memory)", c.Store)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("SESSIONS_RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("SESSIONS_CACHE_SIZE must not be negative, got %d", c.CacheSize)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("SESSIONS_LOG_FORMAT: unknown format %q (must be text or json)", c.LogFormat)
	}
	return nil
}

// NewLogger builds the service logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("SESSIONS_LOG_LEVEL: %w", err)
	}
	return level, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

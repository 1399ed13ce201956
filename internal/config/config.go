package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Sync      SyncConfig      `yaml:"sync"`
	Log       LogConfig       `yaml:"log"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowed_origins"   env:"CORS_ALLOWED_ORIGINS"   env-default:"*"`
	AllowedMethods   string `yaml:"allowed_methods"   env:"CORS_ALLOWED_METHODS"   env-default:"GET,POST,OPTIONS"`
	AllowedHeaders   string `yaml:"allowed_headers"   env:"CORS_ALLOWED_HEADERS"   env-default:"Authorization,Content-Type"`
	ExposedHeaders   string `yaml:"exposed_headers"   env:"CORS_EXPOSED_HEADERS"   env-default:"X-Dictionary-Version,X-Dictionary-Word-Count,X-Dictionary-Checksum,X-Request-Id"`
	AllowCredentials bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"true"`
	MaxAge           int    `yaml:"max_age"           env:"CORS_MAX_AGE"           env-default:"86400"`
}

// ServerConfig holds HTTP server settings.
// WriteTimeout is zero by default: streaming exports run as long as the dataset requires.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"0s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	Compress        bool          `yaml:"compress"         env:"SERVER_COMPRESS"         env-default:"true"`
}

// Supported values of DatabaseConfig.Driver.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig holds dictionary store settings.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"             env:"DATABASE_DRIVER"             env-default:"postgres"`
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// AuthConfig holds settings for validating admin access tokens.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"       env:"AUTH_JWT_SECRET"       env-required:"true"`
	JWTIssuer      string        `yaml:"jwt_issuer"       env:"AUTH_JWT_ISSUER"       env-default:"dictsync"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"AUTH_ACCESS_TOKEN_TTL" env-default:"24h"`
}

// SyncConfig holds dictionary synchronization engine settings.
type SyncConfig struct {
	MaxDeltaRatio        float64 `yaml:"max_delta_ratio"         env:"SYNC_MAX_DELTA_RATIO"         env-default:"0.5"`
	MinDeltaForFallback  int     `yaml:"min_delta_for_fallback"  env:"SYNC_MIN_DELTA_FOR_FALLBACK"  env-default:"100"`
	HistoryRetentionDays int     `yaml:"history_retention_days"  env:"SYNC_HISTORY_RETENTION_DAYS"  env-default:"30"`
	FullExportMaxEntries int     `yaml:"full_export_max_entries" env:"SYNC_FULL_EXPORT_MAX_ENTRIES" env-default:"100000"`
	StreamFlushEvery     int     `yaml:"stream_flush_every"      env:"SYNC_STREAM_FLUSH_EVERY"      env-default:"500"`
	ChecksumAlgorithm    string  `yaml:"checksum_algorithm"      env:"SYNC_CHECKSUM_ALGORITHM"      env-default:"sha256"`
	ChecksumCacheSize    int     `yaml:"checksum_cache_size"     env:"SYNC_CHECKSUM_CACHE_SIZE"     env-default:"128"`
	MaxCommitRetries     int     `yaml:"max_commit_retries"      env:"SYNC_MAX_COMMIT_RETRIES"      env-default:"3"`
	MaxMutationsPerBatch int     `yaml:"max_mutations_per_batch" env:"SYNC_MAX_MUTATIONS_PER_BATCH" env-default:"1000"`
	ImportChunkSize      int     `yaml:"import_chunk_size"       env:"SYNC_IMPORT_CHUNK_SIZE"       env-default:"500"`
	NotifyQueueSize      int     `yaml:"notify_queue_size"       env:"SYNC_NOTIFY_QUEUE_SIZE"       env-default:"64"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// RateLimitConfig holds per-client request limits for the expensive export endpoints.
type RateLimitConfig struct {
	ExportPerMinute int           `yaml:"export_per_minute" env:"RATE_LIMIT_EXPORT_PER_MINUTE" env-default:"30"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"  env:"RATE_LIMIT_CLEANUP_INTERVAL"  env-default:"1m"`
}

// HistoryRetention returns the tombstone retention window as a duration.
func (s SyncConfig) HistoryRetention() time.Duration {
	return time.Duration(s.HistoryRetentionDays) * 24 * time.Hour
}

package config

import (
	"fmt"
	"slices"
)

// SupportedChecksumAlgorithms lists the digest names accepted by sync.checksum_algorithm.
var SupportedChecksumAlgorithms = []string{"sha256", "blake2b-256", "sha3-256"}

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0 (got %s)", c.Auth.AccessTokenTTL)
	}

	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.Sync.validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if c.RateLimit.ExportPerMinute <= 0 {
		return fmt.Errorf("rate_limit.export_per_minute must be > 0 (got %d)", c.RateLimit.ExportPerMinute)
	}
	if c.RateLimit.CleanupInterval <= 0 {
		return fmt.Errorf("rate_limit.cleanup_interval must be > 0 (got %s)", c.RateLimit.CleanupInterval)
	}

	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case DriverPostgres:
		if d.DSN == "" {
			return fmt.Errorf("dsn is required for driver %q", d.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown driver %q (want %q or %q)", d.Driver, DriverPostgres, DriverMemory)
	}
	return nil
}

func (s *SyncConfig) validate() error {
	if s.MaxDeltaRatio < 0 {
		return fmt.Errorf("max_delta_ratio must be >= 0 (got %v)", s.MaxDeltaRatio)
	}
	if s.MinDeltaForFallback < 0 {
		return fmt.Errorf("min_delta_for_fallback must be >= 0 (got %d)", s.MinDeltaForFallback)
	}
	if s.HistoryRetentionDays <= 0 {
		return fmt.Errorf("history_retention_days must be > 0 (got %d)", s.HistoryRetentionDays)
	}
	if s.FullExportMaxEntries <= 0 {
		return fmt.Errorf("full_export_max_entries must be > 0 (got %d)", s.FullExportMaxEntries)
	}
	if s.StreamFlushEvery <= 0 {
		return fmt.Errorf("stream_flush_every must be > 0 (got %d)", s.StreamFlushEvery)
	}
	if !slices.Contains(SupportedChecksumAlgorithms, s.ChecksumAlgorithm) {
		return fmt.Errorf("checksum_algorithm %q is not supported (want one of %v)", s.ChecksumAlgorithm, SupportedChecksumAlgorithms)
	}
	if s.ChecksumCacheSize <= 0 {
		return fmt.Errorf("checksum_cache_size must be > 0 (got %d)", s.ChecksumCacheSize)
	}
	if s.MaxCommitRetries < 0 {
		return fmt.Errorf("max_commit_retries must be >= 0 (got %d)", s.MaxCommitRetries)
	}
	if s.MaxMutationsPerBatch <= 0 {
		return fmt.Errorf("max_mutations_per_batch must be > 0 (got %d)", s.MaxMutationsPerBatch)
	}
	if s.ImportChunkSize <= 0 || s.ImportChunkSize > s.MaxMutationsPerBatch {
		return fmt.Errorf("import_chunk_size must be in [1, max_mutations_per_batch] (got %d)", s.ImportChunkSize)
	}
	if s.NotifyQueueSize <= 0 {
		return fmt.Errorf("notify_queue_size must be > 0 (got %d)", s.NotifyQueueSize)
	}
	return nil
}

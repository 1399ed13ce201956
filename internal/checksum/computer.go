package checksum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

type versionStore interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	GetVersion(ctx context.Context, number int64) (domain.DictionaryVersion, error)
	StampChecksum(ctx context.Context, number int64, checksum string) error
}

// Computer labels dictionary versions with checksums. Results are cached per
// version and stamped onto the version record so other instances reuse them.
type Computer struct {
	log       *slog.Logger
	store     versionStore
	algorithm string
	cache     *lru.Cache[int64, string]
}

// NewComputer creates a Computer using cfg.ChecksumAlgorithm and cfg.ChecksumCacheSize.
func NewComputer(logger *slog.Logger, store versionStore, cfg config.SyncConfig) (*Computer, error) {
	if _, err := newHash(cfg.ChecksumAlgorithm); err != nil {
		return nil, err
	}
	cache, err := lru.New[int64, string](cfg.ChecksumCacheSize)
	if err != nil {
		return nil, fmt.Errorf("checksum cache: %w", err)
	}
	return &Computer{
		log:       logger.With("service", "checksum"),
		store:     store,
		algorithm: cfg.ChecksumAlgorithm,
		cache:     cache,
	}, nil
}

// AlgorithmName returns the configured digest algorithm.
func (c *Computer) AlgorithmName() string {
	return c.algorithm
}

// Known returns the checksum of the snapshot's version if it is stamped or
// cached, without scanning entries. A stamped value wins over the cache, so a
// correction recorded by another instance replaces a stale cached one.
func (c *Computer) Known(snap domain.Snapshot) (string, bool) {
	state := snap.State()
	if sum, ok := c.stamped(state.Number, state.Checksum); ok {
		return sum, true
	}
	return c.cache.Get(state.Number)
}

// stamped accepts a recorded checksum of the configured algorithm and
// refreshes the cache with it.
func (c *Computer) stamped(version int64, sum string) (string, bool) {
	if sum == "" || Algorithm(sum) != c.algorithm {
		return "", false
	}
	if cached, ok := c.cache.Peek(version); !ok || cached != sum {
		c.cache.Add(version, sum)
	}
	return sum, true
}

// ForSnapshot returns the checksum of the snapshot's version, scanning the
// snapshot only when the value is neither cached nor stamped.
func (c *Computer) ForSnapshot(ctx context.Context, snap domain.Snapshot) (string, error) {
	if sum, ok := c.Known(snap); ok {
		return sum, nil
	}

	state := snap.State()
	sum, err := c.digest(ctx, snap)
	if err != nil {
		return "", err
	}

	if err := c.store.StampChecksum(ctx, state.Number, sum); err != nil {
		c.log.WarnContext(ctx, "stamp checksum failed",
			slog.Int64("version", state.Number),
			slog.String("error", err.Error()),
		)
	}
	c.cache.Add(state.Number, sum)
	return sum, nil
}

// Compute returns the checksum of a committed version. The current version is
// computed on demand; an older version is answered from its stamped record, or
// from the cache when stamping it failed.
func (c *Computer) Compute(ctx context.Context, version int64) (string, error) {
	if version < 0 {
		return "", domain.NewValidationError("version", "must be a non-negative integer")
	}

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("open snapshot: %w", err)
	}
	defer snap.Close(ctx)

	current := snap.State().Number
	switch {
	case version > current:
		return "", fmt.Errorf("checksum of version %d (current %d): %w", version, current, domain.ErrVersionAhead)
	case version == current:
		return c.ForSnapshot(ctx, snap)
	}

	record, err := c.store.GetVersion(ctx, version)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("checksum of version %d: %w", version, domain.ErrHistoryUnavailable)
		}
		return "", fmt.Errorf("get version %d: %w", version, err)
	}
	if sum, ok := c.stamped(version, record.Checksum); ok {
		return sum, nil
	}
	if sum, ok := c.cache.Get(version); ok {
		return sum, nil
	}
	return "", fmt.Errorf("checksum of version %d was never recorded: %w", version, domain.ErrHistoryUnavailable)
}

// Recompute rescans the current version and stamps the result, replacing any
// stored or cached value. A changed checksum is logged as a correction.
func (c *Computer) Recompute(ctx context.Context) (domain.DictionaryVersion, error) {
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return domain.DictionaryVersion{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer snap.Close(ctx)

	state := snap.State()
	sum, err := c.digest(ctx, snap)
	if err != nil {
		return domain.DictionaryVersion{}, err
	}

	previous := state.Checksum
	if cached, ok := c.cache.Peek(state.Number); ok && previous == "" {
		previous = cached
	}

	if sum != previous {
		if err := c.store.StampChecksum(ctx, state.Number, sum); err != nil {
			return domain.DictionaryVersion{}, fmt.Errorf("stamp checksum: %w", err)
		}
		c.log.WarnContext(ctx, "checksum corrected",
			slog.Int64("version", state.Number),
			slog.String("old_checksum", previous),
			slog.String("new_checksum", sum),
		)
	} else {
		c.log.InfoContext(ctx, "checksum verified", slog.Int64("version", state.Number))
	}
	c.cache.Add(state.Number, sum)

	v := state.DictionaryVersion
	v.Checksum = sum
	return v, nil
}

// digest hashes the active entries of snap in canonical order.
func (c *Computer) digest(ctx context.Context, snap domain.Snapshot) (string, error) {
	state := snap.State()
	h, err := NewHasher(c.algorithm)
	if err != nil {
		return "", err
	}
	if err := snap.ScanActive(ctx, h.Add); err != nil {
		return "", fmt.Errorf("checksum of version %d: %w", state.Number, err)
	}

	if h.Count() != state.WordCount {
		c.log.WarnContext(ctx, "word count differs from active entries",
			slog.Int64("version", state.Number),
			slog.Int("word_count", state.WordCount),
			slog.Int("active_entries", h.Count()),
		)
	}
	return h.Sum(), nil
}

// Package export produces full dictionary exports, either materialized or as a
// lazy single-pass stream bound to the snapshot taken when the export starts.
package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

type snapshotter interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

type checksummer interface {
	Known(snap domain.Snapshot) (string, bool)
	ForSnapshot(ctx context.Context, snap domain.Snapshot) (string, error)
}

// Full is a materialized export of every active entry in canonical order.
type Full struct {
	Version domain.DictionaryVersion
	Words   []domain.DictionaryEntry
}

// Engine builds exports from store snapshots.
type Engine struct {
	log       *slog.Logger
	store     snapshotter
	checksums checksummer
	cfg       config.SyncConfig
}

// NewEngine creates a new Engine.
func NewEngine(logger *slog.Logger, store snapshotter, checksums checksummer, cfg config.SyncConfig) *Engine {
	return &Engine{
		log:       logger.With("service", "export"),
		store:     store,
		checksums: checksums,
		cfg:       cfg,
	}
}

// Full materializes the current version. Dictionaries above
// cfg.FullExportMaxEntries are rejected with ErrPayloadTooLarge.
func (e *Engine) Full(ctx context.Context) (Full, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return Full{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer snap.Close(ctx)

	state := snap.State()
	if e.cfg.FullExportMaxEntries > 0 && state.WordCount > e.cfg.FullExportMaxEntries {
		return Full{}, fmt.Errorf("full export of %d words exceeds %d, use the stream export: %w",
			state.WordCount, e.cfg.FullExportMaxEntries, domain.ErrPayloadTooLarge)
	}

	words := make([]domain.DictionaryEntry, 0, state.WordCount)
	err = snap.ScanActive(ctx, func(entry domain.DictionaryEntry) error {
		words = append(words, entry)
		return nil
	})
	if err != nil {
		return Full{}, fmt.Errorf("full export of version %d: %w", state.Number, err)
	}

	sum, err := e.checksums.ForSnapshot(ctx, snap)
	if err != nil {
		return Full{}, err
	}

	v := state.DictionaryVersion
	v.Checksum = sum
	return Full{Version: v, Words: words}, nil
}

// Open captures the current version and returns a stream over it. The caller
// must Close the stream; ForEach closes it when iteration ends.
func (e *Engine) Open(ctx context.Context) (*Stream, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}

	v := snap.State().DictionaryVersion
	v.Checksum, _ = e.checksums.Known(snap)

	e.log.DebugContext(ctx, "stream opened",
		slog.Int64("version", v.Number),
		slog.Int("word_count", v.WordCount),
	)
	return &Stream{snap: snap, version: v}, nil
}

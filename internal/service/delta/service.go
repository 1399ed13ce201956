// Package delta computes the change set between a client's version and the
// current dictionary version.
package delta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

type snapshotter interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// errTooLarge aborts the changed-since scan once the fallback threshold is crossed.
var errTooLarge = errors.New("delta exceeds fallback threshold")

// Engine computes deltas against a consistent snapshot.
type Engine struct {
	log   *slog.Logger
	store snapshotter
	cfg   config.SyncConfig
}

// NewEngine creates a new Engine.
func NewEngine(logger *slog.Logger, store snapshotter, cfg config.SyncConfig) *Engine {
	return &Engine{
		log:   logger.With("service", "delta"),
		store: store,
		cfg:   cfg,
	}
}

// Compute returns the changes from version from to the current version, or a
// full-sync signal when history is not retained or the delta is not smaller
// than a full export.
func (e *Engine) Compute(ctx context.Context, from int64) (domain.DeltaResult, error) {
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return domain.DeltaResult{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer snap.Close(ctx)

	return e.FromSnapshot(ctx, snap, from)
}

// FromSnapshot computes the delta against an already open snapshot. The
// snapshot is not closed.
func (e *Engine) FromSnapshot(ctx context.Context, snap domain.Snapshot, from int64) (domain.DeltaResult, error) {
	state := snap.State()
	current := state.Number

	switch {
	case from < 0 || from < state.HistoryHorizon:
		return fullSync(from, current, domain.ReasonHistoryNotRetained), nil
	case from > current:
		return domain.DeltaResult{}, fmt.Errorf("delta from %d (current %d): %w", from, current, domain.ErrVersionAhead)
	case from == current:
		return domain.DeltaResult{
			FromVersion: from,
			ToVersion:   current,
			Changes:     []domain.ChangeRecord{},
		}, nil
	}

	changes := make([]domain.ChangeRecord, 0)
	err := snap.ChangedSince(ctx, from, func(entry domain.DictionaryEntry) error {
		rec, ok := classify(entry, from)
		if !ok {
			return nil
		}
		changes = append(changes, rec)
		if e.tooLarge(len(changes), state.WordCount) {
			return errTooLarge
		}
		return nil
	})
	if errors.Is(err, errTooLarge) {
		e.log.InfoContext(ctx, "delta falls back to full sync",
			slog.Int64("from_version", from),
			slog.Int64("version", current),
			slog.Int("word_count", state.WordCount),
		)
		return fullSync(from, current, domain.ReasonDeltaTooLarge), nil
	}
	if err != nil {
		return domain.DeltaResult{}, fmt.Errorf("delta from %d: %w", from, err)
	}

	e.log.DebugContext(ctx, "delta computed",
		slog.Int64("from_version", from),
		slog.Int64("version", current),
		slog.Int("change_count", len(changes)),
	)

	return domain.DeltaResult{
		FromVersion: from,
		ToVersion:   current,
		ChangeCount: len(changes),
		Changes:     changes,
	}, nil
}

// tooLarge reports whether count changes cross the fallback threshold. The
// condition is monotonic in count, so the scan can stop as soon as it holds.
func (e *Engine) tooLarge(count, wordCount int) bool {
	if e.cfg.MaxDeltaRatio <= 0 || count <= e.cfg.MinDeltaForFallback {
		return false
	}
	return float64(count) > e.cfg.MaxDeltaRatio*float64(wordCount)
}

// classify maps an entry changed after from to the record a client at from
// needs. Entries both introduced and deleted inside the range are skipped:
// the client never saw them.
func classify(entry domain.DictionaryEntry, from int64) (domain.ChangeRecord, bool) {
	introduced := entry.IntroducedAtVersion > from

	switch {
	case entry.Tombstoned && introduced:
		return domain.ChangeRecord{}, false
	case entry.Tombstoned:
		return domain.ChangeRecord{Kind: domain.ChangeDelete, ID: entry.ID}, true
	case introduced:
		return domain.ChangeRecord{Kind: domain.ChangeAdd, ID: entry.ID, Entry: &entry}, true
	default:
		return domain.ChangeRecord{Kind: domain.ChangeUpdate, ID: entry.ID, Entry: &entry}, true
	}
}

func fullSync(from, current int64, reason string) domain.DeltaResult {
	return domain.DeltaResult{
		RequiresFullSync: true,
		Reason:           reason,
		FromVersion:      from,
		ToVersion:        current,
	}
}

// Package version owns the global dictionary version counter: it serializes
// mutation batches, assigns exactly one new version per committed batch, and
// reports the current version's metadata.
package version

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// ---------------------------------------------------------------------------
// Consumer-defined interfaces (private)
// ---------------------------------------------------------------------------

type dictionaryStore interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	LockState(ctx context.Context) (domain.StoreState, error)
	InsertEntry(ctx context.Context, attrs domain.Attributes, version int64) (int64, error)
	UpdateEntry(ctx context.Context, id int64, attrs domain.Attributes, version int64) error
	TombstoneEntry(ctx context.Context, id int64, version int64) error
	SaveVersion(ctx context.Context, v domain.DictionaryVersion) error
	ListVersions(ctx context.Context, limit int) ([]domain.DictionaryVersion, error)
	HorizonBefore(ctx context.Context, t time.Time) (int64, error)
	PurgeTombstones(ctx context.Context, horizon int64) (int, error)
	SetHistoryHorizon(ctx context.Context, horizon int64) error
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type checksummer interface {
	ForSnapshot(ctx context.Context, snap domain.Snapshot) (string, error)
}

type eventPublisher interface {
	Publish(event domain.VersionCommitted)
}

// ---------------------------------------------------------------------------
// Tracker
// ---------------------------------------------------------------------------

// Tracker implements the version tracker.
type Tracker struct {
	log       *slog.Logger
	store     dictionaryStore
	tx        txManager
	checksums checksummer
	events    eventPublisher
	clock     clockwork.Clock
	cfg       config.SyncConfig
}

// NewTracker creates a new Tracker.
func NewTracker(
	logger *slog.Logger,
	store dictionaryStore,
	tx txManager,
	checksums checksummer,
	clock clockwork.Clock,
	cfg config.SyncConfig,
) *Tracker {
	return &Tracker{
		log:       logger.With("service", "version"),
		store:     store,
		tx:        tx,
		checksums: checksums,
		clock:     clock,
		cfg:       cfg,
	}
}

// SetPublisher injects the optional commit event publisher.
func (t *Tracker) SetPublisher(p eventPublisher) {
	t.events = p
}

// Current returns the latest committed version with its checksum. The state is
// read from the store on every call; only checksums are cached.
func (t *Tracker) Current(ctx context.Context) (domain.DictionaryVersion, error) {
	snap, err := t.store.Snapshot(ctx)
	if err != nil {
		return domain.DictionaryVersion{}, err
	}
	defer snap.Close(ctx)

	v := snap.State().DictionaryVersion
	sum, err := t.checksums.ForSnapshot(ctx, snap)
	if err != nil {
		return domain.DictionaryVersion{}, err
	}
	v.Checksum = sum
	return v, nil
}

const (
	defaultVersionsLimit = 20
	maxVersionsLimit     = 100
)

// ListVersions returns recent versions, newest first.
func (t *Tracker) ListVersions(ctx context.Context, limit int) ([]domain.DictionaryVersion, error) {
	return t.store.ListVersions(ctx, clampLimit(limit, 1, maxVersionsLimit, defaultVersionsLimit))
}

// clampLimit ensures a limit is within [min, max], defaulting from 0 to defaultVal.
func clampLimit(limit, min, max, defaultVal int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/heartmarshall/dictsync-backend/internal/adapter/memstore"
	"github.com/heartmarshall/dictsync-backend/internal/adapter/postgres"
	"github.com/heartmarshall/dictsync-backend/internal/adapter/postgres/dictentry"
	"github.com/heartmarshall/dictsync-backend/internal/checksum"
	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
	"github.com/heartmarshall/dictsync-backend/internal/service/version"
)

// Store is the full set of dictionary store primitives the sync services use.
// Both the PostgreSQL and the in-memory adapters implement it.
type Store interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	GetVersion(ctx context.Context, number int64) (domain.DictionaryVersion, error)
	ListVersions(ctx context.Context, limit int) ([]domain.DictionaryVersion, error)
	HorizonBefore(ctx context.Context, t time.Time) (int64, error)
	StampChecksum(ctx context.Context, number int64, checksum string) error
	LockState(ctx context.Context) (domain.StoreState, error)
	InsertEntry(ctx context.Context, attrs domain.Attributes, version int64) (int64, error)
	UpdateEntry(ctx context.Context, id int64, attrs domain.Attributes, version int64) error
	TombstoneEntry(ctx context.Context, id int64, version int64) error
	SaveVersion(ctx context.Context, v domain.DictionaryVersion) error
	PurgeTombstones(ctx context.Context, horizon int64) (int, error)
	SetHistoryHorizon(ctx context.Context, horizon int64) error
}

// TxRunner runs fn inside one store transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pinger reports store availability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Storage bundles the configured store with its transaction runner.
type Storage struct {
	Driver string
	Store  Store
	Tx     TxRunner
	Pinger Pinger

	close func()
}

// Close releases the underlying connections.
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStorage connects the store selected by cfg.Driver.
func OpenStorage(ctx context.Context, cfg config.DatabaseConfig, clock clockwork.Clock) (*Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Driver: cfg.Driver,
			Store:  dictentry.New(pool),
			Tx:     postgres.NewTxManager(pool),
			Pinger: pool,
			close:  pool.Close,
		}, nil
	case config.DriverMemory:
		store := memstore.New(clock)
		return &Storage{
			Driver: cfg.Driver,
			Store:  store,
			Tx:     store,
			Pinger: store,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// NewTracker builds the version tracker and the checksum computer it stamps
// new versions with.
func NewTracker(logger *slog.Logger, storage *Storage, cfg config.SyncConfig, clock clockwork.Clock) (*version.Tracker, *checksum.Computer, error) {
	sums, err := checksum.NewComputer(logger, storage.Store, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("checksum computer: %w", err)
	}
	return version.NewTracker(logger, storage.Store, storage.Tx, sums, clock, cfg), sums, nil
}

package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/dictsync-backend/internal/adapter/memstore"
	"github.com/heartmarshall/dictsync-backend/internal/checksum"
	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
	"github.com/heartmarshall/dictsync-backend/internal/service/version"
)

// ===========================================================================
// Test doubles
// ===========================================================================

// trackingStore counts snapshots that were opened and not yet closed.
type trackingStore struct {
	*memstore.Store
	open atomic.Int32
}

func (s *trackingStore) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	snap, err := s.Store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.open.Add(1)
	return &trackedSnapshot{Snapshot: snap, store: s}, nil
}

type trackedSnapshot struct {
	domain.Snapshot
	store *trackingStore
	once  sync.Once
}

func (t *trackedSnapshot) Close(ctx context.Context) error {
	t.once.Do(func() { t.store.open.Add(-1) })
	return t.Snapshot.Close(ctx)
}

// ===========================================================================
// Helpers
// ===========================================================================

func testConfig() config.SyncConfig {
	return config.SyncConfig{
		FullExportMaxEntries: 1000,
		ChecksumAlgorithm:    checksum.SHA256,
		ChecksumCacheSize:    16,
		MaxCommitRetries:     3,
		MaxMutationsPerBatch: 1000,
	}
}

type fixture struct {
	engine  *Engine
	tracker *version.Tracker
	store   *trackingStore
}

func newFixture(t *testing.T, cfg config.SyncConfig) fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := &trackingStore{Store: memstore.New(clock)}
	sums, err := checksum.NewComputer(slog.Default(), store.Store, cfg)
	require.NoError(t, err)
	return fixture{
		engine:  NewEngine(slog.Default(), store, sums, cfg),
		tracker: version.NewTracker(slog.Default(), store.Store, store.Store, sums, clock, cfg),
		store:   store,
	}
}

func (f fixture) seed(t *testing.T, n int) {
	t.Helper()
	muts := make([]domain.Mutation, n)
	for i := range muts {
		muts[i] = domain.Mutation{
			Kind:       domain.MutationAdd,
			Attributes: domain.Attributes{domain.AttrText: fmt.Sprintf("word-%03d", i), "rank": fmt.Sprint(i)},
		}
	}
	_, err := f.tracker.Apply(context.Background(), muts)
	require.NoError(t, err)
}

func (f fixture) apply(t *testing.T, muts ...domain.Mutation) {
	t.Helper()
	_, err := f.tracker.Apply(context.Background(), muts)
	require.NoError(t, err)
}

func collect(t *testing.T, s *Stream) []domain.DictionaryEntry {
	t.Helper()
	var out []domain.DictionaryEntry
	err := s.ForEach(context.Background(), func(e domain.DictionaryEntry) error {
		out = append(out, e)
		return nil
	})
	require.NoError(t, err)
	return out
}

// ===========================================================================
// Full
// ===========================================================================

func TestFull(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.seed(t, 20)
	f.apply(t, domain.Mutation{Kind: domain.MutationDelete, ID: 7})

	full, err := f.engine.Full(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), full.Version.Number)
	assert.Equal(t, 19, full.Version.WordCount)
	require.Len(t, full.Words, 19)
	for i := 1; i < len(full.Words); i++ {
		assert.Less(t, full.Words[i-1].ID, full.Words[i].ID)
		assert.NotEqual(t, int64(7), full.Words[i].ID)
	}

	want, err := checksum.Of(checksum.SHA256, full.Words)
	require.NoError(t, err)
	assert.Equal(t, want, full.Version.Checksum)
	assert.Zero(t, f.store.open.Load())
}

func TestFull_PayloadTooLarge(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.FullExportMaxEntries = 10
	f := newFixture(t, cfg)
	f.seed(t, 11)

	_, err := f.engine.Full(context.Background())
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
	assert.Zero(t, f.store.open.Load())
}

// ===========================================================================
// Stream
// ===========================================================================

func TestStream_MatchesFull(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.seed(t, 50)
	f.apply(t,
		domain.Mutation{Kind: domain.MutationDelete, ID: 3},
		domain.Mutation{Kind: domain.MutationUpdate, ID: 4, Attributes: domain.Attributes{domain.AttrText: "word-003", "note": "x"}},
	)

	full, err := f.engine.Full(context.Background())
	require.NoError(t, err)

	stream, err := f.engine.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, full.Version, stream.Version(), "checksum is known once the full export computed it")

	assert.Equal(t, full.Words, collect(t, stream))
	assert.Zero(t, f.store.open.Load())
}

func TestStream_ChecksumUnknownUntilComputed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.seed(t, 3)

	stream, err := f.engine.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close(context.Background())

	assert.Equal(t, int64(1), stream.Version().Number)
	assert.Equal(t, 3, stream.Version().WordCount)
	assert.Empty(t, stream.Version().Checksum)
}

func TestStream_SnapshotIsolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.seed(t, 10)

	stream, err := f.engine.Open(context.Background())
	require.NoError(t, err)

	f.apply(t,
		domain.Mutation{Kind: domain.MutationAdd, Attributes: domain.Attributes{domain.AttrText: "late"}},
		domain.Mutation{Kind: domain.MutationDelete, ID: 1},
	)

	entries := collect(t, stream)
	require.Len(t, entries, 10)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, int64(10), entries[9].ID)

	for _, e := range entries {
		assert.NotEqual(t, "late", e.Attributes.Text())
	}
}

func TestStream_SinglePass(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.seed(t, 5)

	stream, err := f.engine.Open(context.Background())
	require.NoError(t, err)
	assert.Len(t, collect(t, stream), 5)

	err = stream.ForEach(context.Background(), func(domain.DictionaryEntry) error { return nil })
	assert.ErrorIs(t, err, domain.ErrStreamConsumed)
	assert.NoError(t, stream.Close(context.Background()))
}

func TestStream_ReleasesSnapshot(t *testing.T) {
	t.Parallel()
	stop := errors.New("client went away")

	tests := []struct {
		name    string
		run     func(ctx context.Context, s *Stream) error
		wantErr error
	}{
		{
			name: "completed",
			run: func(ctx context.Context, s *Stream) error {
				return s.ForEach(ctx, func(domain.DictionaryEntry) error { return nil })
			},
		},
		{
			name: "consumer stops early",
			run: func(ctx context.Context, s *Stream) error {
				n := 0
				return s.ForEach(ctx, func(domain.DictionaryEntry) error {
					if n++; n == 2 {
						return stop
					}
					return nil
				})
			},
			wantErr: stop,
		},
		{
			name: "context cancelled mid-stream",
			run: func(ctx context.Context, s *Stream) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				return s.ForEach(ctx, func(domain.DictionaryEntry) error {
					cancel()
					return nil
				})
			},
			wantErr: context.Canceled,
		},
		{
			name: "closed without iterating",
			run: func(ctx context.Context, s *Stream) error {
				if err := s.Close(ctx); err != nil {
					return err
				}
				return s.ForEach(ctx, func(domain.DictionaryEntry) error { return nil })
			},
			wantErr: domain.ErrStreamConsumed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testConfig())
			f.seed(t, 5)

			stream, err := f.engine.Open(context.Background())
			require.NoError(t, err)
			require.Equal(t, int32(1), f.store.open.Load())

			err = tt.run(context.Background(), stream)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Zero(t, f.store.open.Load())
		})
	}
}

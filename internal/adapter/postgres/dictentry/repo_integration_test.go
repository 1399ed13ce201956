package dictentry_test

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	postgres "github.com/heartmarshall/dictsync-backend/internal/adapter/postgres"
	"github.com/heartmarshall/dictsync-backend/internal/adapter/postgres/dictentry"
	"github.com/heartmarshall/dictsync-backend/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/dictsync-backend/internal/checksum"
	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
	"github.com/heartmarshall/dictsync-backend/internal/service/version"
)

func setup(t *testing.T) (*dictentry.Repo, *postgres.TxManager) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	pool := testhelper.SetupTestDB(t)
	return dictentry.New(pool), postgres.NewTxManager(pool)
}

// commit applies fn inside one transaction and saves the next version.
func commit(t *testing.T, repo *dictentry.Repo, tm *postgres.TxManager, delta int, fn func(ctx context.Context, next int64) error) int64 {
	t.Helper()
	var next int64
	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		state, err := repo.LockState(ctx)
		if err != nil {
			return err
		}
		next = state.Number + 1
		if err := fn(ctx, next); err != nil {
			return err
		}
		return repo.SaveVersion(ctx, domain.DictionaryVersion{
			Number:         next,
			WordCount:      state.WordCount + delta,
			LastModifiedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)
	return next
}

func collect(t *testing.T, scan func(ctx context.Context, fn func(domain.DictionaryEntry) error) error) []domain.DictionaryEntry {
	t.Helper()
	var out []domain.DictionaryEntry
	require.NoError(t, scan(context.Background(), func(e domain.DictionaryEntry) error {
		out = append(out, e)
		return nil
	}))
	return out
}

func TestRepo_Integration_MutationLifecycle(t *testing.T) {
	repo, tm := setup(t)
	ctx := context.Background()

	var appleID, pearID int64
	v1 := commit(t, repo, tm, 2, func(ctx context.Context, next int64) error {
		var err error
		if appleID, err = repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "Apple", domain.AttrPartOfSpeech: "noun"}, next); err != nil {
			return err
		}
		pearID, err = repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "pear"}, next)
		return err
	})
	require.Equal(t, int64(1), v1)
	require.Less(t, appleID, pearID)

	v2 := commit(t, repo, tm, 0, func(ctx context.Context, next int64) error {
		return repo.UpdateEntry(ctx, appleID, domain.Attributes{domain.AttrText: "apple", domain.AttrFrequencyRank: "120"}, next)
	})
	v3 := commit(t, repo, tm, -1, func(ctx context.Context, next int64) error {
		return repo.TombstoneEntry(ctx, pearID, next)
	})
	require.Equal(t, int64(3), v3)

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close(ctx)

	assert.Equal(t, int64(3), snap.State().Number)
	assert.Equal(t, 1, snap.State().WordCount)

	active := collect(t, snap.ScanActive)
	require.Len(t, active, 1)
	assert.Equal(t, appleID, active[0].ID)
	assert.Equal(t, "120", active[0].Attributes[domain.AttrFrequencyRank])
	assert.Equal(t, v1, active[0].IntroducedAtVersion)
	assert.Equal(t, v2, active[0].LastModifiedVersion)

	changed := collect(t, func(ctx context.Context, fn func(domain.DictionaryEntry) error) error {
		return snap.ChangedSince(ctx, v1, fn)
	})
	require.Len(t, changed, 2)
	assert.Equal(t, appleID, changed[0].ID)
	assert.Equal(t, pearID, changed[1].ID)
	assert.True(t, changed[1].Tombstoned)

	versions, err := repo.ListVersions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	assert.Equal(t, int64(3), versions[0].Number)
	assert.Equal(t, int64(0), versions[3].Number)
}

func TestRepo_Integration_ActiveTextUnique(t *testing.T) {
	repo, tm := setup(t)

	var id int64
	commit(t, repo, tm, 1, func(ctx context.Context, next int64) error {
		var err error
		id, err = repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "kiwi"}, next)
		return err
	})

	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		state, err := repo.LockState(ctx)
		require.NoError(t, err)
		_, err = repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: " KIWI "}, state.Number+1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// A tombstoned word can be added again under a fresh id.
	commit(t, repo, tm, -1, func(ctx context.Context, next int64) error {
		return repo.TombstoneEntry(ctx, id, next)
	})
	var again int64
	commit(t, repo, tm, 1, func(ctx context.Context, next int64) error {
		var err error
		again, err = repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "kiwi"}, next)
		return err
	})
	assert.Greater(t, again, id)
}

func TestRepo_Integration_SnapshotIsolation(t *testing.T) {
	repo, tm := setup(t)
	ctx := context.Background()

	commit(t, repo, tm, 1, func(ctx context.Context, next int64) error {
		_, err := repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "first"}, next)
		return err
	})

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close(ctx)

	commit(t, repo, tm, 1, func(ctx context.Context, next int64) error {
		_, err := repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "second"}, next)
		return err
	})

	assert.Equal(t, int64(1), snap.State().Number)
	active := collect(t, snap.ScanActive)
	require.Len(t, active, 1)
	assert.Equal(t, "first", active[0].Attributes.Text())
}

func TestRepo_Integration_PurgeRaisesHorizon(t *testing.T) {
	repo, tm := setup(t)
	ctx := context.Background()

	var id int64
	commit(t, repo, tm, 1, func(ctx context.Context, next int64) error {
		var err error
		id, err = repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "gone"}, next)
		return err
	})
	deletedAt := commit(t, repo, tm, -1, func(ctx context.Context, next int64) error {
		return repo.TombstoneEntry(ctx, id, next)
	})

	err := tm.RunInTx(ctx, func(ctx context.Context) error {
		horizon, err := repo.HorizonBefore(ctx, time.Now().Add(time.Minute))
		if err != nil {
			return err
		}
		assert.Equal(t, deletedAt, horizon)
		purged, err := repo.PurgeTombstones(ctx, horizon)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, purged)
		return repo.SetHistoryHorizon(ctx, horizon)
	})
	require.NoError(t, err)

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close(ctx)
	assert.Equal(t, deletedAt, snap.State().HistoryHorizon)
	assert.Empty(t, collect(t, func(ctx context.Context, fn func(domain.DictionaryEntry) error) error {
		return snap.ChangedSince(ctx, 0, fn)
	}))

	require.NoError(t, repo.StampChecksum(ctx, deletedAt, "sha256:00"))
	v, err := repo.GetVersion(ctx, deletedAt)
	require.NoError(t, err)
	assert.Equal(t, "sha256:00", v.Checksum)
}

func TestRepo_Integration_ConcurrentBatchesSerialize(t *testing.T) {
	repo, tm := setup(t)
	ctx := context.Background()
	const batches = 12

	cfg := config.SyncConfig{
		ChecksumAlgorithm:    checksum.SHA256,
		ChecksumCacheSize:    16,
		MaxCommitRetries:     3,
		MaxMutationsPerBatch: 10,
		HistoryRetentionDays: 30,
	}
	sums, err := checksum.NewComputer(slog.Default(), repo, cfg)
	require.NoError(t, err)
	tracker := version.NewTracker(slog.Default(), repo, tm, sums, clockwork.NewRealClock(), cfg)

	versions := make([]int64, batches)
	var wg sync.WaitGroup
	for i := 0; i < batches; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := tracker.Apply(ctx, []domain.Mutation{{
				Kind:       domain.MutationAdd,
				Attributes: domain.Attributes{domain.AttrText: fmt.Sprintf("racer-%d", i)},
			}})
			if assert.NoError(t, err) {
				versions[i] = res.Version.Number
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v)
	}

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close(ctx)
	assert.Equal(t, int64(batches), snap.State().Number)
	assert.Equal(t, batches, snap.State().WordCount)
	assert.Len(t, collect(t, snap.ScanActive), batches)
}

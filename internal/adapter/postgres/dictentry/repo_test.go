package dictentry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	postgres "github.com/heartmarshall/dictsync-backend/internal/adapter/postgres"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

var snapshotOpts = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

var (
	stateColumns   = []string{"version", "word_count", "history_horizon", "checksum", "last_modified_at"}
	versionColumns = []string{"version", "word_count", "checksum", "last_modified_at"}
)

func newMockRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func strPtr(s string) *string { return &s }

func TestRepo_Snapshot_StateAndChangedSince(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(snapshotOpts)
	mock.ExpectQuery("FROM dictionary_state s JOIN dictionary_versions v").
		WillReturnRows(pgxmock.NewRows(stateColumns).
			AddRow(int64(7), 2, int64(3), strPtr("sha256:abc"), now))
	mock.ExpectQuery("FROM dictionary_entries WHERE last_modified_version > \\$1 ORDER BY id").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow(int64(1), []byte(`{"text":"apple"}`), int64(1), int64(6), false).
			AddRow(int64(4), []byte(`{"text":"pear"}`), int64(2), int64(7), true))
	mock.ExpectRollback()

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)

	state := snap.State()
	assert.Equal(t, int64(7), state.Number)
	assert.Equal(t, 2, state.WordCount)
	assert.Equal(t, int64(3), state.HistoryHorizon)
	assert.Equal(t, "sha256:abc", state.Checksum)
	assert.Equal(t, now, state.LastModifiedAt)

	var got []domain.DictionaryEntry
	err = snap.ChangedSince(ctx, 5, func(e domain.DictionaryEntry) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "apple", got[0].Attributes.Text())
	assert.True(t, got[1].Tombstoned)
	assert.Equal(t, int64(7), got[1].LastModifiedVersion)

	require.NoError(t, snap.Close(ctx))
	require.NoError(t, snap.Close(ctx), "second close is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_Snapshot_ScanActiveStopsOnCallbackError(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	stop := errors.New("stop")

	mock.ExpectBeginTx(snapshotOpts)
	mock.ExpectQuery("FROM dictionary_state s").
		WillReturnRows(pgxmock.NewRows(stateColumns).
			AddRow(int64(1), 2, int64(0), (*string)(nil), time.Now()))
	mock.ExpectQuery("FROM dictionary_entries WHERE tombstoned = \\$1 ORDER BY id").
		WithArgs(false).
		WillReturnRows(pgxmock.NewRows(entryColumns).
			AddRow(int64(1), []byte(`{"text":"a"}`), int64(1), int64(1), false).
			AddRow(int64(2), []byte(`{"text":"b"}`), int64(1), int64(1), false))
	mock.ExpectRollback()

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.State().Checksum)

	seen := 0
	err = snap.ScanActive(ctx, func(domain.DictionaryEntry) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)

	require.NoError(t, snap.Close(ctx))
	assert.Error(t, snap.ScanActive(ctx, func(domain.DictionaryEntry) error { return nil }))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_Snapshot_StateQueryFailsRollsBack(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	mock.ExpectBeginTx(snapshotOpts)
	mock.ExpectQuery("FROM dictionary_state s").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.Snapshot(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_WritesRequireTransaction(t *testing.T) {
	t.Parallel()
	repo, _ := newMockRepo(t)
	ctx := context.Background()

	_, err := repo.LockState(ctx)
	assert.ErrorIs(t, err, errNoTx)
	_, err = repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "x"}, 1)
	assert.ErrorIs(t, err, errNoTx)
	assert.ErrorIs(t, repo.UpdateEntry(ctx, 1, domain.Attributes{domain.AttrText: "x"}, 1), errNoTx)
	assert.ErrorIs(t, repo.TombstoneEntry(ctx, 1, 1), errNoTx)
	assert.ErrorIs(t, repo.SaveVersion(ctx, domain.DictionaryVersion{Number: 1}), errNoTx)
	_, err = repo.PurgeTombstones(ctx, 1)
	assert.ErrorIs(t, err, errNoTx)
	assert.ErrorIs(t, repo.SetHistoryHorizon(ctx, 1), errNoTx)
}

func TestRepo_LockState_ForUpdate(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	tm := postgres.NewTxManager(mock)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("^SELECT version, word_count, history_horizon FROM dictionary_state FOR UPDATE$").
		WillReturnRows(pgxmock.NewRows([]string{"version", "word_count", "history_horizon"}).
			AddRow(int64(4), 10, int64(2)))
	mock.ExpectQuery("FROM dictionary_versions WHERE version = \\$1").
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows(versionColumns).
			AddRow(int64(4), 10, strPtr("sha256:abc"), now))
	mock.ExpectCommit()

	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		state, err := repo.LockState(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(4), state.Number)
		assert.Equal(t, 10, state.WordCount)
		assert.Equal(t, int64(2), state.HistoryHorizon)
		assert.Equal(t, "sha256:abc", state.Checksum)
		assert.Equal(t, now, state.LastModifiedAt)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_LockState_MissingVersionRow(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	tm := postgres.NewTxManager(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM dictionary_state FOR UPDATE").
		WillReturnRows(pgxmock.NewRows([]string{"version", "word_count", "history_horizon"}).
			AddRow(int64(4), 10, int64(0)))
	mock.ExpectQuery("FROM dictionary_versions WHERE version = \\$1").
		WithArgs(int64(4)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		_, err := repo.LockState(ctx)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_InsertEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantID  int64
		wantErr error
	}{
		{
			name: "returns assigned id",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("INSERT INTO dictionary_entries").
					WithArgs("big apple", `{"text":"Big  Apple"}`, int64(3), int64(3)).
					WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
				mock.ExpectCommit()
			},
			wantID: 11,
		},
		{
			name: "active duplicate",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("INSERT INTO dictionary_entries").
					WillReturnError(&pgconn.PgError{Code: "23505"})
				mock.ExpectRollback()
			},
			wantErr: domain.ErrAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo, mock := newMockRepo(t)
			tm := postgres.NewTxManager(mock)

			mock.ExpectBegin()
			tt.setup(mock)

			var id int64
			err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
				var err error
				id, err = repo.InsertEntry(ctx, domain.Attributes{domain.AttrText: "Big  Apple"}, 3)
				return err
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, id)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepo_UpdateAndTombstone_NotFound(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	tm := postgres.NewTxManager(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE dictionary_entries SET text_normalized = \\$1, attributes = \\$2, last_modified_version = \\$3 WHERE id = \\$4 AND tombstoned = \\$5").
		WithArgs("pear", `{"text":"pear"}`, int64(9), int64(42), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		return repo.UpdateEntry(ctx, 42, domain.Attributes{domain.AttrText: "pear"}, 9)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE dictionary_entries SET tombstoned = \\$1, last_modified_version = \\$2 WHERE id = \\$3 AND tombstoned = \\$4").
		WithArgs(true, int64(9), int64(42), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err = tm.RunInTx(context.Background(), func(ctx context.Context) error {
		return repo.TombstoneEntry(ctx, 42, 9)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_SaveVersion(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	tm := postgres.NewTxManager(mock)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dictionary_versions").
		WithArgs(int64(5), 12, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE dictionary_state SET version = \\$1, word_count = \\$2, updated_at = \\$3").
		WithArgs(int64(5), 12, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		return repo.SaveVersion(ctx, domain.DictionaryVersion{Number: 5, WordCount: 12, LastModifiedAt: now})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_GetVersion(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("FROM dictionary_versions WHERE version = \\$1").
			WithArgs(int64(2)).
			WillReturnRows(pgxmock.NewRows(versionColumns).AddRow(int64(2), 5, strPtr("sha256:ff"), now))

		v, err := repo.GetVersion(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, domain.DictionaryVersion{Number: 2, WordCount: 5, Checksum: "sha256:ff", LastModifiedAt: now}, v)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("FROM dictionary_versions").WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetVersion(context.Background(), 99)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestRepo_ListVersions(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM dictionary_versions ORDER BY version DESC LIMIT 2").
		WillReturnRows(pgxmock.NewRows(versionColumns).
			AddRow(int64(3), 4, (*string)(nil), now).
			AddRow(int64(2), 3, strPtr("sha256:aa"), now))

	versions, err := repo.ListVersions(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(3), versions[0].Number)
	assert.Empty(t, versions[0].Checksum)
	assert.Equal(t, "sha256:aa", versions[1].Checksum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_StampChecksum(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE dictionary_versions SET checksum = \\$1 WHERE version = \\$2").
		WithArgs("sha256:01", int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.StampChecksum(context.Background(), 4, "sha256:01"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_PurgeAndHorizon(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)
	tm := postgres.NewTxManager(mock)
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(version\\), 0\\) FROM dictionary_versions WHERE last_modified_at < \\$1").
		WithArgs(before).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(6)))
	mock.ExpectExec("DELETE FROM dictionary_entries WHERE tombstoned = \\$1 AND last_modified_version <= \\$2").
		WithArgs(true, int64(6)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("UPDATE dictionary_state SET history_horizon = GREATEST\\(history_horizon, \\$1\\)").
		WithArgs(int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		horizon, err := repo.HorizonBefore(ctx, before)
		if err != nil {
			return err
		}
		purged, err := repo.PurgeTombstones(ctx, horizon)
		if err != nil {
			return err
		}
		assert.Equal(t, 3, purged)
		return repo.SetHistoryHorizon(ctx, horizon)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

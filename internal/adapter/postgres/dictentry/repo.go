// Package dictentry implements the dictionary store on PostgreSQL.
//
// Every entry row carries its own version stamps (introduced_at_version,
// last_modified_version, tombstoned). The single dictionary_state row owns the
// global version counter; mutation batches serialize on a row lock of it.
package dictentry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	postgres "github.com/heartmarshall/dictsync-backend/internal/adapter/postgres"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

const (
	tableState    = "dictionary_state"
	tableVersions = "dictionary_versions"
	tableEntries  = "dictionary_entries"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var entryColumns = []string{
	"id", "attributes", "introduced_at_version", "last_modified_version", "tombstoned",
}

// errNoTx is returned when a write primitive is called outside RunInTx.
var errNoTx = errors.New("dictentry: write requires a transaction")

// Repo provides dictionary persistence backed by PostgreSQL.
type Repo struct {
	db  postgres.DB
	txm *postgres.TxManager
}

// New creates a new dictionary repository. db is usually a *pgxpool.Pool.
func New(db postgres.DB) *Repo {
	return &Repo{db: db, txm: postgres.NewTxManager(db)}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Snapshot opens a read-only repeatable-read view of the dictionary.
func (r *Repo) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	tx, err := r.txm.BeginSnapshot(ctx)
	if err != nil {
		return nil, postgres.MapError(err, "dictionary_snapshot", 0)
	}

	state, err := selectState(ctx, tx)
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, err
	}

	return &snapshot{tx: tx, state: state}, nil
}

// GetVersion returns the metadata record of a committed version.
func (r *Repo) GetVersion(ctx context.Context, number int64) (domain.DictionaryVersion, error) {
	sql, args, err := psql.
		Select("version", "word_count", "checksum", "last_modified_at").
		From(tableVersions).
		Where(squirrel.Eq{"version": number}).
		ToSql()
	if err != nil {
		return domain.DictionaryVersion{}, fmt.Errorf("build get version query: %w", err)
	}

	var row versionRow
	if err := pgxscan.Get(ctx, postgres.QuerierFromCtx(ctx, r.db), &row, sql, args...); err != nil {
		return domain.DictionaryVersion{}, postgres.MapError(err, "dictionary_version", number)
	}

	return row.toDomain(), nil
}

// ListVersions returns up to limit most recent versions, newest first.
func (r *Repo) ListVersions(ctx context.Context, limit int) ([]domain.DictionaryVersion, error) {
	sql, args, err := psql.
		Select("version", "word_count", "checksum", "last_modified_at").
		From(tableVersions).
		OrderBy("version DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list versions query: %w", err)
	}

	var rows []versionRow
	if err := pgxscan.Select(ctx, postgres.QuerierFromCtx(ctx, r.db), &rows, sql, args...); err != nil {
		return nil, postgres.MapError(err, "dictionary_version", 0)
	}

	versions := make([]domain.DictionaryVersion, len(rows))
	for i, row := range rows {
		versions[i] = row.toDomain()
	}
	return versions, nil
}

// HorizonBefore returns the newest version committed strictly before t, or 0.
func (r *Repo) HorizonBefore(ctx context.Context, t time.Time) (int64, error) {
	sql, args, err := psql.
		Select("COALESCE(MAX(version), 0)").
		From(tableVersions).
		Where(squirrel.Lt{"last_modified_at": t}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build horizon query: %w", err)
	}

	var horizon int64
	if err := postgres.QuerierFromCtx(ctx, r.db).QueryRow(ctx, sql, args...).Scan(&horizon); err != nil {
		return 0, postgres.MapError(err, "dictionary_version", 0)
	}
	return horizon, nil
}

// ---------------------------------------------------------------------------
// Writes (inside TxManager.RunInTx)
// ---------------------------------------------------------------------------

// LockState reads the committed state and locks it until the transaction ends.
func (r *Repo) LockState(ctx context.Context) (domain.StoreState, error) {
	if !postgres.InTx(ctx) {
		return domain.StoreState{}, errNoTx
	}
	q := postgres.QuerierFromCtx(ctx, r.db)

	// The state row is locked on its own. Joining the versions table here
	// would drop the row on recheck after a concurrent commit moves the
	// version forward.
	sql, args, err := psql.
		Select("version", "word_count", "history_horizon").
		From(tableState).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return domain.StoreState{}, fmt.Errorf("build lock state query: %w", err)
	}

	var row stateRow
	if err := pgxscan.Get(ctx, q, &row, sql, args...); err != nil {
		return domain.StoreState{}, postgres.MapError(err, "dictionary_state", 0)
	}

	current, err := r.GetVersion(ctx, row.Version)
	if err != nil {
		return domain.StoreState{}, fmt.Errorf("lock state: %w", err)
	}
	return domain.StoreState{DictionaryVersion: current, HistoryHorizon: row.HistoryHorizon}, nil
}

// InsertEntry stores a new active entry introduced at version and returns its id.
func (r *Repo) InsertEntry(ctx context.Context, attrs domain.Attributes, version int64) (int64, error) {
	if !postgres.InTx(ctx) {
		return 0, errNoTx
	}

	payload, err := marshalAttributes(attrs)
	if err != nil {
		return 0, err
	}

	sql, args, err := psql.
		Insert(tableEntries).
		Columns("text_normalized", "attributes", "introduced_at_version", "last_modified_version").
		Values(domain.NormalizeText(attrs.Text()), payload, version, version).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert entry query: %w", err)
	}

	var id int64
	if err := postgres.QuerierFromCtx(ctx, r.db).QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, postgres.MapError(err, "dictionary_entry", 0)
	}
	return id, nil
}

// UpdateEntry replaces the attributes of an active entry.
// Returns domain.ErrNotFound if the entry does not exist or is tombstoned.
func (r *Repo) UpdateEntry(ctx context.Context, id int64, attrs domain.Attributes, version int64) error {
	if !postgres.InTx(ctx) {
		return errNoTx
	}

	payload, err := marshalAttributes(attrs)
	if err != nil {
		return err
	}

	sql, args, err := psql.
		Update(tableEntries).
		Set("text_normalized", domain.NormalizeText(attrs.Text())).
		Set("attributes", payload).
		Set("last_modified_version", version).
		Where(squirrel.Eq{"id": id, "tombstoned": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update entry query: %w", err)
	}

	return r.execOne(ctx, id, sql, args)
}

// TombstoneEntry marks an active entry deleted at version.
// Returns domain.ErrNotFound if the entry does not exist or is already tombstoned.
func (r *Repo) TombstoneEntry(ctx context.Context, id int64, version int64) error {
	if !postgres.InTx(ctx) {
		return errNoTx
	}

	sql, args, err := psql.
		Update(tableEntries).
		Set("tombstoned", true).
		Set("last_modified_version", version).
		Where(squirrel.Eq{"id": id, "tombstoned": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build tombstone entry query: %w", err)
	}

	return r.execOne(ctx, id, sql, args)
}

// SaveVersion records a new version and advances the global counter to it.
func (r *Repo) SaveVersion(ctx context.Context, v domain.DictionaryVersion) error {
	if !postgres.InTx(ctx) {
		return errNoTx
	}
	q := postgres.QuerierFromCtx(ctx, r.db)

	insertSQL, insertArgs, err := psql.
		Insert(tableVersions).
		Columns("version", "word_count", "last_modified_at").
		Values(v.Number, v.WordCount, v.LastModifiedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert version query: %w", err)
	}
	if _, err := q.Exec(ctx, insertSQL, insertArgs...); err != nil {
		return postgres.MapError(err, "dictionary_version", v.Number)
	}

	updateSQL, updateArgs, err := psql.
		Update(tableState).
		Set("version", v.Number).
		Set("word_count", v.WordCount).
		Set("updated_at", v.LastModifiedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update state query: %w", err)
	}
	if _, err := q.Exec(ctx, updateSQL, updateArgs...); err != nil {
		return postgres.MapError(err, "dictionary_state", v.Number)
	}

	return nil
}

// StampChecksum stores checksum on the version record, replacing any previous value.
func (r *Repo) StampChecksum(ctx context.Context, number int64, checksum string) error {
	sql, args, err := psql.
		Update(tableVersions).
		Set("checksum", checksum).
		Where(squirrel.Eq{"version": number}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build stamp checksum query: %w", err)
	}

	return r.execOne(ctx, number, sql, args)
}

// PurgeTombstones physically deletes tombstones last modified at or before
// horizon and returns how many rows were removed.
func (r *Repo) PurgeTombstones(ctx context.Context, horizon int64) (int, error) {
	if !postgres.InTx(ctx) {
		return 0, errNoTx
	}

	sql, args, err := psql.
		Delete(tableEntries).
		Where(squirrel.Eq{"tombstoned": true}).
		Where(squirrel.LtOrEq{"last_modified_version": horizon}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge query: %w", err)
	}

	tag, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return 0, postgres.MapError(err, "dictionary_entry", 0)
	}
	return int(tag.RowsAffected()), nil
}

// SetHistoryHorizon raises the oldest version deltas can be computed from.
// The horizon never moves backwards.
func (r *Repo) SetHistoryHorizon(ctx context.Context, horizon int64) error {
	if !postgres.InTx(ctx) {
		return errNoTx
	}

	sql, args, err := psql.
		Update(tableState).
		Set("history_horizon", squirrel.Expr("GREATEST(history_horizon, ?)", horizon)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build horizon update query: %w", err)
	}

	if _, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(err, "dictionary_state", horizon)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (r *Repo) execOne(ctx context.Context, id int64, sql string, args []any) error {
	tag, err := postgres.QuerierFromCtx(ctx, r.db).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(err, "dictionary_entry", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dictionary_entry %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func selectState(ctx context.Context, q postgres.Querier) (domain.StoreState, error) {
	sql, args, err := psql.
		Select("s.version", "s.word_count", "s.history_horizon", "v.checksum", "v.last_modified_at").
		From(tableState + " s").
		Join(tableVersions + " v ON v.version = s.version").
		ToSql()
	if err != nil {
		return domain.StoreState{}, fmt.Errorf("build state query: %w", err)
	}

	var row stateRow
	if err := pgxscan.Get(ctx, q, &row, sql, args...); err != nil {
		return domain.StoreState{}, postgres.MapError(err, "dictionary_state", 0)
	}
	return row.toDomain(), nil
}

func marshalAttributes(attrs domain.Attributes) (string, error) {
	if attrs == nil {
		attrs = domain.Attributes{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(b), nil
}

package dictentry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	postgres "github.com/heartmarshall/dictsync-backend/internal/adapter/postgres"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// snapshot reads through a REPEATABLE READ, READ ONLY transaction. It holds no
// locks that block writers; the transaction is the cursor's scope.
type snapshot struct {
	tx     pgx.Tx
	state  domain.StoreState
	closed atomic.Bool
}

func (s *snapshot) State() domain.StoreState {
	return s.state
}

func (s *snapshot) ScanActive(ctx context.Context, fn func(domain.DictionaryEntry) error) error {
	sql, args, err := psql.
		Select(entryColumns...).
		From(tableEntries).
		Where(squirrel.Eq{"tombstoned": false}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build scan query: %w", err)
	}
	return s.stream(ctx, sql, args, fn)
}

func (s *snapshot) ChangedSince(ctx context.Context, fromVersion int64, fn func(domain.DictionaryEntry) error) error {
	sql, args, err := psql.
		Select(entryColumns...).
		From(tableEntries).
		Where(squirrel.Gt{"last_modified_version": fromVersion}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build changed-since query: %w", err)
	}
	return s.stream(ctx, sql, args, fn)
}

// Close ends the snapshot transaction. Safe to call more than once.
func (s *snapshot) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return nil
}

// stream runs one query and hands rows to fn as they arrive from the server.
func (s *snapshot) stream(ctx context.Context, sql string, args []any, fn func(domain.DictionaryEntry) error) error {
	if s.closed.Load() {
		return errors.New("dictentry: snapshot is closed")
	}

	rows, err := s.tx.Query(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(err, "dictionary_entry", 0)
	}
	defer rows.Close()

	scanner := pgxscan.NewRowScanner(rows)
	for rows.Next() {
		var row entryRow
		if err := scanner.Scan(&row); err != nil {
			return fmt.Errorf("scan dictionary entry: %w", err)
		}
		entry, err := row.toDomain()
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return postgres.MapError(err, "dictionary_entry", 0)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row types
// ---------------------------------------------------------------------------

type entryRow struct {
	ID                  int64  `db:"id"`
	Attributes          []byte `db:"attributes"`
	IntroducedAtVersion int64  `db:"introduced_at_version"`
	LastModifiedVersion int64  `db:"last_modified_version"`
	Tombstoned          bool   `db:"tombstoned"`
}

func (r entryRow) toDomain() (domain.DictionaryEntry, error) {
	attrs := domain.Attributes{}
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return domain.DictionaryEntry{}, fmt.Errorf("dictionary_entry %d: decode attributes: %w", r.ID, err)
		}
	}
	return domain.DictionaryEntry{
		ID:                  r.ID,
		Attributes:          attrs,
		IntroducedAtVersion: r.IntroducedAtVersion,
		LastModifiedVersion: r.LastModifiedVersion,
		Tombstoned:          r.Tombstoned,
	}, nil
}

type versionRow struct {
	Version        int64     `db:"version"`
	WordCount      int       `db:"word_count"`
	Checksum       *string   `db:"checksum"`
	LastModifiedAt time.Time `db:"last_modified_at"`
}

func (r versionRow) toDomain() domain.DictionaryVersion {
	v := domain.DictionaryVersion{
		Number:         r.Version,
		WordCount:      r.WordCount,
		LastModifiedAt: r.LastModifiedAt.UTC(),
	}
	if r.Checksum != nil {
		v.Checksum = *r.Checksum
	}
	return v
}

type stateRow struct {
	Version        int64     `db:"version"`
	WordCount      int       `db:"word_count"`
	HistoryHorizon int64     `db:"history_horizon"`
	Checksum       *string   `db:"checksum"`
	LastModifiedAt time.Time `db:"last_modified_at"`
}

func (r stateRow) toDomain() domain.StoreState {
	version := versionRow{
		Version:        r.Version,
		WordCount:      r.WordCount,
		Checksum:       r.Checksum,
		LastModifiedAt: r.LastModifiedAt,
	}
	return domain.StoreState{
		DictionaryVersion: version.toDomain(),
		HistoryHorizon:    r.HistoryHorizon,
	}
}

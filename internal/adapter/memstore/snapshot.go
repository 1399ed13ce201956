package memstore

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

var errSnapshotClosed = errors.New("memstore: snapshot is closed")

type snapshot struct {
	store  *Store
	state  domain.StoreState
	ids    []int64
	chains map[int64]*chain
	closed atomic.Bool
}

func (s *snapshot) State() domain.StoreState {
	return s.state
}

func (s *snapshot) ScanActive(ctx context.Context, fn func(domain.DictionaryEntry) error) error {
	return s.scan(ctx, func(e domain.DictionaryEntry) bool {
		return !e.Tombstoned
	}, fn)
}

func (s *snapshot) ChangedSince(ctx context.Context, fromVersion int64, fn func(domain.DictionaryEntry) error) error {
	return s.scan(ctx, func(e domain.DictionaryEntry) bool {
		return e.LastModifiedVersion > fromVersion
	}, fn)
}

func (s *snapshot) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

// scan walks ids in ascending order. The read lock is held only while one
// revision is looked up, never while fn runs.
func (s *snapshot) scan(ctx context.Context, keep func(domain.DictionaryEntry) bool, fn func(domain.DictionaryEntry) error) error {
	if s.closed.Load() {
		return errSnapshotClosed
	}
	for _, id := range s.ids {
		if s.closed.Load() {
			return errSnapshotClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.store.mu.RLock()
		e, ok := s.chains[id].at(s.state.Number)
		s.store.mu.RUnlock()

		if !ok || !keep(e) {
			continue
		}
		if err := fn(cloneEntry(e)); err != nil {
			return err
		}
	}
	return nil
}

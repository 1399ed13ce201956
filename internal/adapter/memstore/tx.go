package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

type txCtxKey struct{}

// txn stages one transaction's writes until commit.
type txn struct {
	state   domain.StoreState
	staged  map[int64]domain.DictionaryEntry
	added   []int64 // new ids in assignment order
	lastID  int64
	version *domain.DictionaryVersion

	purge        bool
	purgeHorizon int64
}

func txFromCtx(ctx context.Context) (*txn, bool) {
	t, ok := ctx.Value(txCtxKey{}).(*txn)
	return t, ok
}

// RunInTx executes fn as one atomic write transaction. Transactions are
// serialized; snapshots keep reading the last committed version meanwhile.
// On error or panic from fn nothing is applied.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromCtx(ctx); ok {
		return errors.New("memstore: nested transactions are not supported")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	t := &txn{
		state:  s.state,
		staged: make(map[int64]domain.DictionaryEntry),
		lastID: s.lastID,
	}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txCtxKey{}, t)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.commit(t)
	return nil
}

// LockState returns the state the current transaction started from, including
// versions it has already saved.
func (s *Store) LockState(ctx context.Context) (domain.StoreState, error) {
	t, ok := txFromCtx(ctx)
	if !ok {
		return domain.StoreState{}, errNoTx
	}
	return t.state, nil
}

// InsertEntry stages a new active entry introduced at version and returns its id.
func (s *Store) InsertEntry(ctx context.Context, attrs domain.Attributes, version int64) (int64, error) {
	t, ok := txFromCtx(ctx)
	if !ok {
		return 0, errNoTx
	}

	norm := domain.NormalizeText(attrs.Text())
	if owner, taken := s.owner(t, norm); taken {
		return 0, fmt.Errorf("dictionary_entry %d: %w", owner, domain.ErrAlreadyExists)
	}

	t.lastID++
	id := t.lastID
	t.staged[id] = domain.DictionaryEntry{
		ID:                  id,
		Attributes:          attrs.Clone(),
		IntroducedAtVersion: version,
		LastModifiedVersion: version,
	}
	t.added = append(t.added, id)
	return id, nil
}

// UpdateEntry stages new attributes for an active entry.
// Returns domain.ErrNotFound if the entry does not exist or is tombstoned.
func (s *Store) UpdateEntry(ctx context.Context, id int64, attrs domain.Attributes, version int64) error {
	t, ok := txFromCtx(ctx)
	if !ok {
		return errNoTx
	}

	e, found := s.current(t, id)
	if !found || e.Tombstoned {
		return fmt.Errorf("dictionary_entry %d: %w", id, domain.ErrNotFound)
	}
	if owner, taken := s.owner(t, domain.NormalizeText(attrs.Text())); taken && owner != id {
		return fmt.Errorf("dictionary_entry %d: %w", id, domain.ErrAlreadyExists)
	}

	e.Attributes = attrs.Clone()
	e.LastModifiedVersion = version
	t.staged[id] = e
	return nil
}

// TombstoneEntry stages the deletion of an active entry.
// Returns domain.ErrNotFound if the entry does not exist or is already tombstoned.
func (s *Store) TombstoneEntry(ctx context.Context, id int64, version int64) error {
	t, ok := txFromCtx(ctx)
	if !ok {
		return errNoTx
	}

	e, found := s.current(t, id)
	if !found || e.Tombstoned {
		return fmt.Errorf("dictionary_entry %d: %w", id, domain.ErrNotFound)
	}

	e.Tombstoned = true
	e.LastModifiedVersion = version
	t.staged[id] = e
	return nil
}

// SaveVersion records a new version and advances the counter to it on commit.
func (s *Store) SaveVersion(ctx context.Context, v domain.DictionaryVersion) error {
	t, ok := txFromCtx(ctx)
	if !ok {
		return errNoTx
	}
	if v.Number != t.state.Number+1 {
		return fmt.Errorf("dictionary_version %d: %w: expected %d", v.Number, domain.ErrConflict, t.state.Number+1)
	}

	v.Checksum = ""
	t.version = &v
	t.state.DictionaryVersion = v
	return nil
}

// PurgeTombstones stages the removal of tombstones last modified at or before
// horizon and returns how many will be removed.
func (s *Store) PurgeTombstones(ctx context.Context, horizon int64) (int, error) {
	t, ok := txFromCtx(ctx)
	if !ok {
		return 0, errNoTx
	}

	s.mu.RLock()
	n := 0
	for _, c := range s.chains {
		if e := c.latest(); e.Tombstoned && e.LastModifiedVersion <= horizon {
			n++
		}
	}
	s.mu.RUnlock()

	t.purge = true
	t.purgeHorizon = horizon
	return n, nil
}

// SetHistoryHorizon raises the oldest version deltas can be computed from.
func (s *Store) SetHistoryHorizon(ctx context.Context, horizon int64) error {
	t, ok := txFromCtx(ctx)
	if !ok {
		return errNoTx
	}
	t.state.HistoryHorizon = max(t.state.HistoryHorizon, horizon)
	return nil
}

// current returns the newest revision of id as seen inside t.
func (s *Store) current(t *txn, id int64) (domain.DictionaryEntry, bool) {
	if e, ok := t.staged[id]; ok {
		return e, true
	}
	return s.lookup(id)
}

// owner returns the id of the active entry with normalized text norm as seen inside t.
func (s *Store) owner(t *txn, norm string) (int64, bool) {
	for id, e := range t.staged {
		if !e.Tombstoned && domain.NormalizeText(e.Attributes.Text()) == norm {
			return id, true
		}
	}
	id, ok := s.activeOwner(norm)
	if !ok {
		return 0, false
	}
	if _, staged := t.staged[id]; staged {
		// The staged revision no longer carries norm, or the loop above would have matched.
		return 0, false
	}
	return id, true
}

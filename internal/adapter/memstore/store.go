// Package memstore implements the dictionary store in memory.
//
// Each entry keeps a chain of revisions ordered by version, so a snapshot taken
// at version V reads the newest revision at or below V without blocking
// writers. Mutations are staged in a transaction and applied atomically on
// commit; only one transaction runs at a time.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

var errNoTx = errors.New("memstore: write requires a transaction")

type revision struct {
	version int64
	entry   domain.DictionaryEntry
}

type chain struct {
	revisions []revision
}

// at returns the newest revision visible at version.
func (c *chain) at(version int64) (domain.DictionaryEntry, bool) {
	i := sort.Search(len(c.revisions), func(i int) bool {
		return c.revisions[i].version > version
	})
	if i == 0 {
		return domain.DictionaryEntry{}, false
	}
	return c.revisions[i-1].entry, true
}

func (c *chain) latest() domain.DictionaryEntry {
	return c.revisions[len(c.revisions)-1].entry
}

// Store is a multiversion in-memory dictionary store.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	state    domain.StoreState
	versions []domain.DictionaryVersion // index is the version number
	ids      []int64                    // ascending, append-only between purges
	chains   map[int64]*chain
	active   map[string]int64 // normalized text of active entries
	lastID   int64
}

// New creates an empty store at version 0, timestamped by clock.
func New(clock clockwork.Clock) *Store {
	v0 := domain.DictionaryVersion{Number: 0, WordCount: 0, LastModifiedAt: clock.Now().UTC()}
	return &Store{
		state:    domain.StoreState{DictionaryVersion: v0},
		versions: []domain.DictionaryVersion{v0},
		chains:   make(map[int64]*chain),
		active:   make(map[string]int64),
	}
}

// Snapshot captures the committed version. It never blocks on writers for
// longer than a single map lookup.
func (s *Store) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.ids)
	return &snapshot{
		store:  s,
		state:  s.state,
		ids:    s.ids[:n:n],
		chains: s.chains,
	}, nil
}

// Ping reports whether the store can serve requests. An in-memory store
// always can.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// GetVersion returns the metadata record of a committed version.
func (s *Store) GetVersion(ctx context.Context, number int64) (domain.DictionaryVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if number < 0 || number >= int64(len(s.versions)) {
		return domain.DictionaryVersion{}, fmt.Errorf("dictionary_version %d: %w", number, domain.ErrNotFound)
	}
	return s.versions[number], nil
}

// ListVersions returns up to limit most recent versions, newest first.
func (s *Store) ListVersions(ctx context.Context, limit int) ([]domain.DictionaryVersion, error) {
	if limit <= 0 {
		return []domain.DictionaryVersion{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DictionaryVersion, 0, min(limit, len(s.versions)))
	for i := len(s.versions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.versions[i])
	}
	return out, nil
}

// HorizonBefore returns the newest version committed strictly before t, or 0.
func (s *Store) HorizonBefore(ctx context.Context, t time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var horizon int64
	for _, v := range s.versions {
		if v.LastModifiedAt.Before(t) && v.Number > horizon {
			horizon = v.Number
		}
	}
	return horizon, nil
}

// StampChecksum stores checksum on the version record, replacing any previous value.
func (s *Store) StampChecksum(ctx context.Context, number int64, checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number < 0 || number >= int64(len(s.versions)) {
		return fmt.Errorf("dictionary_version %d: %w", number, domain.ErrNotFound)
	}
	s.versions[number].Checksum = checksum
	if s.state.Number == number {
		s.state.Checksum = checksum
	}
	return nil
}

// lookup returns the newest committed revision of id.
func (s *Store) lookup(id int64) (domain.DictionaryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[id]
	if !ok {
		return domain.DictionaryEntry{}, false
	}
	return c.latest(), true
}

func (s *Store) activeOwner(norm string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[norm]
	return id, ok
}

// commit applies a finished transaction. Caller holds writeMu.
func (s *Store) commit(t *txn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range t.staged {
		c, ok := s.chains[id]
		if !ok {
			c = &chain{}
			s.chains[id] = c
		} else if prev := c.latest(); !prev.Tombstoned {
			norm := domain.NormalizeText(prev.Attributes.Text())
			if s.active[norm] == id {
				delete(s.active, norm)
			}
		}
		c.revisions = append(c.revisions, revision{version: e.LastModifiedVersion, entry: e})
		if !e.Tombstoned {
			s.active[domain.NormalizeText(e.Attributes.Text())] = id
		}
	}
	s.ids = append(s.ids, t.added...)
	s.lastID = t.lastID

	if t.version != nil {
		s.versions = append(s.versions, *t.version)
	}
	if t.purge {
		s.purgeLocked(t.purgeHorizon)
	}
	s.state = t.state
}

// purgeLocked drops tombstones at or below horizon. Open snapshots keep the
// previous index and chain map, so their view is unchanged.
func (s *Store) purgeLocked(horizon int64) {
	chains := make(map[int64]*chain, len(s.chains))
	ids := make([]int64, 0, len(s.ids))
	for _, id := range s.ids {
		c := s.chains[id]
		if e := c.latest(); e.Tombstoned && e.LastModifiedVersion <= horizon {
			continue
		}
		chains[id] = c
		ids = append(ids, id)
	}
	s.chains = chains
	s.ids = ids
}

func cloneEntry(e domain.DictionaryEntry) domain.DictionaryEntry {
	e.Attributes = e.Attributes.Clone()
	return e
}

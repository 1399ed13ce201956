package export

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// Stream is a lazy, finite, single-pass sequence of the active entries of one
// version. Entries committed after the stream was opened never appear.
type Stream struct {
	snap     domain.Snapshot
	version  domain.DictionaryVersion
	consumed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Version returns the version the stream is bound to. Checksum is set only
// when it was already known when the stream opened.
func (s *Stream) Version() domain.DictionaryVersion {
	return s.version
}

// ForEach calls fn for every entry in canonical order and stops at the first
// error. The stream is closed when ForEach returns, whatever the outcome.
// A second call returns ErrStreamConsumed.
func (s *Stream) ForEach(ctx context.Context, fn func(domain.DictionaryEntry) error) error {
	if !s.consumed.CompareAndSwap(false, true) {
		return domain.ErrStreamConsumed
	}
	defer s.Close(ctx)

	return s.snap.ScanActive(ctx, fn)
}

// Close releases the underlying snapshot. It is safe to call more than once.
func (s *Stream) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.consumed.Store(true)
		s.closeErr = s.snap.Close(context.WithoutCancel(ctx))
	})
	return s.closeErr
}

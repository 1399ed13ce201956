package domain

import "context"

// Snapshot is a consistent read view of the dictionary at State().Number.
// Mutations committed after the snapshot was opened are never visible through it.
// Close must be called on every exit path; it is safe to call more than once.
type Snapshot interface {
	State() StoreState
	// ScanActive calls fn for every non-tombstoned entry in ascending id order.
	// Iteration stops at the first error returned by fn, which is returned as is.
	ScanActive(ctx context.Context, fn func(DictionaryEntry) error) error
	// ChangedSince calls fn, in ascending id order, for every entry (tombstones
	// included) whose LastModifiedVersion is greater than fromVersion.
	ChangedSince(ctx context.Context, fromVersion int64, fn func(DictionaryEntry) error) error
	Close(ctx context.Context) error
}

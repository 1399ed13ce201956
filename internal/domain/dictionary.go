package domain

import (
	"maps"
	"slices"
	"time"
)

// Well-known attribute names. Attributes are otherwise an opaque bag.
const (
	AttrText          = "text"
	AttrPartOfSpeech  = "part_of_speech"
	AttrFrequencyRank = "frequency_rank"
)

// Attributes maps attribute names to values. Its canonical order is ascending
// by name; see SortedNames.
type Attributes map[string]string

// SortedNames returns the attribute names in canonical order.
func (a Attributes) SortedNames() []string {
	return slices.Sorted(maps.Keys(a))
}

// Clone returns an independent copy of the attribute bag.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Text returns the display form of the word.
func (a Attributes) Text() string {
	return a[AttrText]
}

// DictionaryEntry is a single dictionary word with its version stamps.
type DictionaryEntry struct {
	ID                  int64
	Attributes          Attributes
	IntroducedAtVersion int64
	LastModifiedVersion int64
	Tombstoned          bool
}

// DictionaryVersion is an immutable marker of dictionary state.
// Checksum is empty until it has been computed for this version.
type DictionaryVersion struct {
	Number         int64
	WordCount      int
	Checksum       string
	LastModifiedAt time.Time
}

// StoreState is the committed state a snapshot was taken at.
// HistoryHorizon is the oldest version from which a delta can still be computed.
type StoreState struct {
	DictionaryVersion
	HistoryHorizon int64
}

// ChangeKind enumerates delta record kinds.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "ADD"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// ChangeRecord is one unit of a delta. Entry is nil for DELETE.
type ChangeRecord struct {
	Kind  ChangeKind
	ID    int64
	Entry *DictionaryEntry
}

// DeltaResult is either a change list or a full-sync signal.
type DeltaResult struct {
	RequiresFullSync bool
	Reason           string

	FromVersion int64
	ToVersion   int64
	ChangeCount int
	Changes     []ChangeRecord
}

// Full-sync reasons.
const (
	ReasonHistoryNotRetained = "version too old / history not retained"
	ReasonDeltaTooLarge      = "delta too large relative to full dataset"
)

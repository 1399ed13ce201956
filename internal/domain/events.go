package domain

import "time"

// VersionCommitted is published after a mutation batch commits.
type VersionCommitted struct {
	Version     int64
	WordCount   int
	Added       int
	Updated     int
	Deleted     int
	CommittedAt time.Time
}

package rest

import (
	"strings"
	"time"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

type versionResponse struct {
	Version        int64     `json:"version"`
	WordCount      int       `json:"wordCount"`
	Checksum       string    `json:"checksum"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

type entryResponse struct {
	ID         int64             `json:"id"`
	Attributes domain.Attributes `json:"attributes"`
}

type fullResponse struct {
	Version    int64           `json:"version"`
	TotalWords int             `json:"totalWords"`
	Words      []entryResponse `json:"words"`
}

type changeResponse struct {
	Kind  domain.ChangeKind `json:"kind"`
	ID    int64             `json:"id"`
	Entry *entryResponse    `json:"entry,omitempty"`
}

type deltaResponse struct {
	RequiresFullSync bool             `json:"requiresFullSync"`
	FromVersion      int64            `json:"fromVersion"`
	ToVersion        int64            `json:"toVersion"`
	ChangeCount      int              `json:"changeCount"`
	Changes          []changeResponse `json:"changes"`
}

type fullSyncResponse struct {
	RequiresFullSync bool   `json:"requiresFullSync"`
	Reason           string `json:"reason"`
}

type checksumResponse struct {
	Checksum string `json:"checksum"`
}

type mutationRequest struct {
	Kind       string            `json:"kind"`
	ID         int64             `json:"id,omitempty"`
	Attributes domain.Attributes `json:"attributes,omitempty"`
}

type mutationsRequest struct {
	Mutations []mutationRequest `json:"mutations"`
}

type commitResponse struct {
	Version  versionResponse `json:"version"`
	Added    int             `json:"added"`
	Updated  int             `json:"updated"`
	Deleted  int             `json:"deleted"`
	AddedIDs []int64         `json:"addedIds"`
}

type purgeRequest struct {
	Before time.Time `json:"before"`
}

type purgeResponse struct {
	HistoryHorizon int64 `json:"historyHorizon"`
	Purged         int   `json:"purged"`
}

func toVersionResponse(v domain.DictionaryVersion) versionResponse {
	return versionResponse{
		Version:        v.Number,
		WordCount:      v.WordCount,
		Checksum:       v.Checksum,
		LastModifiedAt: v.LastModifiedAt,
	}
}

func toEntryResponse(e domain.DictionaryEntry) entryResponse {
	attrs := e.Attributes
	if attrs == nil {
		attrs = domain.Attributes{}
	}
	return entryResponse{ID: e.ID, Attributes: attrs}
}

func toDeltaResponse(d domain.DeltaResult) deltaResponse {
	changes := make([]changeResponse, len(d.Changes))
	for i, c := range d.Changes {
		changes[i] = changeResponse{Kind: c.Kind, ID: c.ID}
		if c.Entry != nil {
			entry := toEntryResponse(*c.Entry)
			changes[i].Entry = &entry
		}
	}
	return deltaResponse{
		FromVersion: d.FromVersion,
		ToVersion:   d.ToVersion,
		ChangeCount: d.ChangeCount,
		Changes:     changes,
	}
}

func (r mutationsRequest) toDomain() []domain.Mutation {
	muts := make([]domain.Mutation, len(r.Mutations))
	for i, m := range r.Mutations {
		muts[i] = domain.Mutation{
			Kind:       domain.MutationKind(strings.ToLower(m.Kind)),
			ID:         m.ID,
			Attributes: m.Attributes,
		}
	}
	return muts
}

func toCommitResponse(res domain.CommitResult) commitResponse {
	ids := res.AddedIDs
	if ids == nil {
		ids = []int64{}
	}
	return commitResponse{
		Version:  toVersionResponse(res.Version),
		Added:    res.Added,
		Updated:  res.Updated,
		Deleted:  res.Deleted,
		AddedIDs: ids,
	}
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
	"github.com/heartmarshall/dictsync-backend/internal/service/export"
)

const maxRequestBody = 8 << 20

type syncService interface {
	GetVersion(ctx context.Context) (domain.DictionaryVersion, error)
	GetFull(ctx context.Context) (export.Full, error)
	GetDelta(ctx context.Context, from int64) (domain.DeltaResult, error)
	GetStream(ctx context.Context) (*export.Stream, error)
	RecomputeChecksum(ctx context.Context) (string, error)
	ListVersions(ctx context.Context, limit int) ([]domain.DictionaryVersion, error)
	ApplyMutations(ctx context.Context, muts []domain.Mutation) (domain.CommitResult, error)
	PurgeHistory(ctx context.Context, before time.Time) (domain.PurgeResult, error)
}

// SyncHandler serves the dictionary sync endpoints.
type SyncHandler struct {
	svc        syncService
	log        *slog.Logger
	flushEvery int
}

// NewSyncHandler creates a SyncHandler. Streams are flushed every flushEvery entries.
func NewSyncHandler(svc syncService, logger *slog.Logger, flushEvery int) *SyncHandler {
	return &SyncHandler{
		svc:        svc,
		log:        logger.With("handler", "sync"),
		flushEvery: flushEvery,
	}
}

// Version returns the current version metadata.
// GET /api/v1/dictionary/version
func (h *SyncHandler) Version(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetVersion(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	setVersionHeaders(w, v)
	writeJSON(w, http.StatusOK, toVersionResponse(v))
}

// Full returns every active entry of the current version.
// GET /api/v1/dictionary/full
func (h *SyncHandler) Full(w http.ResponseWriter, r *http.Request) {
	full, err := h.svc.GetFull(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	words := make([]entryResponse, len(full.Words))
	for i, e := range full.Words {
		words[i] = toEntryResponse(e)
	}
	setVersionHeaders(w, full.Version)
	writeJSON(w, http.StatusOK, fullResponse{
		Version:    full.Version.Number,
		TotalWords: len(words),
		Words:      words,
	})
}

// Delta returns the changes since a client version.
// GET /api/v1/dictionary/delta?from=N
func (h *SyncHandler) Delta(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		h.handleError(w, r, domain.NewValidationError("from", "required"))
		return
	}
	from, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.handleError(w, r, domain.NewValidationError("from", "must be a non-negative integer"))
		return
	}

	res, err := h.svc.GetDelta(r.Context(), from)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set(headerVersion, strconv.FormatInt(res.ToVersion, 10))
	if res.RequiresFullSync {
		writeJSON(w, http.StatusOK, fullSyncResponse{RequiresFullSync: true, Reason: res.Reason})
		return
	}
	writeJSON(w, http.StatusOK, toDeltaResponse(res))
}

// Stream writes the current version as NDJSON, one entry per line. The version
// headers are sent before the first entry. A failure after the headers went
// out aborts the connection so the client never mistakes a cut body for a
// complete one.
// GET /api/v1/dictionary/stream
func (h *SyncHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stream, err := h.svc.GetStream(ctx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer stream.Close(ctx)

	v := stream.Version()
	setVersionHeaders(w, v)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() error {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}
	if err := flush(); err != nil {
		return
	}

	enc := json.NewEncoder(w)
	written := 0
	err = stream.ForEach(ctx, func(e domain.DictionaryEntry) error {
		if err := enc.Encode(toEntryResponse(e)); err != nil {
			return err
		}
		written++
		if h.flushEvery > 0 && written%h.flushEvery == 0 {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err == nil {
		return
	}

	if ctx.Err() != nil {
		h.log.InfoContext(ctx, "stream cancelled by client",
			slog.Int64("version", v.Number),
			slog.Int("written", written),
		)
		return
	}
	h.log.ErrorContext(ctx, "stream aborted",
		slog.Int64("version", v.Number),
		slog.Int("written", written),
		slog.String("error", err.Error()),
	)
	panic(http.ErrAbortHandler)
}

// RecomputeChecksum rescans the current version and returns its checksum.
// POST /api/v1/dictionary/checksum/recompute
func (h *SyncHandler) RecomputeChecksum(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.RecomputeChecksum(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checksumResponse{Checksum: sum})
}

// Versions lists recent versions, newest first.
// GET /api/v1/dictionary/versions?limit=N
func (h *SyncHandler) Versions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.handleError(w, r, domain.NewValidationError("limit", "must be an integer"))
			return
		}
		limit = n
	}

	versions, err := h.svc.ListVersions(r.Context(), limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out := make([]versionResponse, len(versions))
	for i, v := range versions {
		out[i] = toVersionResponse(v)
	}
	writeJSON(w, http.StatusOK, out)
}

// Mutations commits a batch of entry mutations as one new version.
// POST /api/v1/dictionary/mutations
func (h *SyncHandler) Mutations(w http.ResponseWriter, r *http.Request) {
	var req mutationsRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.ApplyMutations(r.Context(), req.toDomain())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	setVersionHeaders(w, res.Version)
	writeJSON(w, http.StatusOK, toCommitResponse(res))
}

// PurgeHistory removes tombstones of versions committed before the given time.
// POST /api/v1/dictionary/history/purge
func (h *SyncHandler) PurgeHistory(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.PurgeHistory(r.Context(), req.Before)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{HistoryHorizon: res.HistoryHorizon, Purged: res.Purged})
}

func (h *SyncHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

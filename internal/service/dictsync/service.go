// Package dictsync is the boundary the transport layer talks to. It validates
// input, delegates to the version tracker and the delta, export and checksum
// engines, and logs storage failures with the operation that hit them.
package dictsync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
	"github.com/heartmarshall/dictsync-backend/internal/service/export"
)

// ---------------------------------------------------------------------------
// Consumer-defined interfaces (private)
// ---------------------------------------------------------------------------

type versionTracker interface {
	Current(ctx context.Context) (domain.DictionaryVersion, error)
	ListVersions(ctx context.Context, limit int) ([]domain.DictionaryVersion, error)
	Apply(ctx context.Context, muts []domain.Mutation) (domain.CommitResult, error)
	PurgeHistory(ctx context.Context, before time.Time) (domain.PurgeResult, error)
}

type deltaEngine interface {
	Compute(ctx context.Context, from int64) (domain.DeltaResult, error)
}

type exportEngine interface {
	Full(ctx context.Context) (export.Full, error)
	Open(ctx context.Context) (*export.Stream, error)
}

type checksumRepairer interface {
	Recompute(ctx context.Context) (domain.DictionaryVersion, error)
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service composes the sync components.
type Service struct {
	log       *slog.Logger
	versions  versionTracker
	deltas    deltaEngine
	exports   exportEngine
	checksums checksumRepairer
}

// NewService creates a new Service.
func NewService(
	logger *slog.Logger,
	versions versionTracker,
	deltas deltaEngine,
	exports exportEngine,
	checksums checksumRepairer,
) *Service {
	return &Service{
		log:       logger.With("service", "dictsync"),
		versions:  versions,
		deltas:    deltas,
		exports:   exports,
		checksums: checksums,
	}
}

// GetVersion returns the current version with its checksum.
func (s *Service) GetVersion(ctx context.Context) (domain.DictionaryVersion, error) {
	v, err := s.versions.Current(ctx)
	if err != nil {
		return domain.DictionaryVersion{}, s.fail(ctx, "get_version", err)
	}
	return v, nil
}

// GetFull returns every active entry of the current version.
func (s *Service) GetFull(ctx context.Context) (export.Full, error) {
	full, err := s.exports.Full(ctx)
	if err != nil {
		return export.Full{}, s.fail(ctx, "get_full", err)
	}
	return full, nil
}

// GetDelta returns the changes since from, or a full-sync signal.
func (s *Service) GetDelta(ctx context.Context, from int64) (domain.DeltaResult, error) {
	if from < 0 {
		return domain.DeltaResult{}, domain.NewValidationError("from", "must be a non-negative integer")
	}
	res, err := s.deltas.Compute(ctx, from)
	if err != nil {
		return domain.DeltaResult{}, s.fail(ctx, "get_delta", err, slog.Int64("from_version", from))
	}
	return res, nil
}

// GetStream opens a single-pass export of the current version. The caller
// must Close the stream.
func (s *Service) GetStream(ctx context.Context) (*export.Stream, error) {
	stream, err := s.exports.Open(ctx)
	if err != nil {
		return nil, s.fail(ctx, "get_stream", err)
	}
	return stream, nil
}

// RecomputeChecksum rescans the current version and returns its checksum.
func (s *Service) RecomputeChecksum(ctx context.Context) (string, error) {
	v, err := s.checksums.Recompute(ctx)
	if err != nil {
		return "", s.fail(ctx, "recompute_checksum", err)
	}
	return v.Checksum, nil
}

// ListVersions returns recent versions, newest first.
func (s *Service) ListVersions(ctx context.Context, limit int) ([]domain.DictionaryVersion, error) {
	if limit < 0 {
		return nil, domain.NewValidationError("limit", "must be a non-negative integer")
	}
	versions, err := s.versions.ListVersions(ctx, limit)
	if err != nil {
		return nil, s.fail(ctx, "list_versions", err)
	}
	return versions, nil
}

// ApplyMutations commits muts as one new version.
func (s *Service) ApplyMutations(ctx context.Context, muts []domain.Mutation) (domain.CommitResult, error) {
	res, err := s.versions.Apply(ctx, muts)
	if err != nil {
		return domain.CommitResult{}, s.fail(ctx, "apply_mutations", err, slog.Int("mutations", len(muts)))
	}
	return res, nil
}

// PurgeHistory removes tombstones of versions committed before before.
func (s *Service) PurgeHistory(ctx context.Context, before time.Time) (domain.PurgeResult, error) {
	if before.IsZero() {
		return domain.PurgeResult{}, domain.NewValidationError("before", "required")
	}
	res, err := s.versions.PurgeHistory(ctx, before)
	if err != nil {
		return domain.PurgeResult{}, s.fail(ctx, "purge_history", err, slog.Time("before", before))
	}
	return res, nil
}

// fail logs err when it is a storage failure and returns it unchanged.
// Client errors and cancellations are returned without logging.
func (s *Service) fail(ctx context.Context, op string, err error, attrs ...slog.Attr) error {
	if isClientError(err) {
		return err
	}
	args := []any{slog.String("operation", op), slog.String("error", err.Error())}
	for _, a := range attrs {
		args = append(args, a)
	}
	s.log.ErrorContext(ctx, "sync operation failed", args...)
	return err
}

func isClientError(err error) bool {
	for _, target := range []error{
		domain.ErrValidation,
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrConflict,
		domain.ErrHistoryUnavailable,
		domain.ErrPayloadTooLarge,
		context.Canceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

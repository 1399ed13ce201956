// Package seeder bulk-imports words into the dictionary from JSONL files.
// Each line is a JSON object of attributes with at least "text". Words are
// committed in fixed-size chunks, one dictionary version per chunk, so a large
// import never holds the version lock for long. Words already present in the
// dictionary are skipped, which makes re-running an import safe.
package seeder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

const maxLineSize = 1 << 20

type mutationApplier interface {
	Apply(ctx context.Context, muts []domain.Mutation) (domain.CommitResult, error)
}

type snapshotter interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// Stats summarizes an import run.
type Stats struct {
	TotalLines   int
	SkippedLines int
	InvalidLines int
	Duplicates   int
	Imported     int
	Batches      int
	LastVersion  int64
}

// Seeder imports words through the version tracker.
type Seeder struct {
	log       *slog.Logger
	tracker   mutationApplier
	store     snapshotter
	chunkSize int
	dryRun    bool
}

// New creates a Seeder committing chunkSize words per version.
func New(logger *slog.Logger, tracker mutationApplier, store snapshotter, chunkSize int, dryRun bool) *Seeder {
	return &Seeder{
		log:       logger.With("service", "seeder"),
		tracker:   tracker,
		store:     store,
		chunkSize: max(chunkSize, 1),
		dryRun:    dryRun,
	}
}

// Run reads JSONL words from r and commits them. Invalid lines are logged and
// counted, not fatal. A failed chunk stops the run; chunks committed before it
// stay committed.
func (s *Seeder) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats

	seen, err := s.existingWords(ctx)
	if err != nil {
		return stats, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	batch := make([]domain.Mutation, 0, s.chunkSize)
	for scanner.Scan() {
		stats.TotalLines++

		attrs, err := parseLine(scanner.Text())
		if errors.Is(err, errSkipLine) {
			stats.SkippedLines++
			continue
		}
		if err != nil {
			stats.InvalidLines++
			s.log.WarnContext(ctx, "invalid word line",
				slog.Int("line", stats.TotalLines),
				slog.String("error", err.Error()),
			)
			continue
		}

		norm := domain.NormalizeText(attrs.Text())
		if _, ok := seen[norm]; ok {
			stats.Duplicates++
			continue
		}
		seen[norm] = struct{}{}

		batch = append(batch, domain.Mutation{Kind: domain.MutationAdd, Attributes: attrs})
		if len(batch) == s.chunkSize {
			if err := s.commit(ctx, batch, &stats); err != nil {
				return stats, err
			}
			batch = make([]domain.Mutation, 0, s.chunkSize)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read input at line %d: %w", stats.TotalLines+1, err)
	}

	if len(batch) > 0 {
		if err := s.commit(ctx, batch, &stats); err != nil {
			return stats, err
		}
	}

	s.log.InfoContext(ctx, "import finished",
		slog.Int("lines", stats.TotalLines),
		slog.Int("imported", stats.Imported),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("invalid", stats.InvalidLines),
		slog.Int("batches", stats.Batches),
		slog.Int64("version", stats.LastVersion),
		slog.Bool("dry_run", s.dryRun),
	)
	return stats, nil
}

func (s *Seeder) commit(ctx context.Context, batch []domain.Mutation, stats *Stats) error {
	stats.Batches++
	if s.dryRun {
		stats.Imported += len(batch)
		return nil
	}

	res, err := s.tracker.Apply(ctx, batch)
	if err != nil {
		return fmt.Errorf("commit batch %d: %w", stats.Batches, err)
	}
	stats.Imported += res.Added
	stats.LastVersion = res.Version.Number

	s.log.DebugContext(ctx, "batch committed",
		slog.Int("batch", stats.Batches),
		slog.Int("added", res.Added),
		slog.Int64("version", res.Version.Number),
	)
	return nil
}

// existingWords returns the normalized text of every active word.
func (s *Seeder) existingWords(ctx context.Context) (map[string]struct{}, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer snap.Close(ctx)

	seen := make(map[string]struct{}, snap.State().WordCount)
	err = snap.ScanActive(ctx, func(e domain.DictionaryEntry) error {
		seen[domain.NormalizeText(e.Attributes.Text())] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan active words: %w", err)
	}
	return seen, nil
}

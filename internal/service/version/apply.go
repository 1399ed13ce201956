package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

const commitRetryBase = 20 * time.Millisecond

// Apply commits a mutation batch as exactly one new version. Reading the
// current version, writing entries and saving the next version happen in one
// transaction under the state lock, so concurrent batches never share or skip
// a version. Concurrency conflicts are retried up to cfg.MaxCommitRetries times.
func (t *Tracker) Apply(ctx context.Context, muts []domain.Mutation) (domain.CommitResult, error) {
	if err := domain.ValidateMutations(muts, t.cfg.MaxMutationsPerBatch); err != nil {
		return domain.CommitResult{}, err
	}

	backoff := retry.WithMaxRetries(uint64(t.cfg.MaxCommitRetries), retry.NewExponential(commitRetryBase))

	var result domain.CommitResult
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		result, err = t.commit(ctx, muts)
		if errors.Is(err, domain.ErrConflict) {
			t.log.WarnContext(ctx, "mutation batch conflicted, retrying", slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return domain.CommitResult{}, err
	}

	t.log.InfoContext(ctx, "version committed",
		slog.Int64("version", result.Version.Number),
		slog.Int("word_count", result.Version.WordCount),
		slog.Int("added", result.Added),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
	)

	if t.events != nil {
		t.events.Publish(domain.VersionCommitted{
			Version:     result.Version.Number,
			WordCount:   result.Version.WordCount,
			Added:       result.Added,
			Updated:     result.Updated,
			Deleted:     result.Deleted,
			CommittedAt: result.Version.LastModifiedAt,
		})
	}

	return result, nil
}

func (t *Tracker) commit(ctx context.Context, muts []domain.Mutation) (domain.CommitResult, error) {
	var result domain.CommitResult

	err := t.tx.RunInTx(ctx, func(txCtx context.Context) error {
		result = domain.CommitResult{}

		state, err := t.store.LockState(txCtx)
		if err != nil {
			return fmt.Errorf("lock state: %w", err)
		}
		next := state.Number + 1

		for i, m := range muts {
			switch m.Kind {
			case domain.MutationAdd:
				id, err := t.store.InsertEntry(txCtx, m.Attributes, next)
				if err != nil {
					return fmt.Errorf("mutations[%d]: add: %w", i, err)
				}
				result.AddedIDs = append(result.AddedIDs, id)
				result.Added++
			case domain.MutationUpdate:
				if err := t.store.UpdateEntry(txCtx, m.ID, m.Attributes, next); err != nil {
					return fmt.Errorf("mutations[%d]: update: %w", i, err)
				}
				result.Updated++
			case domain.MutationDelete:
				if err := t.store.TombstoneEntry(txCtx, m.ID, next); err != nil {
					return fmt.Errorf("mutations[%d]: delete: %w", i, err)
				}
				result.Deleted++
			}
		}

		result.Version = domain.DictionaryVersion{
			Number:         next,
			WordCount:      state.WordCount + result.Added - result.Deleted,
			LastModifiedAt: t.clock.Now().UTC(),
		}
		if err := t.store.SaveVersion(txCtx, result.Version); err != nil {
			return fmt.Errorf("save version %d: %w", next, err)
		}
		return nil
	})
	if err != nil {
		return domain.CommitResult{}, err
	}
	return result, nil
}

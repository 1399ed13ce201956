package version

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// PurgeHistory physically removes tombstones whose deletion committed before
// before, and raises the history horizon to the newest version committed before
// it. Deltas from versions below the horizon then require a full sync. The
// current version does not change.
func (t *Tracker) PurgeHistory(ctx context.Context, before time.Time) (domain.PurgeResult, error) {
	var result domain.PurgeResult

	err := t.tx.RunInTx(ctx, func(txCtx context.Context) error {
		state, err := t.store.LockState(txCtx)
		if err != nil {
			return fmt.Errorf("lock state: %w", err)
		}

		horizon, err := t.store.HorizonBefore(txCtx, before)
		if err != nil {
			return fmt.Errorf("find horizon: %w", err)
		}
		if horizon <= state.HistoryHorizon {
			result = domain.PurgeResult{HistoryHorizon: state.HistoryHorizon}
			return nil
		}

		purged, err := t.store.PurgeTombstones(txCtx, horizon)
		if err != nil {
			return fmt.Errorf("purge tombstones: %w", err)
		}
		if err := t.store.SetHistoryHorizon(txCtx, horizon); err != nil {
			return fmt.Errorf("set history horizon: %w", err)
		}

		result = domain.PurgeResult{HistoryHorizon: horizon, Purged: purged}
		return nil
	})
	if err != nil {
		return domain.PurgeResult{}, err
	}

	t.log.InfoContext(ctx, "history purged",
		slog.Int64("history_horizon", result.HistoryHorizon),
		slog.Int("purged", result.Purged),
		slog.Time("before", before),
	)
	return result, nil
}

// PurgeExpired purges history older than cfg.HistoryRetention.
func (t *Tracker) PurgeExpired(ctx context.Context) (domain.PurgeResult, error) {
	return t.PurgeHistory(ctx, t.clock.Now().Add(-t.cfg.HistoryRetention()))
}

// Command cleanup physically removes tombstones older than the configured
// history retention and raises the history horizon accordingly. Clients whose
// last sync predates the new horizon are told to perform a full sync. It is
// intended to be invoked by an external cron job, not as an in-process goroutine.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/heartmarshall/dictsync-backend/internal/app"
	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	res, err := run(context.Background(), logger, cfg, clockwork.NewRealClock())
	if err != nil {
		logger.Error("history purge failed",
			slog.String("error", err.Error()),
			slog.Int("retention_days", cfg.Sync.HistoryRetentionDays),
		)
		os.Exit(1)
	}

	logger.Info("history purge completed",
		slog.Int("purged", res.Purged),
		slog.Int64("history_horizon", res.HistoryHorizon),
		slog.Int("retention_days", cfg.Sync.HistoryRetentionDays),
	)
}

// run purges expired history. Storage is closed before it returns.
func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, clock clockwork.Clock) (domain.PurgeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	storage, err := app.OpenStorage(ctx, cfg.Database, clock)
	if err != nil {
		return domain.PurgeResult{}, fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	tracker, _, err := app.NewTracker(logger, storage, cfg.Sync, clock)
	if err != nil {
		return domain.PurgeResult{}, fmt.Errorf("create tracker: %w", err)
	}
	return tracker.PurgeExpired(ctx)
}

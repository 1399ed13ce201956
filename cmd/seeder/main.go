// Command seeder bulk-imports words into the dictionary from a JSONL file,
// one JSON object of attributes per line. Words are committed in chunks of
// sync.import_chunk_size, one dictionary version per chunk. Words already in
// the dictionary are skipped, so an interrupted import can simply be re-run.
//
// Flags:
//
//	--input          path to the JSONL file ("-" for stdin); overrides SEEDER_INPUT_PATH
//	--dry-run        parse the input without committing
//	--seeder-config  path to seeder YAML config file
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/heartmarshall/dictsync-backend/internal/app"
	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/seeder"
)

func main() {
	inputFlag := flag.String("input", "", "path to the JSONL word file (\"-\" for stdin)")
	dryRunFlag := flag.Bool("dry-run", false, "parse the input without committing")
	seederConfigFlag := flag.String("seeder-config", "", "path to seeder YAML config file")
	flag.Parse()

	appCfg, err := config.Load()
	if err != nil {
		log.Fatalf("load app config: %v", err)
	}

	logger := app.NewLogger(appCfg.Log)

	seederCfg, err := seeder.LoadConfig(*seederConfigFlag)
	if err != nil {
		logger.Error("load seeder config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// CLI flags override config.
	if *inputFlag != "" {
		seederCfg.InputPath = *inputFlag
	}
	if *dryRunFlag {
		seederCfg.DryRun = true
	}
	if seederCfg.InputPath == "" {
		logger.Error("no input: pass --input or set SEEDER_INPUT_PATH")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	stats, err := run(ctx, logger, appCfg, seederCfg, clockwork.NewRealClock())
	stop()
	if err != nil {
		logger.Error("import failed",
			slog.String("error", err.Error()),
			slog.Int("imported", stats.Imported),
			slog.Int64("version", stats.LastVersion),
		)
		os.Exit(1)
	}
}

// run imports seederCfg.InputPath. Input and storage are closed before it
// returns.
func run(ctx context.Context, logger *slog.Logger, appCfg *config.Config, seederCfg *seeder.Config, clock clockwork.Clock) (seeder.Stats, error) {
	input, err := openInput(seederCfg.InputPath)
	if err != nil {
		return seeder.Stats{}, fmt.Errorf("open input %s: %w", seederCfg.InputPath, err)
	}
	defer input.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	storage, err := app.OpenStorage(ctx, appCfg.Database, clock)
	if err != nil {
		return seeder.Stats{}, fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	tracker, _, err := app.NewTracker(logger, storage, appCfg.Sync, clock)
	if err != nil {
		return seeder.Stats{}, fmt.Errorf("create tracker: %w", err)
	}

	s := seeder.New(logger, tracker, storage.Store, appCfg.Sync.ImportChunkSize, seederCfg.DryRun)
	return s.Run(ctx, input)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

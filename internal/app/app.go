package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/dictsync-backend/internal/auth"
	"github.com/heartmarshall/dictsync-backend/internal/config"
	"github.com/heartmarshall/dictsync-backend/internal/service/delta"
	"github.com/heartmarshall/dictsync-backend/internal/service/dictsync"
	"github.com/heartmarshall/dictsync-backend/internal/service/export"
	"github.com/heartmarshall/dictsync-backend/internal/service/notify"
	"github.com/heartmarshall/dictsync-backend/internal/transport/middleware"
	"github.com/heartmarshall/dictsync-backend/internal/transport/rest"
)

// Run is the application entry point. It loads configuration, connects the
// dictionary store, wires the sync services and serves the HTTP API until ctx
// is cancelled, then shuts down gracefully.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)

	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
		slog.String("database_driver", cfg.Database.Driver),
	)

	clock := clockwork.NewRealClock()

	storage, err := OpenStorage(ctx, cfg.Database, clock)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	svc, notifier, err := newSyncService(logger, storage, cfg.Sync, clock)
	if err != nil {
		return err
	}

	handler, limiter, err := newHTTPHandler(cfg, logger, svc, storage)
	if err != nil {
		return err
	}
	defer limiter.Stop()

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return notifier.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", slog.Duration("timeout", cfg.Server.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("application stopped with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("application stopped", slog.Int64("dropped_notifications", notifier.Dropped()))
	return nil
}

// newSyncService wires the sync engines over storage. Commit events go to the
// returned notifier, which the caller must run.
func newSyncService(logger *slog.Logger, storage *Storage, cfg config.SyncConfig, clock clockwork.Clock) (*dictsync.Service, *notify.Notifier, error) {
	tracker, sums, err := NewTracker(logger, storage, cfg, clock)
	if err != nil {
		return nil, nil, err
	}

	notifier := notify.New(logger, cfg.NotifyQueueSize, notify.LogHandler(logger))
	tracker.SetPublisher(notifier)

	svc := dictsync.NewService(
		logger,
		tracker,
		delta.NewEngine(logger, storage.Store, cfg),
		export.NewEngine(logger, storage.Store, sums, cfg),
		sums,
	)
	return svc, notifier, nil
}

// newHTTPHandler builds the router and the global middleware chain. The
// returned limiter must be stopped on shutdown.
func newHTTPHandler(cfg *config.Config, logger *slog.Logger, svc *dictsync.Service, storage *Storage) (http.Handler, *middleware.RateLimiter, error) {
	var compress middleware.Middleware
	if cfg.Server.Compress {
		mw, err := middleware.Compress()
		if err != nil {
			return nil, nil, fmt.Errorf("compression middleware: %w", err)
		}
		compress = mw
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.CleanupInterval)

	router := rest.NewRouter(
		rest.NewSyncHandler(svc, logger, cfg.Sync.StreamFlushEvery),
		rest.NewHealthHandler(storage.Pinger, storage.Driver, Version),
		limiter.Limit(cfg.RateLimit.ExportPerMinute),
	)

	chain := middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logger(logger),
		middleware.CORS(cfg.CORS),
		compress,
		middleware.Auth(jwtManager),
	)

	return chain(router), limiter, nil
}

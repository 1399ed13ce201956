// Package notify delivers commit events to subscribers outside the mutation
// transaction.
package notify

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// Handler consumes one commit event. An error is logged and does not stop delivery.
type Handler func(ctx context.Context, event domain.VersionCommitted) error

// Notifier queues commit events and delivers them from Run.
type Notifier struct {
	log      *slog.Logger
	queue    chan domain.VersionCommitted
	handlers []Handler
	dropped  atomic.Int64
}

// New creates a Notifier with a queue of queueSize events.
func New(logger *slog.Logger, queueSize int, handlers ...Handler) *Notifier {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Notifier{
		log:      logger.With("service", "notify"),
		queue:    make(chan domain.VersionCommitted, queueSize),
		handlers: handlers,
	}
}

// Publish enqueues event without blocking. When the queue is full the event
// is dropped and logged.
func (n *Notifier) Publish(event domain.VersionCommitted) {
	select {
	case n.queue <- event:
	default:
		n.dropped.Add(1)
		n.log.Warn("notification queue full, event dropped", slog.Int64("version", event.Version))
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued and returns.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case event := <-n.queue:
			n.deliver(ctx, event)
		case <-ctx.Done():
			n.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (n *Notifier) drain(ctx context.Context) {
	for {
		select {
		case event := <-n.queue:
			n.deliver(ctx, event)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, event domain.VersionCommitted) {
	for _, h := range n.handlers {
		if err := h(ctx, event); err != nil {
			n.log.ErrorContext(ctx, "notification handler failed",
				slog.Int64("version", event.Version),
				slog.String("error", err.Error()),
			)
		}
	}
}

// LogHandler returns a Handler that logs every commit event.
func LogHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, event domain.VersionCommitted) error {
		logger.InfoContext(ctx, "dictionary updated",
			slog.Int64("version", event.Version),
			slog.Int("word_count", event.WordCount),
			slog.Int("added", event.Added),
			slog.Int("updated", event.Updated),
			slog.Int("deleted", event.Deleted),
			slog.Time("committed_at", event.CommittedAt),
		)
		return nil
	}
}

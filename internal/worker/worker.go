// Package worker consumes change and slow query events from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/notas/internal/domain"
)

// Invalidator drops cached state derived from an entity.
type Invalidator interface {
	Bump(ctx context.Context, entity string) error
}

// Worker keeps per-entity caches coherent across nodes by reacting to
// change events, and records slow query events.
type Worker struct {
	bus         domain.EventBus
	invalidator Invalidator
	logger      *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	changes     atomic.Int64
	slowQueries atomic.Int64
	failures    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// WatchSlowQueries subscribes to slow query events as well.
	WatchSlowQueries bool
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, invalidator Invalidator, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:         bus,
		invalidator: invalidator,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes to the configured topics.
func (w *Worker) Start(cfg Config) error {
	if err := w.subscribe(domain.TopicEntityChanged, w.handleChange); err != nil {
		return err
	}
	if cfg.WatchSlowQueries {
		if err := w.subscribe(domain.TopicSlowQuery, w.handleSlowQuery); err != nil {
			return err
		}
	}

	w.logger.Info("worker started", "topics", w.GetStats().Topics)
	return nil
}

func (w *Worker) subscribe(topic string, handler domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, topic, handler)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

// handleChange bumps the generation of the changed entity.
func (w *Worker) handleChange(ctx context.Context, msg *domain.Message) error {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.failures.Add(1)
		w.logger.Error("failed to parse change event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if w.invalidator != nil {
		if err := w.invalidator.Bump(ctx, ev.Entity); err != nil {
			w.failures.Add(1)
			w.logger.Error("failed to invalidate entity cache",
				"entity", ev.Entity,
				"error", err,
			)
			return err
		}
	}
	w.changes.Add(1)

	w.logger.Debug("entity changed",
		"entity", ev.Entity,
		"key", ev.Key,
		"op", ev.Op,
	)
	return nil
}

// handleSlowQuery logs slow statements reported by any node.
func (w *Worker) handleSlowQuery(ctx context.Context, msg *domain.Message) error {
	var rec domain.AuditRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		w.failures.Add(1)
		return err
	}
	w.slowQueries.Add(1)

	w.logger.Warn("slow query reported",
		"statement", rec.Statement,
		"duration_ms", rec.DurationMs,
		"conn_id", rec.ConnID,
	)
	return nil
}

// Stop gracefully stops all subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Changes           int64    `json:"changes"`
	SlowQueries       int64    `json:"slowQueries"`
	Failures          int64    `json:"failures"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Changes:           w.changes.Load(),
		SlowQueries:       w.slowQueries.Load(),
		Failures:          w.failures.Load(),
	}
}

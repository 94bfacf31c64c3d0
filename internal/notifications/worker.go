package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxConcurrency int
	StuckTimeout   time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:      100,
		PollInterval:   5 * time.Second,
		MaxConcurrency: 5,
		StuckTimeout:   5 * time.Minute,
		BackoffBase:    DefaultBackoffBase,
		BackoffMax:     DefaultBackoffMax,
	}
}

// Dispatcher delivers one notification. *Router implements it.
type Dispatcher interface {
	Route(ctx context.Context, notificationID string, payload NotificationPayload, opts RouteOptions) (*RouterResult, error)
}

// Worker processes notifications from the queue.
//
// Each claimed item is routed once; retryable failures go back to the queue
// with a backoff delay instead of being retried in place.
type Worker struct {
	config     WorkerConfig
	repo       QueueRepository
	dispatcher Dispatcher
	clock      Clock
	sem        *semaphore.Weighted

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, repo QueueRepository, dispatcher Dispatcher, clock Clock) *Worker {
	def := DefaultWorkerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.StuckTimeout <= 0 {
		config.StuckTimeout = def.StuckTimeout
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Worker{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		clock:      clock,
		sem:        semaphore.NewWeighted(int64(config.MaxConcurrency)),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"max_concurrency", w.config.MaxConcurrency,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops polling and waits for in-flight items.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("notification worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll runs one maintenance and claim cycle and returns the number of
// items dispatched. Processing continues in the background.
func (w *Worker) Poll(ctx context.Context) int {
	now := w.clock.Now()

	if n, err := w.repo.RecoverStuck(ctx, now.Add(-w.config.StuckTimeout)); err != nil {
		slog.Error("failed to recover stuck notifications", "error", err)
	} else if n > 0 {
		slog.Warn("recovered stuck notifications", "count", n)
	}

	if _, err := w.repo.PromoteRetrying(ctx, now); err != nil {
		slog.Error("failed to promote retrying notifications", "error", err)
	}

	limit := min(w.config.BatchSize, w.config.MaxConcurrency)
	items, err := w.repo.Claim(ctx, limit, now)
	if err != nil {
		slog.Error("failed to claim pending notifications", "error", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	slog.Debug("processing notifications", "count", len(items))
	recordQueueProcessed(len(items))

	for i, item := range items {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			// Unstarted items stay in processing until stuck recovery.
			slog.Warn("worker stopping with claimed items", "unprocessed", len(items)-i)
			return i
		}
		w.wg.Add(1)
		go func(item *QueueItem) {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.processItem(ctx, item)
		}(item)
	}
	return len(items)
}

// Wait blocks until every dispatched item has been processed.
func (w *Worker) Wait(ctx context.Context) error {
	if err := w.sem.Acquire(ctx, int64(w.config.MaxConcurrency)); err != nil {
		return err
	}
	w.sem.Release(int64(w.config.MaxConcurrency))
	return nil
}

func (w *Worker) processItem(ctx context.Context, item *QueueItem) {
	logger := slog.With("item_id", item.ID, "attempt", item.Attempts, "max_attempts", item.MaxAttempts)

	result, err := w.dispatcher.Route(ctx, item.ID, item.Payload, RouteOptions{
		UserID:      item.UserID(),
		Priority:    item.Priority,
		MaxAttempts: 1,
	})
	now := w.clock.Now()

	switch {
	case err != nil:
		retryable := !IsValidationError(err) && !errors.Is(err, ErrNoHandlers)
		w.fail(ctx, logger, item, err.Error(), retryable, now)
	case result.Success:
		if err := item.Transition(QueueStatusSent, now); err != nil {
			logger.Error("invalid queue transition", "error", err)
			return
		}
		item.Error = ""
		w.save(ctx, logger, item)
		recordQueueOutcome(QueueStatusSent)
		logger.Debug("notification sent", "duration", result.Duration)
	case result.Decision.QuietUntil != nil:
		until := *result.Decision.QuietUntil
		if err := item.Defer(until, now); err != nil {
			logger.Error("invalid queue transition", "error", err)
			return
		}
		w.save(ctx, logger, item)
		recordQueueOutcome(QueueStatusPending)
		logger.Info("notification deferred by quiet hours", "until", until)
	default:
		w.fail(ctx, logger, item, result.Error(), result.Retryable(), now)
	}
}

// fail moves a processing item to retrying, dead_letter or failed.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, item *QueueItem, reason string, retryable bool, now time.Time) {
	if err := item.Transition(QueueStatusFailed, now); err != nil {
		logger.Error("invalid queue transition", "error", err)
		return
	}
	item.Error = reason

	switch {
	case !retryable:
		logger.Warn("notification failed permanently", "error", reason)
	case ShouldRetry(item):
		delay := CalculateBackoff(item.Attempts, w.config.BackoffBase, w.config.BackoffMax)
		next := now.Add(delay)
		if err := item.Transition(QueueStatusRetrying, now); err != nil {
			logger.Error("invalid queue transition", "error", err)
			return
		}
		item.ScheduledAt = &next
		logger.Info("notification scheduled for retry", "error", reason, "next_attempt", next)
	case ShouldDeadLetter(item):
		if err := item.Transition(QueueStatusDeadLetter, now); err != nil {
			logger.Error("invalid queue transition", "error", err)
			return
		}
		logger.Warn("notification moved to dead letter", "error", reason)
	}

	w.save(ctx, logger, item)
	recordQueueOutcome(item.Status)
}

func (w *Worker) save(ctx context.Context, logger *slog.Logger, item *QueueItem) {
	if err := w.repo.Update(ctx, item, QueueStatusProcessing); err != nil {
		logger.Error("failed to update queue item", "status", item.Status, "error", err)
	}
}

package notifications

import (
	"context"
	"fmt"

	"github.com/bissquit/market-sentinel/internal/pkg/ctxlog"
)

// QueueServiceConfig controls admission to the queue.
type QueueServiceConfig struct {
	OverloadThreshold int
	MaxAttempts       int
}

// QueueService admits notifications into the queue.
type QueueService struct {
	repo   QueueRepository
	config QueueServiceConfig
	clock  Clock
}

// NewQueueService creates a new queue service.
func NewQueueService(repo QueueRepository, config QueueServiceConfig, clock Clock) *QueueService {
	if config.OverloadThreshold <= 0 {
		config.OverloadThreshold = DefaultOverloadThreshold
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &QueueService{repo: repo, config: config, clock: clock}
}

// Enqueue validates payload and stores a new pending item.
// It returns ErrQueueOverloaded instead of growing the queue past the
// configured threshold.
func (s *QueueService) Enqueue(ctx context.Context, payload NotificationPayload, opts QueueItemOptions) (*QueueItem, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if opts.Priority != "" && !opts.Priority.IsValid() {
		return nil, NewValidationError("priority", "unknown priority %q", opts.Priority)
	}

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	if IsQueueOverloaded(stats, s.config.OverloadThreshold) {
		queueRejected.Inc()
		ctxlog.FromContext(ctx).Warn("notification rejected, queue overloaded",
			"depth", stats.Depth(),
			"threshold", s.config.OverloadThreshold,
		)
		return nil, ErrQueueOverloaded
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = s.config.MaxAttempts
	}
	if opts.UserID == "" {
		opts.UserID = payload.UserID
	}

	item := NewQueueItem(payload, opts, s.clock.Now())
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue notification: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("notification enqueued",
		"item_id", item.ID,
		"channel", payload.Channel,
		"priority", item.Priority,
	)
	return item, nil
}

// Get returns a queue item by id.
func (s *QueueService) Get(ctx context.Context, id string) (*QueueItem, error) {
	return s.repo.GetByID(ctx, id)
}

// Requeue gives a failed item a fresh attempt budget and makes it pending
// again. Only items resting in failed can be requeued.
func (s *QueueService) Requeue(ctx context.Context, id string) (*QueueItem, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := item.Transition(QueueStatusRetrying, now); err != nil {
		return nil, err
	}
	if err := item.Transition(QueueStatusPending, now); err != nil {
		return nil, err
	}
	item.Attempts = 0
	item.ScheduledAt = nil

	if err := s.repo.Update(ctx, item, QueueStatusFailed); err != nil {
		return nil, fmt.Errorf("requeue notification: %w", err)
	}

	ctxlog.FromContext(ctx).Info("notification requeued", "item_id", item.ID)
	return item, nil
}

// Stats returns queue counts and refreshes the queue size gauges.
func (s *QueueService) Stats(ctx context.Context) (*QueueStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	RecordQueueStats(stats)
	return stats, nil
}

// Overloaded reports whether new items would be rejected now.
func (s *QueueService) Overloaded(ctx context.Context) (bool, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return false, fmt.Errorf("get queue stats: %w", err)
	}
	return IsQueueOverloaded(stats, s.config.OverloadThreshold), nil
}

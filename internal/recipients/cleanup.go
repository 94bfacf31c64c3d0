package recipients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/notifications"
)

// minCleanupInterval is the shortest sweep interval Validate accepts.
var minCleanupInterval = time.Minute

// CleanupConfig controls the inactivity sweep.
type CleanupConfig struct {
	Enabled      bool
	InactiveDays int
	Interval     time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:      true,
		InactiveDays: 90,
		Interval:     24 * time.Hour,
	}
}

// Validate checks config bounds.
func (c CleanupConfig) Validate() error {
	if c.InactiveDays < 1 {
		return fmt.Errorf("%w: inactive days must be at least 1, got %d", ErrInvalidCleanupConfig, c.InactiveDays)
	}
	if c.Interval < minCleanupInterval {
		return fmt.Errorf("%w: interval must be at least %s, got %s", ErrInvalidCleanupConfig, minCleanupInterval, c.Interval)
	}
	return nil
}

// CleanupConfigUpdate changes the fields that are set.
type CleanupConfigUpdate struct {
	Enabled      *bool
	InactiveDays *int
	Interval     *time.Duration
}

// CleanupResult is the outcome of one sweep.
type CleanupResult struct {
	Deactivated  int           `json:"deactivated"`
	RecipientIDs []string      `json:"recipient_ids"`
	ChatIDs      []string      `json:"chat_ids"`
	RunAt        time.Time     `json:"run_at"`
	Duration     time.Duration `json:"duration"`
	Cancelled    bool          `json:"cancelled"`
}

// CleanupService deactivates recipients that have not received an alert
// for InactiveDays. Start runs the sweep every Interval while Enabled;
// RunCleanup runs it on demand regardless of Enabled.
type CleanupService struct {
	store Store
	clock notifications.Clock

	mu     sync.RWMutex
	config CleanupConfig
	last   *CleanupResult

	running     sync.Mutex
	reconfigure chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCleanupService creates a cleanup service. config must be valid.
func NewCleanupService(store Store, config CleanupConfig, clock notifications.Clock) (*CleanupService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = notifications.SystemClock{}
	}
	return &CleanupService{
		store:       store,
		clock:       clock,
		config:      config,
		reconfigure: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}, nil
}

// Config returns the current configuration.
func (s *CleanupService) Config() CleanupConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// UpdateConfig applies update and returns the new configuration. A running
// loop picks up a new interval immediately.
func (s *CleanupService) UpdateConfig(update CleanupConfigUpdate) (CleanupConfig, error) {
	s.mu.Lock()
	next := s.config
	if update.Enabled != nil {
		next.Enabled = *update.Enabled
	}
	if update.InactiveDays != nil {
		next.InactiveDays = *update.InactiveDays
	}
	if update.Interval != nil {
		next.Interval = *update.Interval
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return CleanupConfig{}, err
	}
	s.config = next
	s.mu.Unlock()

	select {
	case s.reconfigure <- struct{}{}:
	default:
	}

	slog.Info("cleanup config updated",
		"enabled", next.Enabled,
		"inactive_days", next.InactiveDays,
		"interval", next.Interval,
	)
	return next, nil
}

// LastCleanupResult returns the result of the most recent sweep, or nil.
func (s *CleanupService) LastCleanupResult() *CleanupResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// PreviewCleanup returns the recipients the next sweep would deactivate.
func (s *CleanupService) PreviewCleanup(ctx context.Context) ([]domain.Recipient, error) {
	days := s.Config().InactiveDays
	candidates, err := s.store.FindInactiveSince(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("find inactive recipients: %w", err)
	}
	return candidates, nil
}

// RunCleanup deactivates every recipient inactive for more than
// InactiveDays. A failed deactivation is logged and skipped. On
// cancellation the partial result is kept and returned with the error.
func (s *CleanupService) RunCleanup(ctx context.Context) (*CleanupResult, error) {
	if !s.running.TryLock() {
		return nil, ErrCleanupInProgress
	}
	defer s.running.Unlock()

	start := s.clock.Now()
	days := s.Config().InactiveDays
	reason := fmt.Sprintf("Inactive for more than %d days", days)

	result := &CleanupResult{
		RecipientIDs: []string{},
		ChatIDs:      []string{},
		RunAt:        start,
	}

	candidates, err := s.store.FindInactiveSince(ctx, days)
	if err != nil {
		cleanupRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("find inactive recipients: %w", err)
	}

	slog.Info("starting recipient cleanup", "inactive_days", days, "candidates", len(candidates))

	for _, r := range candidates {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			break
		}
		if err := s.store.MarkBlocked(ctx, r.ID, reason, domain.DeactivationInactiveCleanup); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result.Cancelled = true
				break
			}
			slog.Error("failed to deactivate inactive recipient",
				"recipient_id", r.ID,
				"chat_id", r.ChatID,
				"error", err,
			)
			continue
		}
		result.Deactivated++
		result.RecipientIDs = append(result.RecipientIDs, r.ID)
		result.ChatIDs = append(result.ChatIDs, r.ChatID)
		slog.Info("deactivated inactive recipient",
			"recipient_id", r.ID,
			"chat_id", r.ChatID,
			"last_activity", r.LastActivity(),
		)
	}

	result.Duration = s.clock.Now().Sub(start)
	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	cleanupDeactivated.Add(float64(result.Deactivated))
	cleanupLastRun.Set(float64(start.Unix()))

	if result.Cancelled {
		cleanupRuns.WithLabelValues("cancelled").Inc()
		slog.Warn("recipient cleanup cancelled", "deactivated", result.Deactivated, "candidates", len(candidates))
		return result, fmt.Errorf("cleanup cancelled: %w", ctx.Err())
	}

	cleanupRuns.WithLabelValues("completed").Inc()
	slog.Info("recipient cleanup completed", "deactivated", result.Deactivated, "duration", result.Duration)
	return result, nil
}

// Start launches the periodic sweep.
func (s *CleanupService) Start(ctx context.Context) {
	cfg := s.Config()
	slog.Info("starting recipient cleanup",
		"enabled", cfg.Enabled,
		"interval", cfg.Interval,
		"inactive_days", cfg.InactiveDays,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the sweep loop and waits for a running sweep to finish.
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("recipient cleanup stopped")
}

func (s *CleanupService) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.Config().Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.reconfigure:
			timer.Reset(s.Config().Interval)
		case <-timer.C:
			if s.Config().Enabled {
				if _, err := s.RunCleanup(ctx); err != nil && !errors.Is(err, ErrCleanupInProgress) {
					slog.Error("scheduled cleanup failed", "error", err)
				}
			}
			timer.Reset(s.Config().Interval)
		}
	}
}

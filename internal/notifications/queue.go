package notifications

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Priority is the caller-assigned urgency of a notification.
type Priority string

// Priorities, lowest first.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRanks = map[Priority]int{
	PriorityLow:      1,
	PriorityNormal:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// Rank returns the position of p in the priority order. Unknown values rank 0.
func (p Priority) Rank() int {
	return priorityRanks[p]
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

// Below reports whether p is strictly lower than other.
func (p Priority) Below(other Priority) bool {
	return p.Rank() < other.Rank()
}

// OrDefault returns p, or PriorityNormal when p is empty.
func (p Priority) OrDefault() Priority {
	if p == "" {
		return PriorityNormal
	}
	return p
}

// QueueStatus represents the status of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusRetrying   QueueStatus = "retrying"
	QueueStatusDeadLetter QueueStatus = "dead_letter"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusSent || s == QueueStatusDeadLetter
}

// transitions lists the allowed moves of the queue state machine.
// processing -> pending is only used to recover items whose worker died.
var transitions = map[QueueStatus][]QueueStatus{
	QueueStatusPending:    {QueueStatusProcessing},
	QueueStatusProcessing: {QueueStatusSent, QueueStatusFailed, QueueStatusPending},
	QueueStatusFailed:     {QueueStatusRetrying, QueueStatusDeadLetter},
	QueueStatusRetrying:   {QueueStatusPending},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to QueueStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Context keys understood by the worker.
const (
	ContextKeyUserID = "user_id"
)

// Defaults for queue items and backoff.
const (
	DefaultMaxAttempts       = 3
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultOverloadThreshold = 1000
)

// QueueItem represents a notification in the queue.
//
// ScheduledAt, when set, delays eligibility until that time.
// ProcessingStartedAt and CompletedAt are set by Transition.
type QueueItem struct {
	ID                  string
	Payload             NotificationPayload
	Priority            Priority
	Status              QueueStatus
	Attempts            int
	MaxAttempts         int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ScheduledAt         *time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	Error               string
	CorrelationID       string
	Context             map[string]string
}

// QueueItemOptions controls NewQueueItem. Zero values take defaults:
// normal priority, DefaultMaxAttempts, immediate scheduling.
type QueueItemOptions struct {
	Priority      Priority
	MaxAttempts   int
	ScheduledAt   *time.Time
	CorrelationID string
	UserID        string
	Context       map[string]string
}

// NewQueueItem creates a pending item with zero attempts.
func NewQueueItem(payload NotificationPayload, opts QueueItemOptions, now time.Time) *QueueItem {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	ctx := make(map[string]string, len(opts.Context)+1)
	for k, v := range opts.Context {
		ctx[k] = v
	}
	if opts.UserID != "" {
		ctx[ContextKeyUserID] = opts.UserID
	}

	return &QueueItem{
		ID:            uuid.NewString(),
		Payload:       payload,
		Priority:      opts.Priority.OrDefault(),
		Status:        QueueStatusPending,
		Attempts:      0,
		MaxAttempts:   maxAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
		ScheduledAt:   opts.ScheduledAt,
		CorrelationID: opts.CorrelationID,
		Context:       ctx,
	}
}

// UserID returns the user the item is addressed to, if any.
func (q *QueueItem) UserID() string {
	return q.Context[ContextKeyUserID]
}

// Transition moves the item to a new status.
// Entering processing counts an attempt and fails once the budget is spent,
// so Attempts never exceeds MaxAttempts.
func (q *QueueItem) Transition(to QueueStatus, now time.Time) error {
	if !CanTransition(q.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, q.Status, to)
	}

	switch to {
	case QueueStatusProcessing:
		if q.Attempts >= q.MaxAttempts {
			return fmt.Errorf("%w: %d of %d attempts used", ErrAttemptsExhausted, q.Attempts, q.MaxAttempts)
		}
		q.Attempts++
		q.ProcessingStartedAt = &now
	case QueueStatusSent, QueueStatusDeadLetter:
		q.CompletedAt = &now
	case QueueStatusPending:
		q.ProcessingStartedAt = nil
	}

	q.Status = to
	q.UpdatedAt = now
	return nil
}

// Defer returns a processing item to pending, scheduled for until. The
// attempt taken by the claim is given back.
func (q *QueueItem) Defer(until, now time.Time) error {
	if q.Status != QueueStatusProcessing {
		return fmt.Errorf("%w: defer from %s", ErrInvalidTransition, q.Status)
	}
	if err := q.Transition(QueueStatusPending, now); err != nil {
		return err
	}
	if q.Attempts > 0 {
		q.Attempts--
	}
	q.ScheduledAt = &until
	q.Error = ""
	return nil
}

// CalculateBackoff returns the delay before retry number attempt:
// base * 2^(attempt-1) with +/-10% jitter, capped at maxDelay.
func CalculateBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}

	// Past 2^30 any sane base is already over the cap.
	if attempt > 31 {
		return maxDelay
	}

	delay := float64(base) * float64(uint64(1)<<(attempt-1))
	jitter := 0.9 + rand.Float64()*0.2
	delay *= jitter

	if delay >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

// DefaultBackoff is CalculateBackoff with the default base and cap.
func DefaultBackoff(attempt int) time.Duration {
	return CalculateBackoff(attempt, DefaultBackoffBase, DefaultBackoffMax)
}

// ShouldRetry reports whether a failed item still has attempts left.
func ShouldRetry(item *QueueItem) bool {
	return item.Status == QueueStatusFailed && item.Attempts < item.MaxAttempts
}

// ShouldDeadLetter reports whether a failed item has exhausted its attempts.
func ShouldDeadLetter(item *QueueItem) bool {
	return item.Status == QueueStatusFailed && item.Attempts >= item.MaxAttempts
}

// IsReadyForProcessing reports whether a pending item may be picked up at now.
func IsReadyForProcessing(item *QueueItem, now time.Time) bool {
	if item.Status != QueueStatusPending {
		return false
	}
	return item.ScheduledAt == nil || !item.ScheduledAt.After(now)
}

// QueueStats holds item counts per status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Retrying   int64 `json:"retrying"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`
}

// Depth returns the number of items still waiting to be delivered.
func (s *QueueStats) Depth() int64 {
	return s.Pending + s.Processing + s.Retrying
}

// IsQueueOverloaded reports whether the queue depth exceeds threshold.
// A non-positive threshold means DefaultOverloadThreshold.
func IsQueueOverloaded(stats *QueueStats, threshold int) bool {
	if stats == nil {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultOverloadThreshold
	}
	return stats.Depth() > int64(threshold)
}

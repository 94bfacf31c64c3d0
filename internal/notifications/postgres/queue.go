// Package postgres provides the PostgreSQL queue repository and preferences
// store for notifications.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/market-sentinel/internal/notifications"
)

// QueueRepository implements notifications.QueueRepository.
type QueueRepository struct {
	db *pgxpool.Pool
}

// NewQueueRepository creates a new PostgreSQL queue repository.
func NewQueueRepository(db *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `id, payload, priority, status, attempts, max_attempts, created_at, updated_at,
	scheduled_at, processing_started_at, completed_at, error, correlation_id, context`

// Create inserts a new queue item.
func (r *QueueRepository) Create(ctx context.Context, item *notifications.QueueItem) error {
	query := `
		INSERT INTO notification_queue (
			id, payload, channel, priority, priority_rank, status, attempts, max_attempts,
			created_at, updated_at, scheduled_at, correlation_id, context
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		item.ID,
		item.Payload,
		item.Payload.Channel,
		item.Priority,
		item.Priority.Rank(),
		item.Status,
		item.Attempts,
		item.MaxAttempts,
		item.CreatedAt,
		item.UpdatedAt,
		item.ScheduledAt,
		item.CorrelationID,
		contextOrEmpty(item.Context),
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// GetByID retrieves a queue item by ID.
func (r *QueueRepository) GetByID(ctx context.Context, id string) (*notifications.QueueItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notifications.ErrItemNotFound
	}
	query := `SELECT ` + queueColumns + ` FROM notification_queue WHERE id = $1`

	item, err := scanQueueItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrItemNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// Claim atomically moves up to limit ready items to processing.
// Concurrent workers skip rows locked by each other.
func (r *QueueRepository) Claim(ctx context.Context, limit int, now time.Time) ([]*notifications.QueueItem, error) {
	query := `
		UPDATE notification_queue
		SET status = 'processing',
		    attempts = attempts + 1,
		    processing_started_at = $2,
		    updated_at = $2
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending'
			  AND attempts < max_attempts
			  AND (scheduled_at IS NULL OR scheduled_at <= $2)
			ORDER BY priority_rank DESC, created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	rows, err := r.db.Query(ctx, query, limit, now)
	if err != nil {
		return nil, fmt.Errorf("claim queue items: %w", err)
	}
	defer rows.Close()

	items := make([]*notifications.QueueItem, 0, limit)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}

	// RETURNING does not keep the subquery order.
	slices.SortStableFunc(items, func(a, b *notifications.QueueItem) int {
		if d := b.Priority.Rank() - a.Priority.Rank(); d != 0 {
			return d
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return items, nil
}

// Update stores the mutable fields of item if its stored status is from.
func (r *QueueRepository) Update(ctx context.Context, item *notifications.QueueItem, from notifications.QueueStatus) error {
	query := `
		UPDATE notification_queue
		SET status = $3,
		    attempts = $4,
		    max_attempts = $5,
		    scheduled_at = $6,
		    processing_started_at = $7,
		    completed_at = $8,
		    error = $9,
		    updated_at = $10
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.Exec(ctx, query,
		item.ID,
		from,
		item.Status,
		item.Attempts,
		item.MaxAttempts,
		item.ScheduledAt,
		item.ProcessingStartedAt,
		item.CompletedAt,
		item.Error,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var current notifications.QueueStatus
	err = r.db.QueryRow(ctx, `SELECT status FROM notification_queue WHERE id = $1`, item.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return notifications.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("get queue item status: %w", err)
	}
	return fmt.Errorf("%w: item %s is %s, not %s", notifications.ErrInvalidTransition, item.ID, current, from)
}

// PromoteRetrying makes retrying items whose backoff has elapsed pending again.
func (r *QueueRepository) PromoteRetrying(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending', updated_at = $1
		WHERE status = 'retrying'
		  AND (scheduled_at IS NULL OR scheduled_at <= $1)
	`
	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("promote retrying items: %w", err)
	}
	return result.RowsAffected(), nil
}

// RecoverStuck releases items left in processing by a dead worker.
func (r *QueueRepository) RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'pending' END,
		    error = CASE WHEN attempts >= max_attempts THEN 'processing timed out' ELSE error END,
		    completed_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE NULL END,
		    processing_started_at = NULL,
		    updated_at = NOW()
		WHERE status = 'processing' AND processing_started_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stuck items: %w", err)
	}
	return result.RowsAffected(), nil
}

// Stats returns item counts per status.
func (r *QueueRepository) Stats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'retrying'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'dead_letter')
		FROM notification_queue
	`
	var stats notifications.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Retrying,
		&stats.Sent,
		&stats.Failed,
		&stats.DeadLetter,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}

// PurgeCompleted deletes sent and dead-lettered items completed before cutoff.
func (r *QueueRepository) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notification_queue
		WHERE status IN ('sent', 'dead_letter') AND completed_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge completed items: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanQueueItem(row pgx.Row) (*notifications.QueueItem, error) {
	var item notifications.QueueItem
	err := row.Scan(
		&item.ID,
		&item.Payload,
		&item.Priority,
		&item.Status,
		&item.Attempts,
		&item.MaxAttempts,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ScheduledAt,
		&item.ProcessingStartedAt,
		&item.CompletedAt,
		&item.Error,
		&item.CorrelationID,
		&item.Context,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func contextOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

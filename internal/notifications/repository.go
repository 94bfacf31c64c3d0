// Package notifications routes alerts to delivery channels and runs the
// persistent delivery queue.
package notifications

import (
	"context"
	"time"
)

// QueueRepository persists queue items.
//
// Claiming and status updates are guarded in storage so that a single item
// has one active writer: Claim moves pending items to processing atomically,
// and Update only succeeds while the stored status still equals from.
type QueueRepository interface {
	Create(ctx context.Context, item *QueueItem) error
	GetByID(ctx context.Context, id string) (*QueueItem, error)

	// Claim moves up to limit ready pending items to processing, counting an
	// attempt on each, and returns them highest priority first.
	Claim(ctx context.Context, limit int, now time.Time) ([]*QueueItem, error)

	// Update stores item if its stored status is still from.
	// It returns ErrInvalidTransition when another writer got there first.
	Update(ctx context.Context, item *QueueItem, from QueueStatus) error

	// PromoteRetrying moves retrying items whose backoff has elapsed back to pending.
	PromoteRetrying(ctx context.Context, now time.Time) (int64, error)

	// RecoverStuck returns processing items started before cutoff to pending,
	// or dead-letters them when their attempts are used up.
	RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error)

	Stats(ctx context.Context) (*QueueStats, error)
}

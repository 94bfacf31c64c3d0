// Package recipients manages broadcast recipients and the inactivity sweep
// that deactivates long-silent ones.
package recipients

import (
	"context"
	"errors"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// Recipient store errors.
var (
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrInvalidCleanupConfig = errors.New("invalid cleanup config")
	ErrCleanupInProgress    = errors.New("cleanup already running")
)

// Stats holds recipient counts.
type Stats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Blocked int64 `json:"blocked"`
}

// Store persists recipients.
//
// MarkBlocked is idempotent: deactivating an inactive recipient is a no-op.
// It returns ErrRecipientNotFound only when id does not exist.
type Store interface {
	FindActiveRecipients(ctx context.Context) ([]domain.Recipient, error)
	// FindInactiveSince returns active recipients whose last alert, or
	// creation time when never alerted, is more than days old.
	FindInactiveSince(ctx context.Context, days int) ([]domain.Recipient, error)
	MarkBlocked(ctx context.Context, id, reason string, deactivationType domain.DeactivationType) error
	IncrementAlertsSent(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*Stats, error)
}

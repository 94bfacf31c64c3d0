// Package alerts exposes stored alerts and triggers their broadcast.
package alerts

import (
	"context"
	"errors"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// ErrAlertNotFound is returned when an alert does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// Store reads alerts.
type Store interface {
	FindAlertByID(ctx context.Context, id string) (*domain.Alert, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Alert, error)
}

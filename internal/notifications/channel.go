package notifications

import (
	"context"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// ChannelHandler is the contract every delivery channel implements.
// The router treats all handlers the same way.
type ChannelHandler interface {
	Channel() domain.ChannelType
	IsAvailable() bool
	Status() ChannelStatus
	Send(ctx context.Context, notification Notification) ChannelSendResult
}

// ChannelSendResult is the outcome of one send attempt.
type ChannelSendResult struct {
	Success     bool
	Err         error
	ShouldRetry bool
	Duration    time.Duration
	MessageID   string
}

// ErrorMessage returns the error text, or "" on success.
func (r ChannelSendResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ChannelStatus describes a handler's health for operators.
type ChannelStatus struct {
	Channel   domain.ChannelType `json:"channel"`
	Enabled   bool               `json:"enabled"`
	Available bool               `json:"available"`
	LastError string             `json:"last_error,omitempty"`
	Details   map[string]string  `json:"details,omitempty"`
}

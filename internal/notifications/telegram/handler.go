package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/notifications"
)

// Handler adapts the transport to the router's channel contract.
type Handler struct {
	transport Transport
	enabled   bool

	mu        sync.Mutex
	lastError string
}

// NewHandler creates a router channel handler for telegram.
func NewHandler(transport Transport, enabled bool) *Handler {
	return &Handler{transport: transport, enabled: enabled}
}

// Channel returns the channel type.
func (h *Handler) Channel() domain.ChannelType {
	return domain.ChannelTypeTelegram
}

// IsAvailable reports whether the handler can send.
func (h *Handler) IsAvailable() bool {
	return h.enabled
}

// Status returns the handler status.
func (h *Handler) Status() notifications.ChannelStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return notifications.ChannelStatus{
		Channel:   domain.ChannelTypeTelegram,
		Enabled:   h.enabled,
		Available: h.enabled,
		LastError: h.lastError,
	}
}

// Send delivers the notification body to the chat in n.To.
// Permanent API errors are not retried; rate limits, server errors and
// network failures are.
func (h *Handler) Send(ctx context.Context, n notifications.Notification) notifications.ChannelSendResult {
	start := time.Now()

	text := n.Body
	if text == "" {
		text = n.Subject
	}

	res, err := h.transport.Send(ctx, n.To, text, SendOptions{ParseMode: parseMode(n.Format)})
	if err != nil {
		h.mu.Lock()
		h.lastError = err.Error()
		h.mu.Unlock()
		return notifications.ChannelSendResult{
			Err:         err,
			ShouldRetry: IsRetryable(err),
			Duration:    time.Since(start),
		}
	}

	result := notifications.ChannelSendResult{Success: true, Duration: time.Since(start)}
	if res != nil {
		result.MessageID = res.MessageID
	}
	return result
}

// parseMode maps a body format to a Bot API parse mode.
// Plain text is sent as HTML, so callers must escape it.
func parseMode(f notifications.Format) string {
	if f == notifications.FormatMarkdown {
		return parseModeMarkdown
	}
	return parseModeHTML
}

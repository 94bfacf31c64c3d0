package notifications

import (
	"strings"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// Format tells a channel how to interpret Body.
type Format string

// Body formats.
const (
	FormatText     Format = "text"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// NotificationPayload is the channel-tagged message a caller hands to the
// router. Address holds the native key of Channel (chat id, email address,
// webhook URL, device token or phone number); addresses for other channels
// travel in Metadata under the keys of AddressKeys.
type NotificationPayload struct {
	Channel  domain.ChannelType `json:"channel"`
	Address  string             `json:"address,omitempty"`
	Title    string             `json:"title"`
	Body     string             `json:"body"`
	Format   Format             `json:"format,omitempty"`
	UserID   string             `json:"user_id,omitempty"`
	Metadata map[string]string  `json:"metadata,omitempty"`
}

// Validate checks the payload shape.
func (p NotificationPayload) Validate() error {
	if !p.Channel.IsValid() {
		return NewValidationError("channel", "unknown channel %q", p.Channel)
	}
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.Body) == "" {
		return NewValidationError("body", "title or body is required")
	}
	return nil
}

// Notification is a payload adapted to one channel.
type Notification struct {
	Channel  domain.ChannelType
	To       string
	Subject  string
	Body     string
	Format   Format
	Metadata map[string]string
}

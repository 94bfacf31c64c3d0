// Package mattermost delivers the webhook channel through Mattermost (and
// Slack-compatible) incoming webhooks.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/notifications"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultUsername      = "Market Sentinel"
	defaultRatePerMinute = 60
	maxResponseSize      = 16 << 10
)

// Config holds webhook handler configuration.
// The webhook URL is per recipient and travels in the notification address.
type Config struct {
	Enabled         bool
	DefaultUsername string
	DefaultIconURL  string
	Timeout         time.Duration
	// RateLimit is the maximum number of posts per minute across all webhooks.
	RateLimit float64
}

// Handler posts notifications to incoming webhooks.
type Handler struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter

	mu        sync.Mutex
	lastError string
}

// NewHandler creates a new webhook handler.
func NewHandler(config Config) *Handler {
	if config.DefaultUsername == "" {
		config.DefaultUsername = defaultUsername
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRatePerMinute
	}

	return &Handler{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit/60), 1),
	}
}

// Channel returns the channel type.
func (h *Handler) Channel() domain.ChannelType {
	return domain.ChannelTypeWebhook
}

// IsAvailable reports whether the handler is enabled.
func (h *Handler) IsAvailable() bool {
	return h.config.Enabled
}

// Status returns the handler status.
func (h *Handler) Status() notifications.ChannelStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return notifications.ChannelStatus{
		Channel:   domain.ChannelTypeWebhook,
		Enabled:   h.config.Enabled,
		Available: h.config.Enabled,
		LastError: h.lastError,
		Details: map[string]string{
			"rate_limit_per_minute": strconv.FormatFloat(h.config.RateLimit, 'f', -1, 64),
		},
	}
}

type webhookPayload struct {
	Text     string            `json:"text"`
	Username string            `json:"username,omitempty"`
	IconURL  string            `json:"icon_url,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
}

// Send posts the notification to the webhook URL in n.To.
func (h *Handler) Send(ctx context.Context, n notifications.Notification) notifications.ChannelSendResult {
	start := time.Now()
	err := h.post(ctx, n)
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
	return notifications.ChannelSendResult{Success: true, Duration: time.Since(start)}
}

func (h *Handler) post(ctx context.Context, n notifications.Notification) error {
	webhookURL := n.To
	if webhookURL == "" {
		return &PermanentError{Message: "webhook URL is empty"}
	}
	if u, err := url.Parse(webhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &PermanentError{Message: "invalid webhook URL"}
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return &RetryableError{Message: fmt.Sprintf("rate limit wait: %v", err)}
	}

	payload := webhookPayload{
		Username: h.config.DefaultUsername,
		IconURL:  h.config.DefaultIconURL,
		Props:    n.Metadata,
	}
	if n.Subject != "" {
		payload.Text = fmt.Sprintf("### %s\n\n%s", n.Subject, n.Body)
	} else {
		payload.Text = n.Body
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return h.handleResponse(resp, webhookURL)
}

func (h *Handler) handleResponse(resp *http.Response, webhookURL string) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("webhook message sent", "webhook", maskWebhookURL(webhookURL))
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return &PermanentError{Code: resp.StatusCode, Message: "bad request: " + string(body)}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Code: resp.StatusCode, Message: "invalid or expired webhook"}
	case resp.StatusCode == http.StatusNotFound:
		return &PermanentError{Code: resp.StatusCode, Message: "webhook not found"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{Code: resp.StatusCode, Message: "rate limited"}
	case resp.StatusCode >= 500:
		return &RetryableError{Code: resp.StatusCode, Message: "server error: " + string(body)}
	default:
		return &PermanentError{Code: resp.StatusCode, Message: "unexpected status: " + string(body)}
	}
}

// maskWebhookURL hides the token part of the URL for logging.
func maskWebhookURL(u string) string {
	if len(u) > 40 {
		return u[:20] + "..." + u[len(u)-10:]
	}
	return u
}

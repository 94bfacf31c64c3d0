// Package telegram delivers alerts through the Telegram Bot API: the
// rate-limited transport, per-recipient preference matching, broadcast
// fan-out and recipient deactivation on permanent failures.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIURL        = "https://api.telegram.org/bot%s/sendMessage"
	defaultRatePerMinute = 1200
	defaultTimeout       = 10 * time.Second
	defaultRetryAfter    = time.Second
	maxResponseSize      = 64 << 10
	parseModeHTML        = "HTML"
	parseModeMarkdown    = "MarkdownV2"
)

// Config holds telegram client configuration.
type Config struct {
	Enabled  bool
	BotToken string
	// RateLimit is the maximum number of messages per minute.
	RateLimit float64
	Timeout   time.Duration
	// APIURL is a format string taking the bot token. Empty means the public API.
	APIURL string
}

// SendOptions tunes a single sendMessage call. An empty ParseMode means HTML.
type SendOptions struct {
	ParseMode             string
	DisableWebPagePreview bool
	DisableNotification   bool
}

// SendResult is returned by a successful send.
type SendResult struct {
	MessageID string
}

// Client sends messages through the Bot API.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

// NewClient creates a new telegram client.
// Returns error if enabled but required config is missing.
func NewClient(config Config) (*Client, error) {
	if config.Enabled && config.BotToken == "" {
		return nil, errors.New("telegram client: bot token is required when enabled")
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRatePerMinute
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	apiURL := config.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	slog.Info("telegram client configured",
		"enabled", config.Enabled,
		"rate_limit_per_minute", config.RateLimit,
	)

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit/60), 1),
		apiURL:     apiURL,
	}, nil
}

// Enabled reports whether the client actually sends.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool   `json:"disable_notification,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Result      *struct {
		MessageID int64 `json:"message_id"`
	} `json:"result,omitempty"`
	Parameters *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// Send delivers text to chatID, waiting for the rate limiter first.
// A disabled client logs and returns an empty result.
func (c *Client) Send(ctx context.Context, chatID, text string, opts SendOptions) (*SendResult, error) {
	if !c.config.Enabled {
		return nil, ErrTransportDisabled
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	parseMode := opts.ParseMode
	if parseMode == "" {
		parseMode = parseModeHTML
	}
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: opts.DisableWebPagePreview,
		DisableNotification:   opts.DisableNotification,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(c.apiURL, c.config.BotToken), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("send request: %w", ctx.Err())
		}
		return nil, &RetryableError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	var tgResp telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&tgResp); err != nil && resp.StatusCode == http.StatusOK {
		return nil, &RetryableError{Code: resp.StatusCode, Message: "decode response: " + err.Error()}
	}

	if resp.StatusCode == http.StatusOK && tgResp.OK {
		result := &SendResult{}
		if tgResp.Result != nil {
			result.MessageID = strconv.FormatInt(tgResp.Result.MessageID, 10)
		}
		return result, nil
	}

	return nil, c.handleError(resp.StatusCode, tgResp)
}

func (c *Client) handleError(statusCode int, resp telegramResponse) error {
	code := resp.ErrorCode
	if code == 0 {
		code = statusCode
	}
	description := resp.Description
	if description == "" {
		description = http.StatusText(statusCode)
	}

	switch {
	case code == http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitError{RetryAfter: retryAfter, Message: description}
	case code == http.StatusUnauthorized:
		return &PermanentError{Code: code, Message: "invalid bot token: " + description}
	case code >= 500:
		return &RetryableError{Code: code, Message: description}
	default:
		// 400, 403, 404: bad request, blocked bot, unknown chat.
		return &PermanentError{Code: code, Message: description}
	}
}

// Package email delivers notifications over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/notifications"
)

const (
	defaultPort        = 587
	defaultDialTimeout = 10 * time.Second
)

// Config holds email handler configuration.
type Config struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	DialTimeout  time.Duration
}

// Handler sends one message per notification through an SMTP relay.
type Handler struct {
	config Config
	auth   smtp.Auth

	mu        sync.Mutex
	lastError string
}

// NewHandler creates a new email handler.
// Returns error if enabled but required config is missing.
func NewHandler(config Config) (*Handler, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("email handler: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("email handler: from address is required when enabled")
		}
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = defaultPort
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultDialTimeout
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	slog.Info("email handler configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
	)

	return &Handler{config: config, auth: auth}, nil
}

// Channel returns the channel type.
func (h *Handler) Channel() domain.ChannelType {
	return domain.ChannelTypeEmail
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
		Channel:   domain.ChannelTypeEmail,
		Enabled:   h.config.Enabled,
		Available: h.config.Enabled,
		LastError: h.lastError,
		Details: map[string]string{
			"smtp_host": h.config.SMTPHost,
			"smtp_port": strconv.Itoa(h.config.SMTPPort),
		},
	}
}

// Send emails the notification to n.To.
func (h *Handler) Send(ctx context.Context, n notifications.Notification) notifications.ChannelSendResult {
	start := time.Now()

	if !h.config.Enabled {
		slog.Warn("email handler disabled, skipping send")
		return notifications.ChannelSendResult{Success: true, Duration: time.Since(start)}
	}

	to := extractEmail(n.To)
	if !strings.Contains(to, "@") {
		err := notifications.NewValidationError("address", "invalid email address %q", n.To)
		return h.failed(err, false, start)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), h.config.SMTPHost)
	msg := h.buildMessage(n, to, messageID)

	if err := h.deliver(ctx, to, msg); err != nil {
		return h.failed(err, IsRetryable(err), start)
	}

	return notifications.ChannelSendResult{
		Success:   true,
		Duration:  time.Since(start),
		MessageID: messageID,
	}
}

func (h *Handler) failed(err error, retryable bool, start time.Time) notifications.ChannelSendResult {
	h.mu.Lock()
	h.lastError = err.Error()
	h.mu.Unlock()
	return notifications.ChannelSendResult{Err: err, ShouldRetry: retryable, Duration: time.Since(start)}
}

// buildMessage constructs the message with headers.
func (h *Handler) buildMessage(n notifications.Notification, to, messageID string) []byte {
	contentType := "text/plain"
	if n.Format == notifications.FormatHTML {
		contentType = "text/html"
	}

	var msg strings.Builder

	// Headers in deterministic order
	fmt.Fprintf(&msg, "From: %s\r\n", h.config.FromAddress)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", n.Subject)
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", messageID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType)
	msg.WriteString("\r\n")
	msg.WriteString(n.Body)

	return []byte(msg.String())
}

// deliver sends msg using STARTTLS when the server offers it.
func (h *Handler) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(h.config.SMTPHost, strconv.Itoa(h.config.SMTPPort))

	dialer := &net.Dialer{Timeout: h.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, h.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: h.config.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if h.auth != nil {
		if err := client.Auth(h.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(h.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return strings.TrimSpace(address)
}

// IsRetryable determines if an SMTP delivery error is worth retrying.
// Network failures, timeouts and 4xx replies are; 552 (mailbox full) is
// treated as temporary too.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return isTemporaryCode(protoErr.Code)
	}

	// Some relays surface the reply code only in the message text.
	msg := err.Error()
	for _, code := range []string{"421", "450", "451", "452", "552"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

func isTemporaryCode(code int) bool {
	return (code >= 400 && code < 500) || code == 552
}

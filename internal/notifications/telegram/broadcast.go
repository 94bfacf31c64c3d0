package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/pkg/ctxlog"
)

// DefaultSendDelay is the pause between two recipients of a broadcast.
const DefaultSendDelay = 50 * time.Millisecond

// Transport sends one message to one chat. *Client implements it.
type Transport interface {
	Send(ctx context.Context, chatID, text string, opts SendOptions) (*SendResult, error)
}

// transportEnabled reports whether t can send. Transports without an
// Enabled method are always enabled.
func transportEnabled(t Transport) bool {
	e, ok := t.(interface{ Enabled() bool })
	return !ok || e.Enabled()
}

// RecipientStore is the part of the recipient store a broadcast needs.
type RecipientStore interface {
	FindActiveRecipients(ctx context.Context) ([]domain.Recipient, error)
	MarkBlocked(ctx context.Context, id, reason string, deactivationType domain.DeactivationType) error
	IncrementAlertsSent(ctx context.Context, id string) error
}

// AlertStore loads alerts by id.
type AlertStore interface {
	FindAlertByID(ctx context.Context, id string) (*domain.Alert, error)
}

// Formatter renders an alert into message text.
type Formatter interface {
	FormatAlert(alert *domain.Alert) (string, error)
}

// BroadcastOptions controls one broadcast.
type BroadcastOptions struct {
	// DryRun selects recipients without sending or mutating anything.
	DryRun bool
	// SendDelay overrides the broadcaster's delay when positive.
	SendDelay time.Duration
}

// RecipientResult is the delivery outcome for one recipient.
type RecipientResult struct {
	RecipientID      string                  `json:"recipient_id"`
	ChatID           string                  `json:"chat_id"`
	Success          bool                    `json:"success"`
	MessageID        string                  `json:"message_id,omitempty"`
	Error            string                  `json:"error,omitempty"`
	Deactivated      bool                    `json:"deactivated"`
	DeactivationType domain.DeactivationType `json:"deactivation_type,omitempty"`
}

// BroadcastResult aggregates a broadcast.
type BroadcastResult struct {
	AlertID             string            `json:"alert_id"`
	TotalSubscribers    int               `json:"total_subscribers"`
	EligibleSubscribers int               `json:"eligible_subscribers"`
	Sent                int               `json:"sent"`
	Failed              int               `json:"failed"`
	Deactivated         int               `json:"deactivated"`
	Results             []RecipientResult `json:"results"`
	Duration            time.Duration     `json:"duration"`
	DryRun              bool              `json:"dry_run"`
	Cancelled           bool              `json:"cancelled"`
}

// Broadcaster fans an alert out to every eligible recipient.
type Broadcaster struct {
	recipients RecipientStore
	alerts     AlertStore
	transport  Transport
	formatter  Formatter
	sendDelay  time.Duration
}

// NewBroadcaster creates a broadcaster. A non-positive sendDelay means
// DefaultSendDelay.
func NewBroadcaster(recipients RecipientStore, alerts AlertStore, transport Transport, formatter Formatter, sendDelay time.Duration) *Broadcaster {
	if sendDelay <= 0 {
		sendDelay = DefaultSendDelay
	}
	return &Broadcaster{
		recipients: recipients,
		alerts:     alerts,
		transport:  transport,
		formatter:  formatter,
		sendDelay:  sendDelay,
	}
}

// BroadcastByID loads the alert and broadcasts it.
func (b *Broadcaster) BroadcastByID(ctx context.Context, alertID string, opts BroadcastOptions) (*BroadcastResult, error) {
	alert, err := b.alerts.FindAlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	return b.Broadcast(ctx, alert, opts)
}

// Broadcast sends alert to every active recipient whose preferences match,
// one at a time with a delay in between.
//
// Per-recipient failures are reported in the result. Permanent failures
// deactivate the recipient. When ctx is cancelled the broadcast stops before
// the next recipient and returns the partial result along with the context
// error.
func (b *Broadcaster) Broadcast(ctx context.Context, alert *domain.Alert, opts BroadcastOptions) (*BroadcastResult, error) {
	if !opts.DryRun && !transportEnabled(b.transport) {
		return nil, ErrTransportDisabled
	}

	start := time.Now()
	logger := ctxlog.FromContext(ctx).With("alert_id", alert.ID)

	recipients, err := b.recipients.FindActiveRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("find active recipients: %w", err)
	}
	eligible := FilterEligible(alert, recipients)

	result := &BroadcastResult{
		AlertID:             alert.ID,
		TotalSubscribers:    len(recipients),
		EligibleSubscribers: len(eligible),
		Results:             make([]RecipientResult, 0, len(eligible)),
		DryRun:              opts.DryRun,
	}
	defer func() {
		result.Duration = time.Since(start)
		recordBroadcast(result)
	}()

	if opts.DryRun {
		for _, r := range eligible {
			result.Results = append(result.Results, RecipientResult{RecipientID: r.ID, ChatID: r.ChatID, Success: true})
			result.Sent++
		}
		logger.Info("broadcast dry run", "eligible", result.EligibleSubscribers, "total", result.TotalSubscribers)
		return result, nil
	}

	text, err := b.formatter.FormatAlert(alert)
	if err != nil {
		return nil, fmt.Errorf("format alert: %w", err)
	}

	delay := b.sendDelay
	if opts.SendDelay > 0 {
		delay = opts.SendDelay
	}

	for i := range eligible {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return b.cancelled(logger, result, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return b.cancelled(logger, result, err)
		}

		rr := b.sendOne(ctx, logger, &eligible[i], text)
		result.Results = append(result.Results, rr)
		switch {
		case rr.Success:
			result.Sent++
		case rr.Deactivated:
			result.Failed++
			result.Deactivated++
		default:
			result.Failed++
		}
	}

	logger.Info("broadcast completed",
		"total", result.TotalSubscribers,
		"eligible", result.EligibleSubscribers,
		"sent", result.Sent,
		"failed", result.Failed,
		"deactivated", result.Deactivated,
	)
	return result, nil
}

func (b *Broadcaster) sendOne(ctx context.Context, logger *slog.Logger, r *domain.Recipient, text string) RecipientResult {
	rr := RecipientResult{RecipientID: r.ID, ChatID: r.ChatID}

	sent, err := b.transport.Send(ctx, r.ChatID, text, SendOptions{ParseMode: parseModeHTML, DisableWebPagePreview: true})
	if err == nil {
		rr.Success = true
		if sent != nil {
			rr.MessageID = sent.MessageID
		}
		if err := b.recipients.IncrementAlertsSent(ctx, r.ID); err != nil {
			logger.Error("failed to increment alerts sent", "recipient_id", r.ID, "error", err)
		}
		return rr
	}

	rr.Error = err.Error()
	c, permanent := Classify(err)
	if !permanent {
		logger.Warn("failed to send alert", "recipient_id", r.ID, "chat_id", r.ChatID, "error", err)
		return rr
	}

	if err := b.recipients.MarkBlocked(ctx, r.ID, c.Reason, c.Type); err != nil {
		logger.Error("failed to deactivate recipient", "recipient_id", r.ID, "error", err)
		return rr
	}
	rr.Deactivated = true
	rr.DeactivationType = c.Type
	recordDeactivation(c.Type)
	logger.Info("recipient deactivated",
		"recipient_id", r.ID,
		"chat_id", r.ChatID,
		"deactivation_type", c.Type,
		"reason", c.Reason,
	)
	return rr
}

func (b *Broadcaster) cancelled(logger *slog.Logger, result *BroadcastResult, err error) (*BroadcastResult, error) {
	result.Cancelled = true
	logger.Warn("broadcast cancelled",
		"sent", result.Sent,
		"failed", result.Failed,
		"remaining", result.EligibleSubscribers-len(result.Results),
	)
	return result, fmt.Errorf("broadcast cancelled: %w", err)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package postgres implements the recipient store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/recipients"
)

// Store implements recipients.Store.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL recipient store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const recipientColumns = `id, chat_id, type, username, is_active, is_blocked, min_severity,
	alert_preferences, alerts_sent, last_alert_at, deactivation_reason, deactivation_type,
	deactivated_at, created_at, updated_at`

// Create inserts a recipient and fills in its generated ID and timestamps
// when they are empty.
func (s *Store) Create(ctx context.Context, r *domain.Recipient) error {
	query := `
		INSERT INTO recipients (chat_id, type, username, is_active, min_severity,
			alert_preferences, last_alert_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, NOW()), NOW())
		RETURNING id, created_at, updated_at
	`
	var createdAt *time.Time
	if !r.CreatedAt.IsZero() {
		createdAt = &r.CreatedAt
	}
	err := s.db.QueryRow(ctx, query,
		r.ChatID,
		r.Type,
		r.Username,
		r.IsActive,
		r.MinSeverity,
		r.AlertPreferences,
		r.LastAlertAt,
		createdAt,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert recipient: %w", err)
	}
	return nil
}

// GetByID returns the recipient with id.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	r, err := scanRecipient(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, recipients.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return r, nil
}

// FindActiveRecipients returns every active recipient, oldest first.
func (s *Store) FindActiveRecipients(ctx context.Context) ([]domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE is_active ORDER BY created_at, id`
	return s.query(ctx, query)
}

// FindInactiveSince returns active recipients whose last alert, or creation
// time when never alerted, is more than days old.
func (s *Store) FindInactiveSince(ctx context.Context, days int) ([]domain.Recipient, error) {
	query := `
		SELECT ` + recipientColumns + `
		FROM recipients
		WHERE is_active
		  AND COALESCE(last_alert_at, created_at) < NOW() - make_interval(days => $1)
		ORDER BY COALESCE(last_alert_at, created_at), id
	`
	return s.query(ctx, query, days)
}

// MarkBlocked deactivates the recipient. Inactivity cleanup does not set
// is_blocked; every other deactivation type does.
func (s *Store) MarkBlocked(ctx context.Context, id, reason string, deactivationType domain.DeactivationType) error {
	query := `
		UPDATE recipients
		SET is_active = FALSE,
		    is_blocked = $4,
		    deactivation_reason = $2,
		    deactivation_type = $3,
		    deactivated_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND is_active
	`
	blocked := deactivationType != domain.DeactivationInactiveCleanup
	result, err := s.db.Exec(ctx, query, id, reason, deactivationType, blocked)
	if err != nil {
		return fmt.Errorf("mark recipient blocked: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	return s.ensureExists(ctx, id)
}

// IncrementAlertsSent bumps the alert counter and last alert time.
func (s *Store) IncrementAlertsSent(ctx context.Context, id string) error {
	query := `
		UPDATE recipients
		SET alerts_sent = alerts_sent + 1, last_alert_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment alerts sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return recipients.ErrRecipientNotFound
	}
	return nil
}

// GetStats returns recipient counts.
func (s *Store) GetStats(ctx context.Context) (*recipients.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_blocked)
		FROM recipients
	`
	var stats recipients.Stats
	if err := s.db.QueryRow(ctx, query).Scan(&stats.Total, &stats.Active, &stats.Blocked); err != nil {
		return nil, fmt.Errorf("get recipient stats: %w", err)
	}
	return &stats, nil
}

func (s *Store) ensureExists(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM recipients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check recipient: %w", err)
	}
	if !exists {
		return recipients.ErrRecipientNotFound
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]domain.Recipient, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return out, nil
}

func scanRecipient(row pgx.Row) (*domain.Recipient, error) {
	var r domain.Recipient
	err := row.Scan(
		&r.ID,
		&r.ChatID,
		&r.Type,
		&r.Username,
		&r.IsActive,
		&r.IsBlocked,
		&r.MinSeverity,
		&r.AlertPreferences,
		&r.AlertsSent,
		&r.LastAlertAt,
		&r.DeactivationReason,
		&r.DeactivationType,
		&r.DeactivatedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Package postgres implements the alert store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/market-sentinel/internal/alerts"
	"github.com/bissquit/market-sentinel/internal/domain"
)

// Store implements alerts.Store.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL alert store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const alertColumns = `id, type, severity, title, message, data, market_id, wallet_id, created_at`

// Create inserts an alert and fills in its generated ID and creation time.
func (s *Store) Create(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (type, severity, title, message, data, market_id, wallet_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		alert.Type,
		alert.Severity,
		alert.Title,
		alert.Message,
		alert.Data,
		alert.MarketID,
		alert.WalletID,
	).Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// FindAlertByID returns the alert with id, or alerts.ErrAlertNotFound.
func (s *Store) FindAlertByID(ctx context.Context, id string) (*domain.Alert, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, alerts.ErrAlertNotFound
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	alert, err := scanAlert(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerts.ErrAlertNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// ListRecent returns up to limit alerts, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts ORDER BY created_at DESC, id LIMIT $1`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	err := row.Scan(
		&a.ID,
		&a.Type,
		&a.Severity,
		&a.Title,
		&a.Message,
		&a.Data,
		&a.MarketID,
		&a.WalletID,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

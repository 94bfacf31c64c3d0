package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/market-sentinel/internal/notifications"
)

// PreferencesStore keeps per-user routing preferences as JSONB.
// It implements notifications.PreferencesProvider.
type PreferencesStore struct {
	db *pgxpool.Pool
}

// NewPreferencesStore creates a new PostgreSQL preferences store.
func NewPreferencesStore(db *pgxpool.Pool) *PreferencesStore {
	return &PreferencesStore{db: db}
}

// GetPreferences returns the stored preferences of userID, or nil if none.
func (s *PreferencesStore) GetPreferences(ctx context.Context, userID string) (*notifications.Preferences, error) {
	var prefs notifications.Preferences
	err := s.db.QueryRow(ctx,
		`SELECT preferences FROM notification_preferences WHERE user_id = $1`, userID,
	).Scan(&prefs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &prefs, nil
}

// SavePreferences creates or replaces the preferences of userID.
func (s *PreferencesStore) SavePreferences(ctx context.Context, userID string, prefs *notifications.Preferences) error {
	query := `
		INSERT INTO notification_preferences (user_id, preferences, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET preferences = EXCLUDED.preferences, updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, userID, prefs); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// DeletePreferences removes the preferences of userID so the defaults apply.
func (s *PreferencesStore) DeletePreferences(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM notification_preferences WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete preferences: %w", err)
	}
	return nil
}

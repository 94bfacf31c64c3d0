//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/market-sentinel/internal/alerts"
	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/testutil"
)

func TestStore(t *testing.T) {
	db, _ := testutil.NewMigratedDB(t)
	store := NewStore(db)
	ctx := context.Background()

	value := 250000.0
	market := "market-1"
	alert := &domain.Alert{
		Type:     domain.AlertTypeWhaleTrade,
		Severity: domain.SeverityHigh,
		Title:    "Whale buys YES",
		Message:  "Large position opened",
		Data: domain.AlertData{
			TradeValue:     &value,
			WalletAddress:  "0xabc",
			MarketQuestion: "Will it rain?",
			Extra:          map[string]string{"source": "scanner"},
		},
		MarketID: &market,
	}
	require.NoError(t, store.Create(ctx, alert))
	require.NotEmpty(t, alert.ID)

	t.Run("find by id", func(t *testing.T) {
		got, err := store.FindAlertByID(ctx, alert.ID)
		require.NoError(t, err)
		assert.Equal(t, alert.Title, got.Title)
		assert.Equal(t, alert.Data, got.Data)
		assert.Equal(t, &market, got.MarketID)
		assert.Nil(t, got.WalletID)
	})

	t.Run("missing and malformed ids", func(t *testing.T) {
		_, err := store.FindAlertByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, alerts.ErrAlertNotFound)

		_, err = store.FindAlertByID(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, alerts.ErrAlertNotFound)
	})

	t.Run("list recent", func(t *testing.T) {
		second := &domain.Alert{Type: domain.AlertTypeSystem, Severity: domain.SeverityInfo, Title: "Scanner restarted"}
		require.NoError(t, store.Create(ctx, second))

		list, err := store.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)

		list, err = store.ListRecent(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

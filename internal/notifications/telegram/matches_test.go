package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bissquit/market-sentinel/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func recipientWith(minSeverity domain.Severity, prefs *domain.AlertPreferences) *domain.Recipient {
	return &domain.Recipient{
		ID:               "r-1",
		ChatID:           "100",
		IsActive:         true,
		MinSeverity:      minSeverity,
		AlertPreferences: prefs,
	}
}

func TestMatches_SeverityFloor(t *testing.T) {
	severities := []domain.Severity{
		domain.SeverityInfo,
		domain.SeverityLow,
		domain.SeverityMedium,
		domain.SeverityHigh,
		domain.SeverityCritical,
	}

	for _, alertSev := range severities {
		for _, floor := range severities {
			alert := &domain.Alert{ID: "a", Type: domain.AlertTypeSystem, Severity: alertSev}
			// Rich preferences must never let a below-floor alert through.
			prefs := &domain.AlertPreferences{
				WhaleAlerts:  ptr(true),
				EnabledTypes: []domain.AlertType{domain.AlertTypeSystem},
			}
			got := Matches(alert, recipientWith(floor, prefs))
			assert.Equal(t, alertSev.Rank() >= floor.Rank(), got, "alert %s floor %s", alertSev, floor)
		}
	}
}

func TestFilterEligible_SeverityMix(t *testing.T) {
	alert := &domain.Alert{ID: "a-1", Type: domain.AlertTypeWhaleTrade, Severity: domain.SeverityLow}
	recipients := []domain.Recipient{
		{ID: "info", MinSeverity: domain.SeverityInfo},
		{ID: "high", MinSeverity: domain.SeverityHigh},
		{ID: "low", MinSeverity: domain.SeverityLow},
		{ID: "critical", MinSeverity: domain.SeverityCritical},
	}

	eligible := FilterEligible(alert, recipients)

	assert.Len(t, eligible, 2)
	assert.Equal(t, "info", eligible[0].ID)
	assert.Equal(t, "low", eligible[1].ID)
}

func TestMatches_Preferences(t *testing.T) {
	market := "market-1"
	wallet := "0xabc"

	whale := func() *domain.Alert {
		return &domain.Alert{
			ID:       "a-1",
			Type:     domain.AlertTypeWhaleTrade,
			Severity: domain.SeverityHigh,
			Data:     domain.AlertData{TradeValue: ptr(50000.0)},
			MarketID: &market,
			WalletID: &wallet,
		}
	}

	tests := []struct {
		name  string
		alert func() *domain.Alert
		prefs *domain.AlertPreferences
		want  bool
	}{
		{
			name:  "nil preferences accept everything above floor",
			alert: whale,
			want:  true,
		},
		{
			name:  "disabled type rejects",
			alert: whale,
			prefs: &domain.AlertPreferences{DisabledTypes: []domain.AlertType{domain.AlertTypeWhaleTrade}},
			want:  false,
		},
		{
			name:  "disabled type wins over enabled type",
			alert: whale,
			prefs: &domain.AlertPreferences{
				EnabledTypes:  []domain.AlertType{domain.AlertTypeWhaleTrade},
				DisabledTypes: []domain.AlertType{domain.AlertTypeWhaleTrade},
			},
			want: false,
		},
		{
			name:  "type missing from enabled list rejects",
			alert: whale,
			prefs: &domain.AlertPreferences{EnabledTypes: []domain.AlertType{domain.AlertTypePriceMovement}},
			want:  false,
		},
		{
			name:  "whale toggle off rejects",
			alert: whale,
			prefs: &domain.AlertPreferences{WhaleAlerts: ptr(false)},
			want:  false,
		},
		{
			name:  "unset toggle counts as enabled",
			alert: whale,
			prefs: &domain.AlertPreferences{InsiderAlerts: ptr(false)},
			want:  true,
		},
		{
			name: "insider toggle covers fresh wallet",
			alert: func() *domain.Alert {
				return &domain.Alert{Type: domain.AlertTypeFreshWallet, Severity: domain.SeverityHigh}
			},
			prefs: &domain.AlertPreferences{InsiderAlerts: ptr(false)},
			want:  false,
		},
		{
			name: "market toggle covers new market",
			alert: func() *domain.Alert {
				return &domain.Alert{Type: domain.AlertTypeNewMarket, Severity: domain.SeverityHigh}
			},
			prefs: &domain.AlertPreferences{MarketAlerts: ptr(false)},
			want:  false,
		},
		{
			name: "system alerts have no toggle",
			alert: func() *domain.Alert {
				return &domain.Alert{Type: domain.AlertTypeSystem, Severity: domain.SeverityHigh}
			},
			prefs: &domain.AlertPreferences{
				WhaleAlerts: ptr(false), InsiderAlerts: ptr(false), VolumeAlerts: ptr(false),
				PriceAlerts: ptr(false), MarketAlerts: ptr(false),
			},
			want: true,
		},
		{
			name:  "trade value below floor rejects",
			alert: whale,
			prefs: &domain.AlertPreferences{MinTradeValue: 100000},
			want:  false,
		},
		{
			name: "missing trade value skips the floor",
			alert: func() *domain.Alert {
				a := whale()
				a.Data.TradeValue = nil
				return a
			},
			prefs: &domain.AlertPreferences{MinTradeValue: 100000},
			want:  true,
		},
		{
			name:  "unwatched market rejects",
			alert: whale,
			prefs: &domain.AlertPreferences{WatchedMarkets: []string{"market-2"}},
			want:  false,
		},
		{
			name:  "watched market accepts",
			alert: whale,
			prefs: &domain.AlertPreferences{WatchedMarkets: []string{"market-2", "market-1"}},
			want:  true,
		},
		{
			name:  "unwatched wallet rejects",
			alert: whale,
			prefs: &domain.AlertPreferences{WatchedWallets: []string{"0xdef"}},
			want:  false,
		},
		{
			name: "alert without wallet passes wallet watch list",
			alert: func() *domain.Alert {
				a := whale()
				a.WalletID = nil
				return a
			},
			prefs: &domain.AlertPreferences{WatchedWallets: []string{"0xdef"}},
			want:  true,
		},
		{
			name: "alert without market passes market watch list",
			alert: func() *domain.Alert {
				a := whale()
				a.MarketID = nil
				return a
			},
			prefs: &domain.AlertPreferences{WatchedMarkets: []string{"market-2"}},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.alert(), recipientWith(domain.SeverityInfo, tt.prefs)))
		})
	}
}

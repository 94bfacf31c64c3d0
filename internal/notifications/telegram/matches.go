package telegram

import (
	"slices"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// Matches reports whether recipient should receive alert.
//
// Checks run in a fixed order and the first failing one rejects:
// severity floor, then (only when preferences are set) the type deny list,
// the type allow list, the category toggle, the trade value floor, watched
// markets and watched wallets. An alert without a market or wallet id is not
// filtered by the corresponding watch list.
func Matches(alert *domain.Alert, recipient *domain.Recipient) bool {
	if !alert.Severity.AtLeast(recipient.MinSeverity) {
		return false
	}

	prefs := recipient.AlertPreferences
	if prefs == nil {
		return true
	}

	if slices.Contains(prefs.DisabledTypes, alert.Type) {
		return false
	}
	if len(prefs.EnabledTypes) > 0 && !slices.Contains(prefs.EnabledTypes, alert.Type) {
		return false
	}

	if toggle := categoryToggle(prefs, alert.Type); toggle != nil && !*toggle {
		return false
	}

	if prefs.MinTradeValue > 0 && alert.Data.TradeValue != nil && *alert.Data.TradeValue < prefs.MinTradeValue {
		return false
	}

	if len(prefs.WatchedMarkets) > 0 && alert.MarketID != nil && !slices.Contains(prefs.WatchedMarkets, *alert.MarketID) {
		return false
	}

	if len(prefs.WatchedWallets) > 0 && alert.WalletID != nil && !slices.Contains(prefs.WatchedWallets, *alert.WalletID) {
		return false
	}

	return true
}

// categoryToggle returns the toggle that covers t, or nil if none does.
func categoryToggle(prefs *domain.AlertPreferences, t domain.AlertType) *bool {
	switch {
	case t == domain.AlertTypeWhaleTrade:
		return prefs.WhaleAlerts
	case t.IsInsider():
		return prefs.InsiderAlerts
	case t == domain.AlertTypeUnusualVolume:
		return prefs.VolumeAlerts
	case t == domain.AlertTypePriceMovement:
		return prefs.PriceAlerts
	case t == domain.AlertTypeMarketResolved, t == domain.AlertTypeNewMarket:
		return prefs.MarketAlerts
	default:
		return nil
	}
}

// FilterEligible returns the recipients that match alert, in order.
func FilterEligible(alert *domain.Alert, recipients []domain.Recipient) []domain.Recipient {
	eligible := make([]domain.Recipient, 0, len(recipients))
	for i := range recipients {
		if Matches(alert, &recipients[i]) {
			eligible = append(eligible, recipients[i])
		}
	}
	return eligible
}

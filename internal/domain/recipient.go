package domain

import "time"

// RecipientType is the kind of messenger chat.
type RecipientType string

const (
	RecipientTypePrivate    RecipientType = "private"
	RecipientTypeGroup      RecipientType = "group"
	RecipientTypeSupergroup RecipientType = "supergroup"
	RecipientTypeChannel    RecipientType = "channel"
)

// DeactivationType is the classified cause recorded when a recipient is disabled.
type DeactivationType string

const (
	DeactivationBlockedByUser   DeactivationType = "BLOCKED_BY_USER"
	DeactivationChatNotFound    DeactivationType = "CHAT_NOT_FOUND"
	DeactivationBotKicked       DeactivationType = "BOT_KICKED"
	DeactivationUserDeactivated DeactivationType = "USER_DEACTIVATED"
	DeactivationInactiveCleanup DeactivationType = "INACTIVE_CLEANUP"
)

// AlertPreferences narrows which alerts a recipient receives.
//
// Category toggles are tri-state: nil means enabled, only an explicit false
// filters the category out. Empty lists impose no restriction and a zero
// MinTradeValue disables the trade value floor.
type AlertPreferences struct {
	WhaleAlerts   *bool `json:"whale_alerts,omitempty"`
	InsiderAlerts *bool `json:"insider_alerts,omitempty"`
	VolumeAlerts  *bool `json:"volume_alerts,omitempty"`
	PriceAlerts   *bool `json:"price_alerts,omitempty"`
	MarketAlerts  *bool `json:"market_alerts,omitempty"`

	EnabledTypes  []AlertType `json:"enabled_types,omitempty"`
	DisabledTypes []AlertType `json:"disabled_types,omitempty"`

	MinTradeValue  float64  `json:"min_trade_value,omitempty"`
	WatchedMarkets []string `json:"watched_markets,omitempty"`
	WatchedWallets []string `json:"watched_wallets,omitempty"`
}

// Recipient is a messenger chat that receives broadcast alerts.
// Recipients are never deleted here: deactivation flips IsActive and records
// the reason.
type Recipient struct {
	ID                 string            `json:"id"`
	ChatID             string            `json:"chat_id"`
	Type               RecipientType     `json:"type"`
	Username           string            `json:"username,omitempty"`
	IsActive           bool              `json:"is_active"`
	IsBlocked          bool              `json:"is_blocked"`
	MinSeverity        Severity          `json:"min_severity"`
	AlertPreferences   *AlertPreferences `json:"alert_preferences,omitempty"`
	AlertsSent         int               `json:"alerts_sent"`
	LastAlertAt        *time.Time        `json:"last_alert_at,omitempty"`
	DeactivationReason string            `json:"deactivation_reason,omitempty"`
	DeactivationType   DeactivationType  `json:"deactivation_type,omitempty"`
	DeactivatedAt      *time.Time        `json:"deactivated_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// LastActivity returns the time of the last alert, or creation time if none
// was ever sent.
func (r *Recipient) LastActivity() time.Time {
	if r.LastAlertAt != nil {
		return *r.LastAlertAt
	}
	return r.CreatedAt
}

package domain

import "time"

// Severity is the alert-assigned importance.
type Severity string

// Severities, lowest first.
const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the position of s in the severity order.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// AtLeast reports whether s is at or above floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Rank() >= floor.Rank()
}

type AlertType string

const (
	AlertTypeWhaleTrade         AlertType = "whale_trade"
	AlertTypeInsiderActivity    AlertType = "insider_activity"
	AlertTypeFreshWallet        AlertType = "fresh_wallet"
	AlertTypeWalletCluster      AlertType = "wallet_cluster"
	AlertTypeCoordinatedTrading AlertType = "coordinated_trading"
	AlertTypeUnusualVolume      AlertType = "unusual_volume"
	AlertTypePriceMovement      AlertType = "price_movement"
	AlertTypeMarketResolved     AlertType = "market_resolved"
	AlertTypeNewMarket          AlertType = "new_market"
	AlertTypeSystem             AlertType = "system"
)

// InsiderAlertTypes is the cluster of types covered by the insider toggle.
var InsiderAlertTypes = []AlertType{
	AlertTypeInsiderActivity,
	AlertTypeFreshWallet,
	AlertTypeWalletCluster,
	AlertTypeCoordinatedTrading,
}

// IsInsider reports whether t belongs to the insider cluster.
func (t AlertType) IsInsider() bool {
	for _, it := range InsiderAlertTypes {
		if it == t {
			return true
		}
	}
	return false
}

// AlertData carries the structured trade context of an alert.
type AlertData struct {
	TradeValue     *float64          `json:"trade_value,omitempty"`
	WalletAddress  string            `json:"wallet_address,omitempty"`
	MarketQuestion string            `json:"market_question,omitempty"`
	MarketURL      string            `json:"market_url,omitempty"`
	Outcome        string            `json:"outcome,omitempty"`
	Side           string            `json:"side,omitempty"`
	Price          *float64          `json:"price,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Alert is a detected market event to be delivered to recipients.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Data      AlertData `json:"data"`
	MarketID  *string   `json:"market_id,omitempty"`
	WalletID  *string   `json:"wallet_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

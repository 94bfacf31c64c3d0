package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bissquit/market-sentinel/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// alertTemplates maps each channel to its alert template.
var alertTemplates = domain.ChannelTable[string]{
	"telegram_alert",
	"email_alert",
	"webhook_alert",
	"short_alert",
	"short_alert",
}

// alertFormats is the body format each channel template produces.
var alertFormats = domain.ChannelTable[Format]{
	FormatHTML,
	FormatText,
	FormatMarkdown,
	FormatText,
	FormatText,
}

// Renderer renders alerts from templates.
type Renderer struct {
	templates map[string]*template.Template
	funcMap   template.FuncMap
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":         titleCase,
		"upper":         upper,
		"lower":         lower,
		"humanize":      humanize,
		"formatTime":    formatTime,
		"formatMoney":   formatMoney,
		"formatPrice":   formatPrice,
		"shortAddress":  shortAddress,
		"severityEmoji": severityEmoji,
		"typeEmoji":     typeEmoji,
		"escapeHTML":    html.EscapeString,
	}

	r := &Renderer{
		templates: make(map[string]*template.Template),
		funcMap:   funcMap,
	}

	for _, name := range []string{"telegram_alert", "email_alert", "webhook_alert", "short_alert"} {
		filename := fmt.Sprintf("templates/%s.tmpl", name)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders an alert for the specified channel.
// Returns subject and body.
func (r *Renderer) Render(channel domain.ChannelType, alert *domain.Alert) (subject, body string, err error) {
	if !channel.IsValid() {
		return "", "", fmt.Errorf("unknown channel: %s", channel)
	}
	subject = Subject(alert)

	name := alertTemplates.Get(channel)
	tmpl, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", name, err)
	}

	body = strings.TrimSpace(buf.String())
	return subject, body, nil
}

// FormatAlert renders the messenger body of an alert.
func (r *Renderer) FormatAlert(alert *domain.Alert) (string, error) {
	_, body, err := r.Render(domain.ChannelTypeTelegram, alert)
	return body, err
}

// NewAlertPayload renders alert into a payload for channel addressed to address.
func (r *Renderer) NewAlertPayload(alert *domain.Alert, channel domain.ChannelType, address string) (NotificationPayload, error) {
	subject, body, err := r.Render(channel, alert)
	if err != nil {
		return NotificationPayload{}, err
	}
	return NotificationPayload{
		Channel: channel,
		Address: address,
		Title:   subject,
		Body:    body,
		Format:  alertFormats.Get(channel),
		Metadata: map[string]string{
			"alert_id":   alert.ID,
			"alert_type": string(alert.Type),
			"severity":   string(alert.Severity),
		},
	}, nil
}

// PriorityForSeverity maps alert severity to delivery priority.
func PriorityForSeverity(s domain.Severity) Priority {
	switch s {
	case domain.SeverityCritical:
		return PriorityCritical
	case domain.SeverityHigh:
		return PriorityHigh
	case domain.SeverityInfo, domain.SeverityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Subject generates the alert subject line.
func Subject(alert *domain.Alert) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(v any) string {
	return titleCaser.String(fmt.Sprint(v))
}

func upper(v any) string {
	return strings.ToUpper(fmt.Sprint(v))
}

func lower(v any) string {
	return strings.ToLower(fmt.Sprint(v))
}

// humanize turns "whale_trade" into "Whale Trade".
func humanize(v any) string {
	return titleCaser.String(strings.ReplaceAll(fmt.Sprint(v), "_", " "))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

// formatMoney renders a dollar amount with thousands separators.
func formatMoney(v *float64) string {
	if v == nil {
		return ""
	}
	amount := math.Round(*v)
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatFloat(amount, 'f', 0, 64)

	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + "$" + b.String()
}

// formatPrice renders an outcome price (0..1) in cents.
func formatPrice(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v*100, 'f', 1, 64) + "¢"
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

func severityEmoji(v any) string {
	switch domain.Severity(strings.ToLower(fmt.Sprint(v))) {
	case domain.SeverityCritical:
		return "🔴"
	case domain.SeverityHigh:
		return "🟠"
	case domain.SeverityMedium:
		return "🟡"
	case domain.SeverityLow:
		return "🟢"
	default:
		return "ℹ️"
	}
}

func typeEmoji(v any) string {
	switch domain.AlertType(strings.ToLower(fmt.Sprint(v))) {
	case domain.AlertTypeWhaleTrade:
		return "🐋"
	case domain.AlertTypeInsiderActivity, domain.AlertTypeFreshWallet, domain.AlertTypeWalletCluster, domain.AlertTypeCoordinatedTrading:
		return "🕵️"
	case domain.AlertTypeUnusualVolume:
		return "📊"
	case domain.AlertTypePriceMovement:
		return "📈"
	case domain.AlertTypeMarketResolved:
		return "✅"
	case domain.AlertTypeNewMarket:
		return "🆕"
	default:
		return "📋"
	}
}

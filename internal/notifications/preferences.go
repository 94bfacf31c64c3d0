package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// ChannelConfig holds a user's settings for one channel.
//
// A channel without an entry in Preferences.Channels is enabled with no
// priority floor and is not a fallback. A nil MinPriority accepts every
// priority. Fallback channels are only tried after all targets fail.
type ChannelConfig struct {
	Enabled     bool      `json:"enabled"`
	MinPriority *Priority `json:"min_priority,omitempty"`
	IsFallback  bool      `json:"is_fallback,omitempty"`
}

// QuietHours blocks delivery during a daily window.
//
// Start and End are "HH:MM" in Timezone (IANA name, empty means UTC). The
// window is [Start, End) and wraps midnight when End < Start. A nil
// BypassPriority means nothing bypasses the window.
type QuietHours struct {
	Enabled        bool      `json:"enabled"`
	Start          string    `json:"start"`
	End            string    `json:"end"`
	Timezone       string    `json:"timezone,omitempty"`
	BypassPriority *Priority `json:"bypass_priority,omitempty"`
}

// Preferences is a user's routing configuration.
type Preferences struct {
	Enabled         bool                                `json:"enabled"`
	DefaultChannels []domain.ChannelType                `json:"default_channels"`
	Channels        domain.ChannelTable[*ChannelConfig] `json:"channels"`
	QuietHours      *QuietHours                         `json:"quiet_hours,omitempty"`
}

// ChannelConfig returns the settings for ch, or an enabled config when ch
// has no entry.
func (p *Preferences) ChannelConfig(ch domain.ChannelType) ChannelConfig {
	if cfg := p.Channels.Get(ch); cfg != nil {
		return *cfg
	}
	return ChannelConfig{Enabled: true}
}

// DefaultPreferences returns the process-wide defaults used when a user has
// no stored preferences: telegram first, email as fallback, webhook for
// high priority and above.
func DefaultPreferences() *Preferences {
	high := PriorityHigh
	p := &Preferences{
		Enabled: true,
		DefaultChannels: []domain.ChannelType{
			domain.ChannelTypeTelegram,
			domain.ChannelTypeWebhook,
			domain.ChannelTypeEmail,
		},
	}
	p.Channels.Set(domain.ChannelTypeTelegram, &ChannelConfig{Enabled: true})
	p.Channels.Set(domain.ChannelTypeWebhook, &ChannelConfig{Enabled: true, MinPriority: &high})
	p.Channels.Set(domain.ChannelTypeEmail, &ChannelConfig{Enabled: true, IsFallback: true})
	return p
}

// PreferencesProvider loads stored preferences for a user.
// Implementations return (nil, nil) when the user has none.
type PreferencesProvider interface {
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)
}

// IsActive reports whether now falls inside the quiet window.
func (q *QuietHours) IsActive(now time.Time) bool {
	start, end, loc, ok := q.window()
	if !ok {
		return false
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute < end
	}
	// Window wraps midnight, e.g. 22:00-07:00.
	return minute >= start || minute < end
}

// EndAfter returns the first end of the window strictly after now.
func (q *QuietHours) EndAfter(now time.Time) time.Time {
	_, end, loc, ok := q.window()
	if !ok {
		return now
	}
	local := now.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !t.After(local) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// window parses the configured window. ok is false when the window is
// disabled or cannot be parsed.
func (q *QuietHours) window() (start, end int, loc *time.Location, ok bool) {
	if q == nil || !q.Enabled {
		return 0, 0, nil, false
	}

	start, err := parseClock(q.Start)
	if err != nil {
		slog.Warn("invalid quiet hours start, ignoring window", "start", q.Start, "error", err)
		return 0, 0, nil, false
	}
	end, err = parseClock(q.End)
	if err != nil {
		slog.Warn("invalid quiet hours end, ignoring window", "end", q.End, "error", err)
		return 0, 0, nil, false
	}

	loc = time.UTC
	if q.Timezone != "" {
		l, err := time.LoadLocation(q.Timezone)
		if err != nil {
			slog.Warn("unknown quiet hours timezone, using UTC", "timezone", q.Timezone, "error", err)
		} else {
			loc = l
		}
	}
	return start, end, loc, true
}

// Bypassed reports whether priority is high enough to ignore the window.
func (q *QuietHours) Bypassed(priority Priority) bool {
	if q == nil || q.BypassPriority == nil {
		return false
	}
	return !priority.Below(*q.BypassPriority)
}

// parseClock converts "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Validate checks channel names, priorities and the quiet window.
func (p *Preferences) Validate() error {
	for _, ch := range p.DefaultChannels {
		if !ch.IsValid() {
			return NewValidationError("default_channels", "unknown channel %q", ch)
		}
	}
	for _, ch := range domain.ChannelTypes {
		if mp := p.ChannelConfig(ch).MinPriority; mp != nil && !mp.IsValid() {
			return NewValidationError("channels", "unknown min_priority %q for %s", *mp, ch)
		}
	}

	q := p.QuietHours
	if q == nil {
		return nil
	}
	if _, err := parseClock(q.Start); err != nil {
		return NewValidationError("quiet_hours.start", "%v", err)
	}
	if _, err := parseClock(q.End); err != nil {
		return NewValidationError("quiet_hours.end", "%v", err)
	}
	if q.Timezone != "" {
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return NewValidationError("quiet_hours.timezone", "unknown timezone %q", q.Timezone)
		}
	}
	if q.BypassPriority != nil && !q.BypassPriority.IsValid() {
		return NewValidationError("quiet_hours.bypass_priority", "unknown priority %q", *q.BypassPriority)
	}
	return nil
}

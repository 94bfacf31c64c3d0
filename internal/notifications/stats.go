package notifications

import (
	"sync"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// ChannelStats counts delivery attempts on one channel.
type ChannelStats struct {
	Attempts          int64   `json:"attempts"`
	Sent              int64   `json:"sent"`
	Failed            int64   `json:"failed"`
	AverageDurationMs float64 `json:"average_duration_ms"`
	LastError         string  `json:"last_error,omitempty"`
}

// RouterStats is a snapshot of router activity since start or the last reset.
type RouterStats struct {
	TotalRouted   int64                                `json:"total_routed"`
	Succeeded     int64                                `json:"succeeded"`
	Failed        int64                                `json:"failed"`
	Blocked       int64                                `json:"blocked"`
	FallbacksUsed int64                                `json:"fallbacks_used"`
	Channels      map[domain.ChannelType]ChannelStats `json:"channels"`
	Since         time.Time                            `json:"since"`
}

type routerStats struct {
	mu            sync.Mutex
	totalRouted   int64
	succeeded     int64
	failed        int64
	blocked       int64
	fallbacksUsed int64
	channels      domain.ChannelTable[ChannelStats]
	totalDuration domain.ChannelTable[time.Duration]
	since         time.Time
}

func newRouterStats() *routerStats {
	return &routerStats{since: time.Now()}
}

func (s *routerStats) recordAttempt(ch domain.ChannelType, res ChannelSendResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.channels.Get(ch)
	cs.Attempts++
	if res.Success {
		cs.Sent++
	} else {
		cs.Failed++
		cs.LastError = res.ErrorMessage()
	}
	total := s.totalDuration.Get(ch) + res.Duration
	s.totalDuration.Set(ch, total)
	cs.AverageDurationMs = float64(total.Milliseconds()) / float64(cs.Attempts)
	s.channels.Set(ch, cs)
}

func (s *routerStats) recordRoute(res *RouterResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRouted++
	switch {
	case res.Success:
		s.succeeded++
	case !res.Decision.ShouldRoute:
		s.blocked++
	default:
		s.failed++
	}
	s.fallbacksUsed += int64(res.Summary.FallbacksUsed)
}

func (s *routerStats) snapshot() RouterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := RouterStats{
		TotalRouted:   s.totalRouted,
		Succeeded:     s.succeeded,
		Failed:        s.failed,
		Blocked:       s.blocked,
		FallbacksUsed: s.fallbacksUsed,
		Channels:      make(map[domain.ChannelType]ChannelStats),
		Since:         s.since,
	}
	for i, ch := range domain.ChannelTypes {
		if s.channels[i].Attempts > 0 {
			out.Channels[ch] = s.channels[i]
		}
	}
	return out
}

func (s *routerStats) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRouted, s.succeeded, s.failed, s.blocked, s.fallbacksUsed = 0, 0, 0, 0, 0
	s.channels = domain.ChannelTable[ChannelStats]{}
	s.totalDuration = domain.ChannelTable[time.Duration]{}
	s.since = time.Now()
}

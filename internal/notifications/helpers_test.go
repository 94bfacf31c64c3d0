package notifications

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
)

// fakeHandler replays scripted results in order, repeating the last one.
type fakeHandler struct {
	channel   domain.ChannelType
	available bool
	results   []ChannelSendResult
	panicMsg  string

	mu   sync.Mutex
	sent []Notification
}

func newFakeHandler(ch domain.ChannelType, results ...ChannelSendResult) *fakeHandler {
	if len(results) == 0 {
		results = []ChannelSendResult{{Success: true, MessageID: "msg-1"}}
	}
	return &fakeHandler{channel: ch, available: true, results: results}
}

func (h *fakeHandler) Channel() domain.ChannelType { return h.channel }
func (h *fakeHandler) IsAvailable() bool           { return h.available }

func (h *fakeHandler) Status() ChannelStatus {
	return ChannelStatus{Channel: h.channel, Enabled: true, Available: h.available}
}

func (h *fakeHandler) Send(_ context.Context, n Notification) ChannelSendResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, n)
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	i := len(h.sent) - 1
	if i >= len(h.results) {
		i = len(h.results) - 1
	}
	return h.results[i]
}

func (h *fakeHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

func failRetryable(msg string) ChannelSendResult {
	return ChannelSendResult{Err: fmt.Errorf("%s", msg), ShouldRetry: true}
}

func failPermanent(msg string) ChannelSendResult {
	return ChannelSendResult{Err: fmt.Errorf("%s", msg), ShouldRetry: false}
}

// memQueueRepo is an in-memory QueueRepository.
type memQueueRepo struct {
	mu    sync.Mutex
	items map[string]*QueueItem
	stats *QueueStats // overrides computed stats when set
}

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{items: make(map[string]*QueueItem)}
}

func (r *memQueueRepo) Create(_ context.Context, item *QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memQueueRepo) GetByID(_ context.Context, id string) (*QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (r *memQueueRepo) Claim(_ context.Context, limit int, now time.Time) ([]*QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ready := make([]*QueueItem, 0)
	for _, item := range r.items {
		if IsReadyForProcessing(item, now) && item.Attempts < item.MaxAttempts {
			ready = append(ready, item)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority.Rank() != ready[j].Priority.Rank() {
			return ready[i].Priority.Rank() > ready[j].Priority.Rank()
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]*QueueItem, 0, len(ready))
	for _, item := range ready {
		if err := item.Transition(QueueStatusProcessing, now); err != nil {
			return nil, err
		}
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memQueueRepo) Update(_ context.Context, item *QueueItem, from QueueStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[item.ID]
	if !ok {
		return ErrItemNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("%w: item %s is %s, not %s", ErrInvalidTransition, item.ID, stored.Status, from)
	}
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memQueueRepo) PromoteRetrying(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.items {
		if item.Status == QueueStatusRetrying && (item.ScheduledAt == nil || !item.ScheduledAt.After(now)) {
			if err := item.Transition(QueueStatusPending, now); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) RecoverStuck(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.items {
		if item.Status == QueueStatusProcessing && item.ProcessingStartedAt != nil && item.ProcessingStartedAt.Before(cutoff) {
			if item.Attempts >= item.MaxAttempts {
				_ = item.Transition(QueueStatusFailed, cutoff)
				_ = item.Transition(QueueStatusDeadLetter, cutoff)
				item.Error = "processing timed out"
			} else if err := item.Transition(QueueStatusPending, cutoff); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) Stats(_ context.Context) (*QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stats != nil {
		cp := *r.stats
		return &cp, nil
	}
	var s QueueStats
	for _, item := range r.items {
		switch item.Status {
		case QueueStatusPending:
			s.Pending++
		case QueueStatusProcessing:
			s.Processing++
		case QueueStatusRetrying:
			s.Retrying++
		case QueueStatusSent:
			s.Sent++
		case QueueStatusFailed:
			s.Failed++
		case QueueStatusDeadLetter:
			s.DeadLetter++
		}
	}
	return &s, nil
}

func (r *memQueueRepo) get(id string) QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.items[id]
}

// staticPrefs serves the same preferences for every user.
type staticPrefs struct {
	prefs *Preferences
	err   error
}

func (s staticPrefs) GetPreferences(context.Context, string) (*Preferences, error) {
	return s.prefs, s.err
}

func priorityPtr(p Priority) *Priority { return &p }

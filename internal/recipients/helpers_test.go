package recipients

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
)

type markCall struct {
	id     string
	reason string
	typ    domain.DeactivationType
}

// memStore is an in-memory Store evaluated against a fixed now.
type memStore struct {
	mu         sync.Mutex
	now        time.Time
	recipients []*domain.Recipient
	marks      []markCall
	findErr    error
	markErr    map[string]error
	onMark     func(id string)
}

func newMemStore(now time.Time, recipients ...*domain.Recipient) *memStore {
	return &memStore{now: now, recipients: recipients, markErr: map[string]error{}}
}

func (s *memStore) FindActiveRecipients(_ context.Context) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Recipient
	for _, r := range s.recipients {
		if r.IsActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) FindInactiveSince(_ context.Context, days int) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	cutoff := s.now.AddDate(0, 0, -days)
	var out []domain.Recipient
	for _, r := range s.recipients {
		if r.IsActive && r.LastActivity().Before(cutoff) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) MarkBlocked(ctx context.Context, id, reason string, typ domain.DeactivationType) error {
	if s.onMark != nil {
		s.onMark(id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markErr[id]; err != nil {
		return err
	}
	for _, r := range s.recipients {
		if r.ID != id {
			continue
		}
		s.marks = append(s.marks, markCall{id: id, reason: reason, typ: typ})
		if r.IsActive {
			r.IsActive = false
			r.DeactivationReason = reason
			r.DeactivationType = typ
			r.IsBlocked = typ != domain.DeactivationInactiveCleanup
		}
		return nil
	}
	return ErrRecipientNotFound
}

func (s *memStore) IncrementAlertsSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recipients {
		if r.ID == id {
			r.AlertsSent++
			return nil
		}
	}
	return ErrRecipientNotFound
}

func (s *memStore) GetStats(_ context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &Stats{Total: int64(len(s.recipients))}
	for _, r := range s.recipients {
		if r.IsActive {
			stats.Active++
		}
		if r.IsBlocked {
			stats.Blocked++
		}
	}
	return stats, nil
}

func (s *memStore) markCalls() []markCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]markCall(nil), s.marks...)
}

func (s *memStore) get(id string) domain.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recipients {
		if r.ID == id {
			return *r
		}
	}
	return domain.Recipient{}
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := testNow.AddDate(0, 0, -n)
	return &t
}

// recipient builds an active recipient last alerted lastAlert days ago, or
// never alerted and created created days ago when lastAlert is negative.
func recipient(id string, lastAlert, created int) *domain.Recipient {
	r := &domain.Recipient{
		ID:          id,
		ChatID:      "chat-" + id,
		Type:        domain.RecipientTypePrivate,
		IsActive:    true,
		MinSeverity: domain.SeverityInfo,
		CreatedAt:   *daysAgo(created),
	}
	if lastAlert >= 0 {
		r.LastAlertAt = daysAgo(lastAlert)
	}
	return r
}

package recipients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/notifications"
)

func newTestCleanup(t *testing.T, store Store, cfg CleanupConfig) *CleanupService {
	t.Helper()
	svc, err := NewCleanupService(store, cfg, notifications.FixedClock(testNow))
	require.NoError(t, err)
	return svc
}

func TestCleanupConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  CleanupConfig
		wantErr bool
	}{
		{"default", DefaultCleanupConfig(), false},
		{"one day", CleanupConfig{InactiveDays: 1, Interval: time.Hour}, false},
		{"zero days", CleanupConfig{InactiveDays: 0, Interval: time.Hour}, true},
		{"negative days", CleanupConfig{InactiveDays: -5, Interval: time.Hour}, true},
		{"interval too short", CleanupConfig{InactiveDays: 30, Interval: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCleanupConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewCleanupService_InvalidConfig(t *testing.T) {
	_, err := NewCleanupService(newMemStore(testNow), CleanupConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidCleanupConfig)
}

// Scenario: a sweep with a 90 day threshold deactivates exactly the
// recipients silent for longer, and preview selects the same set without
// touching the store.
func TestCleanupService_InactivitySweep(t *testing.T) {
	store := newMemStore(testNow,
		recipient("stale", 120, 400),
		recipient("recent", 30, 400),
		recipient("never-old", -1, 200),
		recipient("never-new", -1, 10),
		recipient("edge", 89, 400),
	)
	deactivated := recipient("gone", 300, 400)
	deactivated.IsActive = false
	store.recipients = append(store.recipients, deactivated)

	svc := newTestCleanup(t, store, DefaultCleanupConfig())
	ctx := context.Background()

	preview, err := svc.PreviewCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale", "never-old"}, ids(preview))
	assert.Empty(t, store.markCalls())
	assert.Nil(t, svc.LastCleanupResult())

	result, err := svc.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deactivated)
	assert.Equal(t, []string{"stale", "never-old"}, result.RecipientIDs)
	assert.Equal(t, []string{"chat-stale", "chat-never-old"}, result.ChatIDs)
	assert.Equal(t, testNow, result.RunAt)
	assert.False(t, result.Cancelled)

	for _, call := range store.markCalls() {
		assert.Equal(t, "Inactive for more than 90 days", call.reason)
		assert.Equal(t, domain.DeactivationInactiveCleanup, call.typ)
	}
	assert.False(t, store.get("stale").IsActive)
	assert.True(t, store.get("recent").IsActive)
	assert.True(t, store.get("never-new").IsActive)
	assert.True(t, store.get("edge").IsActive)
	assert.Same(t, result, svc.LastCleanupResult())

	again, err := svc.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Deactivated)
	assert.Empty(t, again.RecipientIDs)
	assert.Same(t, again, svc.LastCleanupResult())
}

func TestCleanupService_SkipsFailedDeactivation(t *testing.T) {
	store := newMemStore(testNow, recipient("a", 100, 400), recipient("b", 100, 400))
	store.markErr["a"] = errors.New("connection reset")
	svc := newTestCleanup(t, store, DefaultCleanupConfig())

	result, err := svc.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deactivated)
	assert.Equal(t, []string{"b"}, result.RecipientIDs)
	assert.True(t, store.get("a").IsActive)
}

func TestCleanupService_FindError(t *testing.T) {
	store := newMemStore(testNow)
	store.findErr = errors.New("db down")
	svc := newTestCleanup(t, store, DefaultCleanupConfig())

	_, err := svc.RunCleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find inactive recipients")
	assert.Nil(t, svc.LastCleanupResult())

	_, err = svc.PreviewCleanup(context.Background())
	assert.Error(t, err)
}

func TestCleanupService_Cancelled(t *testing.T) {
	store := newMemStore(testNow,
		recipient("a", 100, 400),
		recipient("b", 100, 400),
		recipient("c", 100, 400),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	marks := 0
	store.onMark = func(string) {
		marks++
		if marks == 2 {
			cancel()
		}
	}
	svc := newTestCleanup(t, store, DefaultCleanupConfig())

	result, err := svc.RunCleanup(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Equal(t, []string{"a"}, result.RecipientIDs)
	assert.True(t, store.get("b").IsActive)
	assert.True(t, store.get("c").IsActive)
	assert.Same(t, result, svc.LastCleanupResult())
}

func TestCleanupService_RejectsConcurrentRun(t *testing.T) {
	store := newMemStore(testNow, recipient("a", 100, 400))
	entered := make(chan struct{})
	release := make(chan struct{})
	store.onMark = func(string) {
		close(entered)
		<-release
	}
	svc := newTestCleanup(t, store, DefaultCleanupConfig())

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunCleanup(context.Background())
		done <- err
	}()
	<-entered

	_, err := svc.RunCleanup(context.Background())
	assert.ErrorIs(t, err, ErrCleanupInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestCleanupService_UpdateConfig(t *testing.T) {
	store := newMemStore(testNow, recipient("a", 45, 400))
	svc := newTestCleanup(t, store, DefaultCleanupConfig())

	days := 30
	cfg, err := svc.UpdateConfig(CleanupConfigUpdate{InactiveDays: &days})
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.InactiveDays)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Interval)

	result, err := svc.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deactivated)
	assert.Equal(t, "Inactive for more than 30 days", store.markCalls()[0].reason)

	disabled := false
	interval := 6 * time.Hour
	cfg, err = svc.UpdateConfig(CleanupConfigUpdate{Enabled: &disabled, Interval: &interval})
	require.NoError(t, err)
	assert.Equal(t, CleanupConfig{Enabled: false, InactiveDays: 30, Interval: 6 * time.Hour}, cfg)

	zero := 0
	_, err = svc.UpdateConfig(CleanupConfigUpdate{InactiveDays: &zero})
	assert.ErrorIs(t, err, ErrInvalidCleanupConfig)
	assert.Equal(t, cfg, svc.Config())
}

func TestCleanupService_Loop(t *testing.T) {
	orig := minCleanupInterval
	minCleanupInterval = time.Millisecond
	t.Cleanup(func() { minCleanupInterval = orig })

	t.Run("new interval applies to running loop", func(t *testing.T) {
		store := newMemStore(testNow, recipient("a", 100, 400))
		svc := newTestCleanup(t, store, CleanupConfig{Enabled: true, InactiveDays: 90, Interval: time.Hour})

		svc.Start(context.Background())
		defer svc.Stop()

		interval := 10 * time.Millisecond
		_, err := svc.UpdateConfig(CleanupConfigUpdate{Interval: &interval})
		require.NoError(t, err)

		assert.Eventually(t, func() bool { return svc.LastCleanupResult() != nil }, time.Second, 5*time.Millisecond)
		assert.False(t, store.get("a").IsActive)
	})

	t.Run("disabled loop does not sweep", func(t *testing.T) {
		store := newMemStore(testNow, recipient("a", 100, 400))
		svc := newTestCleanup(t, store, CleanupConfig{Enabled: false, InactiveDays: 90, Interval: 5 * time.Millisecond})

		svc.Start(context.Background())
		time.Sleep(50 * time.Millisecond)
		svc.Stop()

		assert.Nil(t, svc.LastCleanupResult())
		assert.True(t, store.get("a").IsActive)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		svc := newTestCleanup(t, newMemStore(testNow), CleanupConfig{Enabled: true, InactiveDays: 90, Interval: time.Hour})
		svc.Start(context.Background())
		svc.Stop()
		svc.Stop()
	})
}

func ids(rs []domain.Recipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/pkg/ctxlog"
)

// Routing decision reasons.
const (
	ReasonNoHandler            = "No handler"
	ReasonDisabled             = "Disabled"
	ReasonUserDisabled         = "User notifications disabled"
	ReasonQuietHours           = "Quiet hours active"
	ReasonNoEligibleChannels   = "No eligible channels"
	reasonBelowPriorityPattern = "Below priority threshold: required %s got %s"
)

// RouterConfig controls delivery behavior.
type RouterConfig struct {
	// MaxAttempts is the per-channel attempt budget of one Route call.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// ContinueOnFailure tries every target even after one has failed.
	ContinueOnFailure bool
}

// DefaultRouterConfig returns the default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		BackoffMax:  DefaultBackoffMax,
	}
}

// SkippedChannel records why a candidate channel was not used.
type SkippedChannel struct {
	Channel domain.ChannelType `json:"channel"`
	Reason  string             `json:"reason"`
}

// RoutingDecision says where a payload goes.
type RoutingDecision struct {
	ShouldRoute      bool                 `json:"should_route"`
	Reason           string               `json:"reason,omitempty"`
	TargetChannels   []domain.ChannelType `json:"target_channels"`
	FallbackChannels []domain.ChannelType `json:"fallback_channels"`
	SkippedChannels  []SkippedChannel     `json:"skipped_channels,omitempty"`
	QuietHoursActive bool                 `json:"quiet_hours_active"`
	// QuietUntil is the end of the window when quiet hours blocked routing.
	QuietUntil       *time.Time           `json:"quiet_until,omitempty"`
}

// RouteOptions are per-call routing parameters.
type RouteOptions struct {
	UserID   string
	Priority Priority
	// MaxAttempts overrides RouterConfig.MaxAttempts when positive.
	MaxAttempts int
}

// ChannelResult is the outcome of delivering to one channel.
type ChannelResult struct {
	Channel   domain.ChannelType `json:"channel"`
	Success   bool               `json:"success"`
	Fallback  bool               `json:"fallback"`
	Attempts  int                `json:"attempts"`
	Retryable bool               `json:"retryable"`
	Error     string             `json:"error,omitempty"`
	MessageID string             `json:"message_id,omitempty"`
	Duration  time.Duration      `json:"duration"`
}

// RouteSummary counts channel outcomes of one Route call.
type RouteSummary struct {
	Attempted     int `json:"attempted"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	FallbacksUsed int `json:"fallbacks_used"`
}

// RouterResult is the aggregated outcome of a Route call.
type RouterResult struct {
	NotificationID string          `json:"notification_id"`
	Success        bool            `json:"success"`
	Decision       RoutingDecision `json:"decision"`
	ChannelResults []ChannelResult `json:"channel_results"`
	Summary        RouteSummary    `json:"summary"`
	Duration       time.Duration   `json:"duration"`
}

// Retryable reports whether a failed result may succeed on a later attempt.
func (r *RouterResult) Retryable() bool {
	if r.Success || !r.Decision.ShouldRoute {
		return false
	}
	for _, cr := range r.ChannelResults {
		if cr.Retryable {
			return true
		}
	}
	return false
}

// Error summarizes channel failures.
func (r *RouterResult) Error() string {
	if r.Success {
		return ""
	}
	if !r.Decision.ShouldRoute {
		return "not routed: " + r.Decision.Reason
	}
	var msg string
	for _, cr := range r.ChannelResults {
		if cr.Error == "" {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", cr.Channel, cr.Error)
	}
	return msg
}

// Router decides where notifications go and drives delivery across the
// registered channel handlers.
type Router struct {
	config   RouterConfig
	prefs    PreferencesProvider
	defaults *Preferences
	clock    Clock

	mu       sync.RWMutex
	handlers domain.ChannelTable[ChannelHandler]

	adapters  *adapterRegistry
	listeners *listenerRegistry
	stats     *routerStats
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithPreferencesProvider sets where per-user preferences are loaded from.
func WithPreferencesProvider(p PreferencesProvider) RouterOption {
	return func(r *Router) { r.prefs = p }
}

// WithDefaultPreferences replaces DefaultPreferences().
func WithDefaultPreferences(p *Preferences) RouterOption {
	return func(r *Router) { r.defaults = p }
}

// WithClock sets the time source used for quiet hours.
func WithClock(c Clock) RouterOption {
	return func(r *Router) { r.clock = c }
}

// NewRouter creates a router with no handlers.
func NewRouter(config RouterConfig, opts ...RouterOption) *Router {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	r := &Router{
		config:    config,
		defaults:  DefaultPreferences(),
		clock:     SystemClock{},
		adapters:  newAdapterRegistry(),
		listeners: newListenerRegistry(),
		stats:     newRouterStats(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the handler for its channel.
func (r *Router) Register(h ChannelHandler) error {
	ch := h.Channel()
	if !ch.IsValid() {
		return fmt.Errorf("register handler: unknown channel %q", ch)
	}
	r.mu.Lock()
	r.handlers.Set(ch, h)
	r.mu.Unlock()
	return nil
}

// RegisterAdapter replaces the address adapter for ch.
func (r *Router) RegisterAdapter(ch domain.ChannelType, a AddressAdapter) {
	r.adapters.set(ch, a)
}

// Subscribe adds an event listener and returns its unsubscribe function.
func (r *Router) Subscribe(l Listener) func() {
	return r.listeners.subscribe(l)
}

func (r *Router) handler(ch domain.ChannelType) ChannelHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers.Get(ch)
}

func (r *Router) handlerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, h := range r.handlers {
		if h != nil {
			n++
		}
	}
	return n
}

// Statuses returns the status of every registered handler.
func (r *Router) Statuses() []ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]ChannelStatus, 0, domain.ChannelCount)
	for _, h := range r.handlers {
		if h != nil {
			statuses = append(statuses, h.Status())
		}
	}
	return statuses
}

// Preferences returns the stored preferences for userID, or the defaults
// when there is no user, nothing is stored, or the lookup fails.
func (r *Router) Preferences(ctx context.Context, userID string) *Preferences {
	if userID == "" || r.prefs == nil {
		return r.defaults
	}
	p, err := r.prefs.GetPreferences(ctx, userID)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("failed to load preferences, using defaults",
			"user_id", userID,
			"error", err,
		)
		return r.defaults
	}
	if p == nil {
		return r.defaults
	}
	return p
}

// GetRoutingDecision resolves the user's preferences and decides where
// payload goes at the current time.
func (r *Router) GetRoutingDecision(ctx context.Context, payload NotificationPayload, userID string, priority Priority) RoutingDecision {
	return r.Decide(payload, r.Preferences(ctx, userID), priority, r.clock.Now())
}

// Decide computes a routing decision. It depends only on its arguments and
// the registered handlers.
func (r *Router) Decide(payload NotificationPayload, prefs *Preferences, priority Priority, now time.Time) RoutingDecision {
	priority = priority.OrDefault()
	decision := RoutingDecision{
		TargetChannels:   []domain.ChannelType{},
		FallbackChannels: []domain.ChannelType{},
	}

	if prefs == nil || !prefs.Enabled {
		decision.Reason = ReasonUserDisabled
		return decision
	}

	native := r.handler(payload.Channel)
	nativeChosen := native != nil && native.IsAvailable()

	for _, ch := range r.candidates(payload.Channel, nativeChosen, prefs) {
		h := r.handler(ch)
		if h == nil || !h.IsAvailable() {
			decision.SkippedChannels = append(decision.SkippedChannels, SkippedChannel{Channel: ch, Reason: ReasonNoHandler})
			continue
		}

		cfg := prefs.ChannelConfig(ch)
		if !cfg.Enabled {
			decision.SkippedChannels = append(decision.SkippedChannels, SkippedChannel{Channel: ch, Reason: ReasonDisabled})
			continue
		}
		if cfg.MinPriority != nil && priority.Below(*cfg.MinPriority) {
			decision.SkippedChannels = append(decision.SkippedChannels, SkippedChannel{
				Channel: ch,
				Reason:  fmt.Sprintf(reasonBelowPriorityPattern, *cfg.MinPriority, priority),
			})
			continue
		}

		// The channel the caller addressed is always a target.
		if cfg.IsFallback && !(nativeChosen && ch == payload.Channel) {
			decision.FallbackChannels = append(decision.FallbackChannels, ch)
		} else {
			decision.TargetChannels = append(decision.TargetChannels, ch)
		}
	}

	if prefs.QuietHours.IsActive(now) {
		decision.QuietHoursActive = true
		if !prefs.QuietHours.Bypassed(priority) {
			decision.Reason = ReasonQuietHours
			until := prefs.QuietHours.EndAfter(now)
			decision.QuietUntil = &until
			decision.TargetChannels = []domain.ChannelType{}
			decision.FallbackChannels = []domain.ChannelType{}
			return decision
		}
	}

	if len(decision.TargetChannels) == 0 {
		decision.Reason = ReasonNoEligibleChannels
		return decision
	}

	decision.ShouldRoute = true
	return decision
}

// candidates returns the channels to evaluate, without duplicates.
func (r *Router) candidates(native domain.ChannelType, nativeChosen bool, prefs *Preferences) []domain.ChannelType {
	var seen domain.ChannelTable[bool]
	out := make([]domain.ChannelType, 0, len(prefs.DefaultChannels)+1)
	add := func(ch domain.ChannelType) {
		if !ch.IsValid() || seen.Get(ch) {
			return
		}
		seen.Set(ch, true)
		out = append(out, ch)
	}

	if !nativeChosen {
		for _, ch := range prefs.DefaultChannels {
			add(ch)
		}
		return out
	}

	add(native)
	for _, ch := range prefs.DefaultChannels {
		if prefs.ChannelConfig(ch).IsFallback {
			add(ch)
		}
	}
	return out
}

// Route delivers payload according to the routing decision, retrying
// retryable failures and falling back when every target fails.
//
// Delivery failures are reported in the result. An error is returned only
// for an invalid payload or when no handler is registered.
func (r *Router) Route(ctx context.Context, notificationID string, payload NotificationPayload, opts RouteOptions) (*RouterResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if r.handlerCount() == 0 {
		return nil, ErrNoHandlers
	}

	start := time.Now()
	logger := ctxlog.FromContext(ctx).With("notification_id", notificationID)

	userID := opts.UserID
	if userID == "" {
		userID = payload.UserID
	}
	priority := opts.Priority.OrDefault()
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.config.MaxAttempts
	}

	decision := r.GetRoutingDecision(ctx, payload, userID, priority)
	r.emit(Event{Type: EventRoutingStarted, NotificationID: notificationID, Decision: &decision})

	result := &RouterResult{
		NotificationID: notificationID,
		Decision:       decision,
		ChannelResults: []ChannelResult{},
	}

	if !decision.ShouldRoute {
		logger.Debug("notification not routed", "reason", decision.Reason)
		return r.complete(result, start), nil
	}

	for _, ch := range decision.TargetChannels {
		cr := r.deliver(ctx, notificationID, ch, payload, maxAttempts, false)
		result.add(cr)
		if cr.Success {
			continue
		}
		if ctx.Err() != nil || !r.config.ContinueOnFailure {
			break
		}
	}

	if !result.Success && len(decision.FallbackChannels) > 0 && ctx.Err() == nil {
		logger.Info("all target channels failed, trying fallbacks",
			"fallbacks", decision.FallbackChannels,
		)
		r.emit(Event{Type: EventFallbackTriggered, NotificationID: notificationID})

		for _, ch := range decision.FallbackChannels {
			cr := r.deliver(ctx, notificationID, ch, payload, maxAttempts, true)
			result.add(cr)
			result.Summary.FallbacksUsed++
			if cr.Success || ctx.Err() != nil {
				break
			}
		}
	}

	if !result.Success {
		logger.Warn("notification delivery failed", "error", result.Error())
	}
	return r.complete(result, start), nil
}

func (r *RouterResult) add(cr ChannelResult) {
	r.ChannelResults = append(r.ChannelResults, cr)
	r.Summary.Attempted++
	if cr.Success {
		r.Summary.Succeeded++
		r.Success = true
	} else {
		r.Summary.Failed++
	}
}

func (r *Router) complete(result *RouterResult, start time.Time) *RouterResult {
	result.Duration = time.Since(start)
	r.stats.recordRoute(result)
	recordRoutingOutcome(result)
	r.emit(Event{Type: EventRoutingCompleted, NotificationID: result.NotificationID, Result: result})
	return result
}

// deliver sends to one channel, retrying while the failure is retryable and
// attempts remain.
func (r *Router) deliver(ctx context.Context, notificationID string, ch domain.ChannelType, payload NotificationPayload, maxAttempts int, fallback bool) (cr ChannelResult) {
	cr = ChannelResult{Channel: ch, Fallback: fallback}
	start := time.Now()
	defer func() { cr.Duration = time.Since(start) }()

	n, err := r.adapters.adapt(ch, payload)
	if err != nil {
		cr.Error = err.Error()
		cr.Retryable = isRetryable(err)
		r.emit(Event{Type: EventChannelFailed, NotificationID: notificationID, Channel: ch, Error: cr.Error})
		return cr
	}

	h := r.handler(ch)
	for attempt := 1; ; attempt++ {
		cr.Attempts = attempt
		r.emit(Event{Type: EventChannelSending, NotificationID: notificationID, Channel: ch, Attempt: attempt})

		res := r.send(ctx, h, n)
		r.stats.recordAttempt(ch, res)
		recordNotificationSent(ch, res.Success)
		recordNotificationDuration(ch, res.Duration)

		if res.Success {
			cr.Success = true
			cr.Error = ""
			cr.Retryable = false
			cr.MessageID = res.MessageID
			r.emit(Event{Type: EventChannelSent, NotificationID: notificationID, Channel: ch, Attempt: attempt})
			return cr
		}

		cr.Error = res.ErrorMessage()
		cr.Retryable = res.ShouldRetry
		r.emit(Event{Type: EventChannelFailed, NotificationID: notificationID, Channel: ch, Attempt: attempt, Error: cr.Error})

		if !res.ShouldRetry || attempt >= maxAttempts {
			return cr
		}

		delay := CalculateBackoff(attempt, r.config.BackoffBase, r.config.BackoffMax)
		if err := wait(ctx, delay); err != nil {
			cr.Error = fmt.Sprintf("%s (retry aborted: %v)", cr.Error, err)
			return cr
		}
	}
}

// send calls the handler, converting a panic into a retryable failure.
func (r *Router) send(ctx context.Context, h ChannelHandler, n Notification) (res ChannelSendResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			ctxlog.FromContext(ctx).Error("channel handler panicked",
				"channel", n.Channel,
				"panic", rec,
			)
			res = ChannelSendResult{
				Err:         fmt.Errorf("handler panic: %v", rec),
				ShouldRetry: true,
			}
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
	}()

	res = h.Send(ctx, n)
	if !res.Success && res.Err == nil {
		res.Err = errors.New("send failed")
	}
	return res
}

func (r *Router) emit(e Event) {
	e.Timestamp = r.clock.Now()
	r.listeners.emit(e)
}

// Stats returns a snapshot of delivery statistics.
func (r *Router) Stats() RouterStats {
	return r.stats.snapshot()
}

// ResetStats clears delivery statistics.
func (r *Router) ResetStats() {
	r.stats.reset()
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

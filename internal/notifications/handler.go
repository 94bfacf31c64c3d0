package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Match: IsValidationError, Status: http.StatusBadRequest},
	{Error: ErrItemNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: ErrInvalidTransition, Status: http.StatusConflict, Message: "only failed notifications can be requeued"},
	{
		Error:   ErrQueueOverloaded,
		Status:  http.StatusServiceUnavailable,
		Message: "notification queue is overloaded, retry later",
		Header:  map[string]string{"Retry-After": "30"},
	},
}

// QueueAdmin is the part of QueueService the handler uses.
type QueueAdmin interface {
	Enqueue(ctx context.Context, payload NotificationPayload, opts QueueItemOptions) (*QueueItem, error)
	Get(ctx context.Context, id string) (*QueueItem, error)
	Requeue(ctx context.Context, id string) (*QueueItem, error)
	Stats(ctx context.Context) (*QueueStats, error)
}

// RouterAdmin is the part of Router the handler uses.
type RouterAdmin interface {
	Stats() RouterStats
	ResetStats()
	Statuses() []ChannelStatus
	GetRoutingDecision(ctx context.Context, payload NotificationPayload, userID string, priority Priority) RoutingDecision
}

// PreferencesStore persists per-user routing preferences.
type PreferencesStore interface {
	PreferencesProvider
	SavePreferences(ctx context.Context, userID string, prefs *Preferences) error
	DeletePreferences(ctx context.Context, userID string) error
}

// Handler handles HTTP requests for the queue, the router and preferences.
type Handler struct {
	queue     QueueAdmin
	router    RouterAdmin
	prefs     PreferencesStore
	validator *validator.Validate
}

// NewHandler creates a new notifications handler. prefs may be nil, in
// which case the preferences routes are not registered.
func NewHandler(queue QueueAdmin, router RouterAdmin, prefs PreferencesStore) *Handler {
	return &Handler{
		queue:     queue,
		router:    router,
		prefs:     prefs,
		validator: validator.New(),
	}
}

// RegisterOperatorRoutes registers routes available to operators.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Post("/notifications", h.Enqueue)
	r.Get("/notifications/queue/stats", h.GetQueueStats)
	r.Get("/notifications/{id}", h.GetNotification)
	r.Get("/router/stats", h.GetRouterStats)
	r.Get("/router/channels", h.ListChannels)
	r.Post("/router/decision", h.PreviewDecision)
	if h.prefs != nil {
		r.Get("/preferences/{user_id}", h.GetPreferences)
	}
}

// RegisterAdminRoutes registers routes restricted to admins.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/notifications/{id}/requeue", h.Requeue)
	r.Delete("/router/stats", h.ResetRouterStats)
	if h.prefs != nil {
		r.Put("/preferences/{user_id}", h.PutPreferences)
		r.Delete("/preferences/{user_id}", h.DeletePreferences)
	}
}

// EnqueueRequest represents the request body for queueing a notification.
type EnqueueRequest struct {
	Channel       domain.ChannelType `json:"channel" validate:"required,oneof=telegram email webhook push sms"`
	Address       string             `json:"address" validate:"max=2048"`
	Title         string             `json:"title" validate:"max=512"`
	Body          string             `json:"body" validate:"max=16384"`
	Format        Format             `json:"format" validate:"omitempty,oneof=text html markdown"`
	UserID        string             `json:"user_id" validate:"max=255"`
	Metadata      map[string]string  `json:"metadata"`
	Priority      Priority           `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	MaxAttempts   int                `json:"max_attempts" validate:"omitempty,min=1,max=20"`
	ScheduledAt   *time.Time         `json:"scheduled_at"`
	CorrelationID string             `json:"correlation_id" validate:"max=255"`
}

func (req EnqueueRequest) payload() NotificationPayload {
	return NotificationPayload{
		Channel:  req.Channel,
		Address:  req.Address,
		Title:    req.Title,
		Body:     req.Body,
		Format:   req.Format,
		UserID:   req.UserID,
		Metadata: req.Metadata,
	}
}

// QueueItemResponse is the wire form of a QueueItem.
type QueueItemResponse struct {
	ID            string             `json:"id"`
	Channel       domain.ChannelType `json:"channel"`
	Priority      Priority           `json:"priority"`
	Status        QueueStatus        `json:"status"`
	Attempts      int                `json:"attempts"`
	MaxAttempts   int                `json:"max_attempts"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	Error         string             `json:"error,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
}

// NewQueueItemResponse converts item to its wire form.
func NewQueueItemResponse(item *QueueItem) QueueItemResponse {
	return QueueItemResponse{
		ID:            item.ID,
		Channel:       item.Payload.Channel,
		Priority:      item.Priority,
		Status:        item.Status,
		Attempts:      item.Attempts,
		MaxAttempts:   item.MaxAttempts,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
		ScheduledAt:   item.ScheduledAt,
		CompletedAt:   item.CompletedAt,
		Error:         item.Error,
		CorrelationID: item.CorrelationID,
	}
}

// QueueStatsResponse adds the queue depth to QueueStats.
type QueueStatsResponse struct {
	QueueStats
	Depth int64 `json:"depth"`
}

// Enqueue handles POST /notifications.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.queue.Enqueue(r.Context(), req.payload(), QueueItemOptions{
		Priority:      req.Priority,
		MaxAttempts:   req.MaxAttempts,
		ScheduledAt:   req.ScheduledAt,
		CorrelationID: req.CorrelationID,
		UserID:        req.UserID,
	})
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusAccepted, NewQueueItemResponse(item))
}

// GetNotification handles GET /notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	item, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, NewQueueItemResponse(item))
}

// Requeue handles POST /notifications/{id}/requeue.
func (h *Handler) Requeue(w http.ResponseWriter, r *http.Request) {
	item, err := h.queue.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, NewQueueItemResponse(item))
}

// GetQueueStats handles GET /notifications/queue/stats.
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, QueueStatsResponse{QueueStats: *stats, Depth: stats.Depth()})
}

// GetRouterStats handles GET /router/stats.
func (h *Handler) GetRouterStats(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.router.Stats())
}

// ResetRouterStats handles DELETE /router/stats.
func (h *Handler) ResetRouterStats(w http.ResponseWriter, _ *http.Request) {
	h.router.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

// ListChannels handles GET /router/channels.
func (h *Handler) ListChannels(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, h.router.Statuses())
}

// PreviewDecision handles POST /router/decision.
func (h *Handler) PreviewDecision(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !h.decode(w, r, &req) {
		return
	}

	payload := req.payload()
	if err := payload.Validate(); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	decision := h.router.GetRoutingDecision(r.Context(), payload, req.UserID, req.Priority.OrDefault())
	httputil.Success(w, http.StatusOK, decision)
}

// GetPreferences handles GET /preferences/{user_id}. Users without stored
// preferences get 404.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.prefs.GetPreferences(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	if prefs == nil {
		httputil.Error(w, http.StatusNotFound, "no preferences stored for user")
		return
	}
	httputil.Success(w, http.StatusOK, prefs)
}

// PutPreferences handles PUT /preferences/{user_id}.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := prefs.Validate(); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.prefs.SavePreferences(r.Context(), chi.URLParam(r, "user_id"), &prefs); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, &prefs)
}

// DeletePreferences handles DELETE /preferences/{user_id}.
func (h *Handler) DeletePreferences(w http.ResponseWriter, r *http.Request) {
	if err := h.prefs.DeletePreferences(r.Context(), chi.URLParam(r, "user_id")); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			httputil.ValidationError(w, err)
			return false
		}
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	httputil.HandleError(ctx, w, err, errorMappings)
}

package recipients

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

// Cleaner is the part of CleanupService the handler uses.
type Cleaner interface {
	Config() CleanupConfig
	UpdateConfig(update CleanupConfigUpdate) (CleanupConfig, error)
	LastCleanupResult() *CleanupResult
	PreviewCleanup(ctx context.Context) ([]domain.Recipient, error)
	RunCleanup(ctx context.Context) (*CleanupResult, error)
}

// Handler handles HTTP requests for recipients and the cleanup sweep.
type Handler struct {
	store     Store
	cleanup   Cleaner
	validator *validator.Validate
}

// NewHandler creates a new recipients handler.
func NewHandler(store Store, cleanup Cleaner) *Handler {
	return &Handler{
		store:     store,
		cleanup:   cleanup,
		validator: validator.New(),
	}
}

// RegisterOperatorRoutes registers read-only routes.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Get("/recipients/stats", h.GetStats)
	r.Get("/recipients/cleanup/preview", h.PreviewCleanup)
	r.Get("/recipients/cleanup/last", h.GetLastCleanup)
	r.Get("/recipients/cleanup/config", h.GetCleanupConfig)
}

// RegisterAdminRoutes registers routes that mutate recipients or the sweep.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/recipients/cleanup/run", h.RunCleanup)
	r.Patch("/recipients/cleanup/config", h.UpdateCleanupConfig)
}

// CleanupConfigResponse is the wire form of CleanupConfig.
type CleanupConfigResponse struct {
	Enabled      bool   `json:"enabled"`
	InactiveDays int    `json:"inactive_days"`
	Interval     string `json:"interval"`
}

func toConfigResponse(c CleanupConfig) CleanupConfigResponse {
	return CleanupConfigResponse{
		Enabled:      c.Enabled,
		InactiveDays: c.InactiveDays,
		Interval:     c.Interval.String(),
	}
}

// UpdateCleanupConfigRequest represents the request body for changing the sweep.
// Interval is a Go duration string such as "12h".
type UpdateCleanupConfigRequest struct {
	Enabled      *bool   `json:"enabled"`
	InactiveDays *int    `json:"inactive_days" validate:"omitempty,min=1,max=3650"`
	Interval     *string `json:"interval" validate:"omitempty"`
}

// CleanupPreviewResponse lists the recipients the next sweep would deactivate.
type CleanupPreviewResponse struct {
	InactiveDays int                `json:"inactive_days"`
	Count        int                `json:"count"`
	Recipients   []domain.Recipient `json:"recipients"`
}

// GetStats handles GET /recipients/stats request.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}

// PreviewCleanup handles GET /recipients/cleanup/preview request.
func (h *Handler) PreviewCleanup(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.cleanup.PreviewCleanup(r.Context())
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	if candidates == nil {
		candidates = []domain.Recipient{}
	}
	httputil.Success(w, http.StatusOK, CleanupPreviewResponse{
		InactiveDays: h.cleanup.Config().InactiveDays,
		Count:        len(candidates),
		Recipients:   candidates,
	})
}

// GetLastCleanup handles GET /recipients/cleanup/last request.
func (h *Handler) GetLastCleanup(w http.ResponseWriter, _ *http.Request) {
	last := h.cleanup.LastCleanupResult()
	if last == nil {
		httputil.Error(w, http.StatusNotFound, "no cleanup has run yet")
		return
	}
	httputil.Success(w, http.StatusOK, last)
}

// RunCleanup handles POST /recipients/cleanup/run request.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.cleanup.RunCleanup(r.Context())
	if err != nil && result == nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

// GetCleanupConfig handles GET /recipients/cleanup/config request.
func (h *Handler) GetCleanupConfig(w http.ResponseWriter, _ *http.Request) {
	httputil.Success(w, http.StatusOK, toConfigResponse(h.cleanup.Config()))
}

// UpdateCleanupConfig handles PATCH /recipients/cleanup/config request.
func (h *Handler) UpdateCleanupConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateCleanupConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	update := CleanupConfigUpdate{
		Enabled:      req.Enabled,
		InactiveDays: req.InactiveDays,
	}
	if req.Interval != nil {
		d, err := time.ParseDuration(*req.Interval)
		if err != nil {
			httputil.ValidationError(w, errors.New("interval must be a duration such as 12h"))
			return
		}
		update.Interval = &d
	}

	cfg, err := h.cleanup.UpdateConfig(update)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, toConfigResponse(cfg))
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	httputil.HandleError(ctx, w, err, []httputil.ErrorMapping{
		{Error: ErrRecipientNotFound, Status: http.StatusNotFound},
		{Error: ErrInvalidCleanupConfig, Status: http.StatusBadRequest},
		{Error: ErrCleanupInProgress, Status: http.StatusConflict},
	})
}

package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/notifications/telegram"
	"github.com/bissquit/market-sentinel/internal/pkg/ctxlog"
	"github.com/bissquit/market-sentinel/internal/pkg/httputil"
)

// Pagination constants.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Broadcaster sends a stored alert to its recipients.
type Broadcaster interface {
	BroadcastByID(ctx context.Context, alertID string, opts telegram.BroadcastOptions) (*telegram.BroadcastResult, error)
}

// Handler handles HTTP requests for alerts.
type Handler struct {
	store       Store
	broadcaster Broadcaster
}

// NewHandler creates a new alerts handler.
func NewHandler(store Store, broadcaster Broadcaster) *Handler {
	return &Handler{store: store, broadcaster: broadcaster}
}

// RegisterOperatorRoutes registers alert routes for operators.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Get("/alerts", h.ListAlerts)
	r.Get("/alerts/{id}", h.GetAlert)
	r.Post("/alerts/{id}/broadcast", h.BroadcastAlert)
}

// BroadcastRequest represents the optional request body of a broadcast.
type BroadcastRequest struct {
	DryRun bool `json:"dry_run"`
}

// ListAlerts handles GET /alerts request.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxListLimit)
	}

	list, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	if list == nil {
		list = []domain.Alert{}
	}
	httputil.Success(w, http.StatusOK, list)
}

// GetAlert handles GET /alerts/{id} request.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.store.FindAlertByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, alert)
}

// BroadcastAlert handles POST /alerts/{id}/broadcast request.
// dry_run may be given in the body or as a query parameter.
func (h *Handler) BroadcastAlert(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if v := r.URL.Query().Get("dry_run"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "dry_run must be a boolean")
			return
		}
		req.DryRun = dryRun
	}

	id := chi.URLParam(r, "id")
	result, err := h.broadcaster.BroadcastByID(r.Context(), id, telegram.BroadcastOptions{DryRun: req.DryRun})
	if err != nil {
		if result != nil {
			// Cancelled mid-run: report what was sent.
			ctxlog.FromContext(r.Context()).Warn("broadcast interrupted", "alert_id", id, "error", err)
			httputil.Success(w, http.StatusOK, result)
			return
		}
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	httputil.HandleError(ctx, w, err, []httputil.ErrorMapping{
		{Error: ErrAlertNotFound, Status: http.StatusNotFound},
		{Error: telegram.ErrTransportDisabled, Status: http.StatusServiceUnavailable},
	})
}

package identity

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/market-sentinel/internal/pkg/ctxlog"
	"github.com/bissquit/market-sentinel/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidAPIKey, Status: http.StatusUnauthorized},
	{Error: ErrInvalidToken, Status: http.StatusUnauthorized},
}

// Handler exchanges API keys for tokens.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the public token endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/token", h.IssueToken)
}

// RegisterProtectedRoutes registers routes open to any authenticated role.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/me", h.Me)
}

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// IssueToken handles POST /auth/token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	logger := ctxlog.FromContext(r.Context())
	token, err := h.service.IssueToken(r.Context(), req.APIKey)
	if err != nil {
		logger.Warn("token request rejected", "error", err)
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	logger.Info("token issued", "subject", token.Subject, "role", token.Role)
	httputil.Success(w, http.StatusOK, token)
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	subject := httputil.GetUserID(r.Context())
	if subject == "" {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httputil.Success(w, http.StatusOK, MeResponse{
		Subject: subject,
		Role:    string(httputil.GetRole(r.Context())),
	})
}

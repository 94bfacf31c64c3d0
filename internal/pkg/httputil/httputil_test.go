package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/market-sentinel/internal/domain"
)

var errMissing = errors.New("missing")

type errorEnvelope struct {
	Error struct {
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Error: errMissing, Status: http.StatusNotFound, Message: "not here"},
		{
			Match:  func(err error) bool { return err.Error() == "busy" },
			Status: http.StatusServiceUnavailable,
			Header: map[string]string{"Retry-After": "5"},
		},
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
		wantHeader string
	}{
		{"wrapped sentinel", fmt.Errorf("lookup: %w", errMissing), http.StatusNotFound, "not here", ""},
		{"match func", errors.New("busy"), http.StatusServiceUnavailable, "busy", "5"},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError, "internal error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(context.Background(), rec, tt.err, mappings)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantHeader, rec.Header().Get("Retry-After"))
			assert.Equal(t, tt.wantMsg, decodeError(t, rec).Error.Message)
		})
	}
}

func TestValidationError(t *testing.T) {
	type req struct {
		Name string `validate:"required"`
		Age  int    `validate:"min=18"`
	}
	err := validator.New().Struct(req{Age: 3})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationError(rec, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, "validation error", env.Error.Message)

	var fields []FieldError
	require.NoError(t, json.Unmarshal(env.Error.Details, &fields))
	assert.ElementsMatch(t, []FieldError{
		{Field: "Name", Message: "required"},
		{Field: "Age", Message: "min=18"},
	}, fields)

	rec = httptest.NewRecorder()
	ValidationError(rec, errors.New("interval must be positive"))
	env = decodeError(t, rec)
	assert.JSONEq(t, `"interval must be positive"`, string(env.Error.Details))
}

func TestSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusAccepted, map[string]int{"n": 1})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"n":1}}`, rec.Body.String())
}

type stubValidator struct{}

func (stubValidator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	switch token {
	case "admin-token":
		return "ops", domain.RoleAdmin, nil
	case "operator-token":
		return "dash", domain.RoleOperator, nil
	}
	return "", "", errors.New("bad token")
}

func TestAuthMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(stubValidator{}))
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{
			"subject": GetUserID(r.Context()),
			"role":    string(GetRole(r.Context())),
		})
	})
	r.With(RequireRole(domain.RoleAdmin)).Post("/admin", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		wantStatus int
	}{
		{"no header", http.MethodGet, "/whoami", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/whoami", "Basic abc", http.StatusUnauthorized},
		{"empty token", http.MethodGet, "/whoami", "Bearer ", http.StatusUnauthorized},
		{"invalid token", http.MethodGet, "/whoami", "Bearer nope", http.StatusUnauthorized},
		{"operator", http.MethodGet, "/whoami", "Bearer operator-token", http.StatusOK},
		{"lowercase scheme", http.MethodGet, "/whoami", "bearer admin-token", http.StatusOK},
		{"operator on admin route", http.MethodPost, "/admin", "Bearer operator-token", http.StatusForbidden},
		{"admin on admin route", http.MethodPost, "/admin", "Bearer admin-token", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer operator-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.JSONEq(t, `{"subject":"dash","role":"operator"}`, rec.Body.String())
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	h := RequireRole(domain.RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"https://dash.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/router/stats", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddlewareChain(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLoggerMiddleware(slog.New(slog.DiscardHandler)))
	r.Use(MetricsMiddleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		Text(w, http.StatusTeapot, "short and stout")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

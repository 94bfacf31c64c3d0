package recipients

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, store *memStore) (http.Handler, *CleanupService) {
	t.Helper()
	svc := newTestCleanup(t, store, DefaultCleanupConfig())
	h := NewHandler(store, svc)

	r := chi.NewRouter()
	h.RegisterOperatorRoutes(r)
	h.RegisterAdminRoutes(r)
	return r, svc
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func TestHandler_GetStats(t *testing.T) {
	blocked := recipient("b", 1, 10)
	blocked.IsActive = false
	blocked.IsBlocked = true
	store := newMemStore(testNow, recipient("a", 1, 10), blocked)
	router, _ := newTestRouter(t, store)

	rec, body := do(t, router, http.MethodGet, "/recipients/stats", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, 2.0, data["total"])
	assert.Equal(t, 1.0, data["active"])
	assert.Equal(t, 1.0, data["blocked"])
}

func TestHandler_CleanupFlow(t *testing.T) {
	store := newMemStore(testNow, recipient("stale", 120, 400), recipient("fresh", 5, 400))
	router, _ := newTestRouter(t, store)

	rec, body := do(t, router, http.MethodGet, "/recipients/cleanup/last", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no cleanup has run yet", body["error"].(map[string]any)["message"])

	rec, body = do(t, router, http.MethodGet, "/recipients/cleanup/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	preview := body["data"].(map[string]any)
	assert.Equal(t, 90.0, preview["inactive_days"])
	assert.Equal(t, 1.0, preview["count"])
	assert.Empty(t, store.markCalls())

	rec, body = do(t, router, http.MethodPost, "/recipients/cleanup/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := body["data"].(map[string]any)
	assert.Equal(t, 1.0, run["deactivated"])
	assert.Equal(t, []any{"stale"}, run["recipient_ids"])

	rec, body = do(t, router, http.MethodGet, "/recipients/cleanup/last", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"chat-stale"}, body["data"].(map[string]any)["chat_ids"])
}

func TestHandler_CleanupPreviewEmpty(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore(testNow))

	rec, body := do(t, router, http.MethodGet, "/recipients/cleanup/preview", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["data"].(map[string]any)["recipients"])
}

func TestHandler_UpdateCleanupConfig(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDays   float64
		wantIntvl  string
	}{
		{"partial update", `{"inactive_days": 30}`, http.StatusOK, 30, "24h0m0s"},
		{"interval", `{"interval": "12h", "enabled": false}`, http.StatusOK, 90, "12h0m0s"},
		{"invalid json", `{`, http.StatusBadRequest, 0, ""},
		{"days out of range", `{"inactive_days": 0}`, http.StatusBadRequest, 0, ""},
		{"bad duration", `{"interval": "soon"}`, http.StatusBadRequest, 0, ""},
		{"interval too short", `{"interval": "1s"}`, http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, svc := newTestRouter(t, newMemStore(testNow))
			before := svc.Config()

			rec, body := do(t, router, http.MethodPatch, "/recipients/cleanup/config", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, before, svc.Config())
				return
			}
			data := body["data"].(map[string]any)
			assert.Equal(t, tt.wantDays, data["inactive_days"])
			assert.Equal(t, tt.wantIntvl, data["interval"])
		})
	}
}

func TestHandler_GetCleanupConfig(t *testing.T) {
	router, _ := newTestRouter(t, newMemStore(testNow))

	rec, body := do(t, router, http.MethodGet, "/recipients/cleanup/config", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"enabled":       true,
		"inactive_days": 90.0,
		"interval":      "24h0m0s",
	}, body["data"])
}

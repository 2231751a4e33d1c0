package webhooks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/accountcheck/internal/kv"
	"github.com/mbd888/accountcheck/internal/logging"
)

func setupRouter(t *testing.T, opts ...Option) (*gin.Engine, *Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewStore(kv.NewMemoryStore())
	d := NewDispatcher(store, logging.Discard(), opts...)
	t.Cleanup(d.Close)

	r := gin.New()
	NewHandler(store, d).RegisterRoutes(r.Group("/v1"))
	return r, store
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func body(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestHandler_CreateListGetDelete(t *testing.T) {
	r, store := setupRouter(t)

	w := do(r, http.MethodPost, "/v1/webhooks",
		`{"url":"https://93.184.216.34/hook","statuses":["fake","suspicious"],"maxScore":60}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	m := body(t, w)
	secret, _ := m["secret"].(string)
	assert.Len(t, secret, 64)
	hook := m["webhook"].(map[string]any)
	id := hook["id"].(string)
	assert.True(t, strings.HasPrefix(id, "wh_"))
	assert.NotContains(t, hook, "secret")
	assert.Equal(t, true, hook["active"])

	stored, err := store.Get(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, secret, stored.Secret)
	require.NotNil(t, stored.Filter.MaxScore)
	assert.Equal(t, 60, *stored.Filter.MaxScore)
	assert.Len(t, stored.Filter.Statuses, 2)

	w = do(r, http.MethodGet, "/v1/webhooks", "")
	require.Equal(t, http.StatusOK, w.Code)
	m = body(t, w)
	assert.Equal(t, 1.0, m["count"])
	assert.NotContains(t, w.Body.String(), secret)

	w = do(r, http.MethodGet, "/v1/webhooks/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body(t, w)["id"])

	w = do(r, http.MethodDelete, "/v1/webhooks/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "deleted", body(t, w)["status"])

	w = do(r, http.MethodGet, "/v1/webhooks/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body(t, w)["error"])

	w = do(r, http.MethodDelete, "/v1/webhooks/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CreateValidation(t *testing.T) {
	r, store := setupRouter(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing url", `{}`, "validation_error"},
		{"blank url", `{"url":"  "}`, "validation_error"},
		{"array body", `[]`, "invalid_request"},
		{"malformed", `{"url":`, "invalid_request"},
		{"bad scheme", `{"url":"ftp://example.com"}`, "invalid_url"},
		{"loopback", `{"url":"http://127.0.0.1:9000/hook"}`, "invalid_url"},
		{"bad status", `{"url":"https://93.184.216.34/hook","statuses":["bogus"]}`, "invalid_status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/v1/webhooks", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, body(t, w)["error"])
		})
	}

	long := `{"url":"https://example.com/` + strings.Repeat("a", maxURLLength) + `"}`
	w := do(r, http.MethodPost, "/v1/webhooks", long)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "url: exceeds maximum length", body(t, w)["message"])

	subs, err := store.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestHandler_CreateAllowsLoopbackWhenConfigured(t *testing.T) {
	r, _ := setupRouter(t, AllowPrivateTargets())

	w := do(r, http.MethodPost, "/v1/webhooks", `{"url":"http://127.0.0.1:9000/hook"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandler_SubscriptionLimit(t *testing.T) {
	r, store := setupRouter(t)
	for i := range MaxSubscriptions {
		subscribe(t, store, "wh_"+strings.Repeat("x", i+1), "https://example.com", Filter{})
	}

	w := do(r, http.MethodPost, "/v1/webhooks", `{"url":"https://93.184.216.34/hook"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "limit_reached", body(t, w)["error"])
}

func TestHandler_ListEmpty(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodGet, "/v1/webhooks", "")
	require.Equal(t, http.StatusOK, w.Code)
	m := body(t, w)
	assert.Equal(t, []any{}, m["webhooks"])
	assert.Equal(t, 0.0, m["count"])
}

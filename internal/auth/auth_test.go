package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestManager_ValidateKey(t *testing.T) {
	m := NewManager([]string{"alpha", " beta ", ""})
	require.True(t, m.Enabled())

	a, err := m.ValidateKey("alpha")
	require.NoError(t, err)
	assert.Regexp(t, `^key_[0-9a-f]{8}$`, a.ID)

	b, err := m.ValidateKey("Bearer beta")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = m.ValidateKey("gamma")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = m.ValidateKey("  ")
	assert.ErrorIs(t, err, ErrNoAPIKey)
	_, err = m.ValidateKey("Bearer ")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestManager_Disabled(t *testing.T) {
	assert.False(t, NewManager(nil).Enabled())
	assert.False(t, NewManager([]string{" ", ""}).Enabled())
}

func router(m *Manager) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/v1/stats", func(c *gin.Context) {
		key, ok := GetAPIKey(c)
		if ok {
			c.String(http.StatusOK, key.ID)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return r
}

func get(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	r := router(NewManager([]string{"s3cret"}))

	w := get(r, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "key_")

	w = get(r, "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(r, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"unauthorized"`)

	w = get(r, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"invalid_api_key"`)
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	w := get(router(NewManager(nil)), "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())
}

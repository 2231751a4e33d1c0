package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/accountcheck/internal/analysis"
	"github.com/mbd888/accountcheck/internal/config"
	"github.com/mbd888/accountcheck/internal/kv"
	"github.com/mbd888/accountcheck/internal/logging"
	"github.com/mbd888/accountcheck/internal/webhooks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		LogFormat:        "text",
		StoreBackend:     "memory",
		RateLimitRPM:     6000,
		RateLimitBurst:   1000,
		BatchConcurrency: 4,
		StoreTimeout:     time.Second,
	}
}

// newTestServer creates a server backed by an in-memory store
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard()), WithDrainDelay(0)}, opts...)
	s, err := New(testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Router().ServeHTTP(w, req)
	return w
}

// unreachableStore reports itself down on Ping.
type unreachableStore struct {
	*kv.MemoryStore
}

func (unreachableStore) Ping(context.Context) error { return errors.New("connection refused") }

type capturePublisher struct {
	mu   sync.Mutex
	recs []*analysis.Record
}

func (p *capturePublisher) Name() string { return "capture" }

func (p *capturePublisher) Publish(_ context.Context, rec *analysis.Record) error {
	p.mu.Lock()
	p.recs = append(p.recs, rec)
	p.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "memory", resp.Store)
	assert.Equal(t, Version, resp.Version)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "store", resp.Checks[0].Name)
	assert.True(t, resp.Checks[0].Healthy)
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	s := newTestServer(t, WithStore(unreachableStore{kv.NewMemoryStore()}))

	w := serve(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks[0].Detail)
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health/live", "").Code)
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Run has not been called
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/health/ready", "").Code)

	s.ready.Store(true)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health/ready", "").Code)
}

func TestReadinessEndpoint_StoreDown(t *testing.T) {
	s := newTestServer(t, WithStore(unreachableStore{kv.NewMemoryStore()}))
	s.ready.Store(true)

	w := serve(s, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routeSet := make(map[string]bool)
	for _, route := range s.Router().Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/api",
		"GET:/ws",
		"POST:/v1/analyze",
		"POST:/v1/analyze/batch",
		"GET:/v1/history",
		"GET:/v1/history/:username",
		"GET:/v1/stats",
		"GET:/v1/features",
	} {
		assert.True(t, routeSet[e], "route %s not registered", e)
	}
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodGet, "/api", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"accountcheck"`)
}

// ---------------------------------------------------------------------------
// Middleware tests
// ---------------------------------------------------------------------------

func TestAnalyzeThroughFullStack(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestServer(t, WithPublisher(pub))

	w := serve(s, http.MethodPost, "/v1/analyze",
		`{"username":"influencer","followers":15000,"following":500,"posts":200,"accountAge":30}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp analysis.AnalyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "real", string(resp.Status))
	assert.True(t, resp.Stored)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	pub.mu.Lock()
	require.Len(t, pub.recs, 1)
	assert.Equal(t, "influencer", pub.recs[0].Username)
	pub.mu.Unlock()

	w = serve(s, http.MethodGet, "/v1/history/influencer", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestWebhookDeliveredOnAnalyze(t *testing.T) {
	got := make(chan webhooks.Event, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhooks.Event
		if json.NewDecoder(r.Body).Decode(&ev) == nil {
			got <- ev
		}
	}))
	defer hook.Close()

	cfg := testConfig()
	cfg.WebhookAllowPrivate = true
	s, err := New(cfg, WithLogger(logging.Discard()), WithDrainDelay(0))
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)
	t.Cleanup(s.webhooks.Close)

	w := serve(s, http.MethodPost, "/v1/webhooks", `{"url":"`+hook.URL+`","statuses":["fake"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Filtered out
	w = serve(s, http.MethodPost, "/v1/analyze",
		`{"username":"influencer","followers":15000,"following":500,"posts":200,"accountAge":30}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s, http.MethodPost, "/v1/analyze",
		`{"username":"bot123","followers":20,"following":300,"posts":3,"accountAge":0.5}`)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case ev := <-got:
		assert.Equal(t, webhooks.EventAnalysisCompleted, ev.Type)
		require.NotNil(t, ev.Data)
		assert.Equal(t, "bot123", ev.Data.Username)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	// Webhook subscriptions do not leak into the analysis history.
	w = serve(s, http.MethodGet, "/v1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeys = []string{"s3cret"}
	s, err := New(cfg, WithLogger(logging.Discard()), WithDrainDelay(0))
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)

	w := serve(s, http.MethodGet, "/v1/stats", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Probes stay open.
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health/live", "").Code)
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "upstream-123")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "upstream-123", w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLength+1))
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36, "oversized IDs are replaced with a UUID")
}

func TestRequestSizeLimit(t *testing.T) {
	s := newTestServer(t)

	big := `{"username":"` + strings.Repeat("a", 2<<20) + `"}`
	w := serve(s, http.MethodPost, "/v1/analyze", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPanicRecovery(t *testing.T) {
	s := newTestServer(t)
	s.Router().GET("/boom", func(*gin.Context) { panic("boom") })

	w := serve(s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestWebSocketUnavailableBeforeRun(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/ws", "").Code)
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, http.MethodGet, "/v1/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestRunAndShutdown(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	assert.Eventually(t, s.ready.Load, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, s.ready.Load())
}

package mcpserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/accountcheck/internal/analysis"
	"github.com/mbd888/accountcheck/internal/apiclient"
	"github.com/mbd888/accountcheck/internal/kv"
	"github.com/mbd888/accountcheck/internal/logging"
)

// --- Test helpers ---

// newAPIServer runs the real analysis routes over an in-memory store.
func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := analysis.NewService(kv.NewMemoryStore(), analysis.DefaultConfig(), logging.Discard())
	r := gin.New()
	analysis.NewHandler(svc).RegisterRoutes(r.Group("/v1"))

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func newTestSetup(t *testing.T) *Handlers {
	t.Helper()
	ts := newAPIServer(t)
	return NewHandlers(apiclient.New(apiclient.Config{APIURL: ts.URL + "/"}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Tool handler tests
// ============================================================

func TestHandleAnalyzeAccount(t *testing.T) {
	h := newTestSetup(t)

	result, err := h.HandleAnalyzeAccount(context.Background(), makeRequest(map[string]any{
		"username":    "influencer",
		"followers":   15000.0,
		"following":   500.0,
		"posts":       200.0,
		"account_age": 30.0,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Account: influencer")
	assert.Contains(t, text, "Verdict: REAL (score 100/100)")
	assert.Contains(t, text, "Flags: none")
	assert.Contains(t, text, "  - Well-established account")
	assert.Contains(t, text, "Saved to history")
}

func TestHandleAnalyzeAccount_FakeWithStringCounts(t *testing.T) {
	h := newTestSetup(t)

	result, err := h.HandleAnalyzeAccount(context.Background(), makeRequest(map[string]any{
		"username":    "bot123",
		"followers":   "20",
		"following":   "300",
		"posts":       3.0,
		"account_age": 0.5,
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Verdict: FAKE (score 0/100)")
	assert.Contains(t, text, "low_ratio, low_posts, new_account")
}

func TestHandleAnalyzeAccount_MissingUsername(t *testing.T) {
	h := newTestSetup(t)

	result, err := h.HandleAnalyzeAccount(context.Background(), makeRequest(map[string]any{"followers": 10.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "username is required")
}

func TestHandleGetHistory(t *testing.T) {
	h := newTestSetup(t)
	ctx := context.Background()

	empty, err := h.HandleGetHistory(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No analyses found.", resultText(t, empty))

	for _, name := range []string{"alice", "bob", "alice"} {
		_, err := h.HandleAnalyzeAccount(ctx, makeRequest(map[string]any{"username": name, "followers": 100.0}))
		require.NoError(t, err)
	}

	all, err := h.HandleGetHistory(ctx, makeRequest(map[string]any{"limit": 2.0}))
	require.NoError(t, err)
	text := resultText(t, all)
	assert.Contains(t, text, "Found 2 analysis(es)")
	assert.Contains(t, text, "More results available")

	alice, err := h.HandleGetHistory(ctx, makeRequest(map[string]any{"username": "alice"}))
	require.NoError(t, err)
	text = resultText(t, alice)
	assert.Contains(t, text, "Found 2 analysis(es)")
	assert.NotContains(t, text, "bob")

	none, err := h.HandleGetHistory(ctx, makeRequest(map[string]any{"username": "carol"}))
	require.NoError(t, err)
	assert.Equal(t, "No analyses found for carol.", resultText(t, none))
}

func TestHandleGetHistory_BadLimit(t *testing.T) {
	h := newTestSetup(t)

	result, err := h.HandleGetHistory(context.Background(), makeRequest(map[string]any{"limit": 500.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "400")
}

func TestHandleGetStats(t *testing.T) {
	h := newTestSetup(t)
	ctx := context.Background()

	_, err := h.HandleAnalyzeAccount(ctx, makeRequest(map[string]any{
		"username": "bot", "followers": 20.0, "following": 300.0, "posts": 3.0, "account_age": 0.5,
	}))
	require.NoError(t, err)

	result, err := h.HandleGetStats(ctx, makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Total analyses: 1 (1 unique accounts)")
	assert.Contains(t, text, "Real: 0 | Suspicious: 0 | Fake: 1")
	assert.Contains(t, text, "low_ratio: 1")
	assert.Contains(t, text, "Last 7 days:")
	assert.Equal(t, 7, strings.Count(text, "total ("))
}

func TestHandleListFeatures(t *testing.T) {
	h := newTestSetup(t)

	result, err := h.HandleListFeatures(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "username (string, required)")
	assert.Contains(t, text, "accountAge (number)")
	assert.Contains(t, text, "Red flags: low_ratio, low_posts, new_account, low_engagement")
}

func TestBulletize(t *testing.T) {
	got := bulletize("Good ratio. New account. ")
	assert.Equal(t, "  - Good ratio\n  - New account", got)
}

func TestNewMCPServer(t *testing.T) {
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080"}))
}

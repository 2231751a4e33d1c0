package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := New(Config{APIURL: ts.URL, APIKey: "secret123"}).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret123", gotAuth)

	_, err = New(Config{APIURL: ts.URL}).Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth, "no header without a key")
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "storage_error",
			"message": "Failed to fetch history",
		})
	}))
	defer ts.Close()

	_, err := New(Config{APIURL: ts.URL}).History(context.Background(), "", 0, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "Failed to fetch history")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	_, err := New(Config{APIURL: ts.URL}).Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	_, err := New(Config{APIURL: "http://127.0.0.1:1"}).Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_HistoryPathAndQuery(t *testing.T) {
	var gotPath, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"history":[],"count":0}`))
	}))
	defer ts.Close()

	_, err := New(Config{APIURL: ts.URL}).History(context.Background(), "a b/c", 5, "abc")
	require.NoError(t, err)
	assert.Equal(t, "/v1/history/a%20b%2Fc", gotPath)
	assert.Equal(t, "cursor=abc&limit=5", gotQuery)
}

func TestClient_AnalyzeDecodesResponse(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"status":"suspicious","score":55,"flags":["low_posts"],"stored":true,"id":"abc"}`))
	}))
	defer ts.Close()

	resp, err := New(Config{APIURL: ts.URL}).Analyze(context.Background(), map[string]any{"username": "jane", "followers": "12"})
	require.NoError(t, err)
	assert.Equal(t, "jane", gotBody["username"])
	assert.Equal(t, "12", gotBody["followers"], "values are passed through untouched")
	assert.Equal(t, 55, resp.Score)
	assert.Equal(t, "abc", resp.ID)
	require.Len(t, resp.Flags, 1)
	assert.Equal(t, "low_posts", string(resp.Flags[0]))
}

func TestClient_DecodeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer ts.Close()

	_, err := New(Config{APIURL: ts.URL}).Features(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

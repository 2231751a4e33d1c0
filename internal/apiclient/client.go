// Package apiclient is a small HTTP client for the accountcheck API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/accountcheck/internal/analysis"
)

// Config holds the configuration for reaching the accountcheck API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Optional bearer token for gateways in front of the API
}

// Client is a pure HTTP client for the accountcheck API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a new API client.
func New(cfg Config) *Client {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and decodes a successful response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HistoryResponse mirrors GET /v1/history.
type HistoryResponse struct {
	History    []*analysis.Record `json:"history"`
	Count      int                `json:"count"`
	NextCursor string             `json:"next_cursor"`
	HasMore    bool               `json:"has_more"`
}

// FeaturesResponse mirrors GET /v1/features.
type FeaturesResponse struct {
	Features []analysis.Feature `json:"features"`
	Flags    []string           `json:"flags"`
}

// Analyze scores one account. Fields are passed through untouched so the
// API applies its own coercion rules.
func (c *Client) Analyze(ctx context.Context, account map[string]any) (*analysis.AnalyzeResponse, error) {
	var out analysis.AnalyzeResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/analyze", nil, account, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns stored analyses, optionally for a single username.
func (c *Client) History(ctx context.Context, username string, limit int, cursor string) (*HistoryResponse, error) {
	path := "/v1/history"
	if username != "" {
		path += "/" + url.PathEscape(username)
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var out HistoryResponse
	if err := c.doRequest(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns aggregate statistics over stored analyses.
func (c *Client) Stats(ctx context.Context) (*analysis.Stats, error) {
	var out analysis.Stats
	if err := c.doRequest(ctx, http.MethodGet, "/v1/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Features describes the request fields and flag vocabulary.
func (c *Client) Features(ctx context.Context) (*FeaturesResponse, error) {
	var out FeaturesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/features", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

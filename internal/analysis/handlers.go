package analysis

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/accountcheck/internal/authenticity"
	"github.com/mbd888/accountcheck/internal/logging"
	"github.com/mbd888/accountcheck/internal/pagination"
	"github.com/mbd888/accountcheck/internal/validation"
)

// storageWarning is returned when a result was scored but not persisted.
const storageWarning = "Analysis completed but could not be saved to history"

// Handler provides HTTP endpoints for account analysis
type Handler struct {
	service *Service
}

// NewHandler creates a new analysis handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up analysis routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analyze", h.Analyze)
	r.POST("/analyze/batch", h.AnalyzeBatch)
	r.GET("/history", h.History)
	r.GET("/history/:username", validation.UsernameParamMiddleware(), h.History)
	r.GET("/stats", h.Stats)
	r.GET("/features", h.Features)
}

// AnalyzeResponse is the body of a successful analyze call.
type AnalyzeResponse struct {
	Status  authenticity.Status  `json:"status"`
	Score   int                  `json:"score"`
	Details string               `json:"details"`
	Flags   []authenticity.Flag  `json:"flags"`
	Signals authenticity.Signals `json:"signals"`
	Stored  bool                 `json:"stored"`
	ID      string               `json:"id,omitempty"`
	Warning string               `json:"warning,omitempty"`
}

func newAnalyzeResponse(out *Outcome) AnalyzeResponse {
	resp := AnalyzeResponse{
		Status:  out.Result.Status,
		Score:   out.Result.Score,
		Details: out.Result.Details,
		Flags:   out.Result.Flags,
		Signals: out.Signals,
		Stored:  out.Stored,
	}
	if out.Stored {
		resp.ID = out.Record.ID
	} else {
		resp.Warning = storageWarning
	}
	return resp
}

// Analyze handles POST /v1/analyze
func (h *Handler) Analyze(c *gin.Context) {
	var req Request
	if !bindJSON(c, &req) {
		return
	}

	out, err := h.service.Analyze(c.Request.Context(), req)
	var storageErr *StorageError
	switch {
	case err == nil, errors.As(err, &storageErr):
		c.JSON(http.StatusOK, newAnalyzeResponse(out))
	default:
		respondError(c, err)
	}
}

// BatchResult is one entry of a batch response: either a result or an error.
type BatchResult struct {
	Index    int    `json:"index"`
	Username string `json:"username,omitempty"`
	*AnalyzeResponse
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// AnalyzeBatch handles POST /v1/analyze/batch
func (h *Handler) AnalyzeBatch(c *gin.Context) {
	var reqs []Request
	if !bindJSON(c, &reqs) {
		return
	}

	items, err := h.service.AnalyzeBatch(c.Request.Context(), reqs)
	if err != nil {
		respondError(c, err)
		return
	}

	results := make([]BatchResult, len(items))
	for i, item := range items {
		res := BatchResult{Index: item.Index}
		var storageErr *StorageError
		switch {
		case item.Err == nil, errors.As(item.Err, &storageErr):
			resp := newAnalyzeResponse(item.Outcome)
			res.Username = item.Outcome.Record.Username
			res.AnalyzeResponse = &resp
		default:
			res.Error, res.Message = errorCode(item.Err), item.Err.Error()
		}
		results[i] = res
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(results),
		"results":   results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// History handles GET /v1/history and GET /v1/history/:username
func (h *Handler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > pagination.MaxLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be an integer between 1 and 100",
			})
			return
		}
		limit = n
	}

	page, err := h.service.History(c.Request.Context(), HistoryQuery{
		Username: strings.TrimSpace(c.Param("username")),
		Limit:    limit,
		Cursor:   c.Query("cursor"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	history := page.Records
	if history == nil {
		history = []*Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"history":     history,
		"count":       len(history),
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

// Stats handles GET /v1/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Feature describes one request field.
type Feature struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

var features = []Feature{
	{"username", "string", true, "Account handle, trimmed, at most 256 bytes"},
	{"followers", "integer", false, "Follower count; non-numeric or negative values count as 0"},
	{"following", "integer", false, "Following count; non-numeric or negative values count as 0"},
	{"posts", "integer", false, "Number of posts; non-numeric or negative values count as 0"},
	{"accountAge", "number", false, "Account age in months; fractions allowed"},
}

// Features handles GET /v1/features
func (h *Handler) Features(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"features": features,
		"count":    len(features),
		"flags":    authenticity.Flags,
		"statuses": []authenticity.Status{authenticity.StatusReal, authenticity.StatusSuspicious, authenticity.StatusFake},
		"thresholds": gin.H{
			"real":       authenticity.RealThreshold,
			"suspicious": authenticity.SuspiciousThreshold,
		},
	})
}

// bindJSON decodes the body into dst, writing a 400 on failure. It decodes
// directly instead of using ShouldBindJSON so an oversized body surfaces as
// *http.MaxBytesError and maps to 413.
func bindJSON(c *gin.Context, dst any) bool {
	err := json.NewDecoder(c.Request.Body).Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "request_too_large",
			"message": "Request body exceeds the size limit",
		})
	case errors.Is(err, io.EOF):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body is required",
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
	}
	return false
}

func errorCode(err error) string {
	var validationErr *ValidationError
	var storageErr *StorageError
	switch {
	case errors.As(err, &validationErr):
		return "validation_error"
	case errors.Is(err, pagination.ErrInvalidCursor):
		return "invalid_cursor"
	case errors.Is(err, ErrEmptyBatch), errors.Is(err, ErrBatchTooLarge):
		return "invalid_batch"
	case errors.As(err, &storageErr):
		return "storage_error"
	default:
		return "internal_error"
	}
}

func respondError(c *gin.Context, err error) {
	code := errorCode(err)
	switch code {
	case "validation_error", "invalid_cursor", "invalid_batch":
		c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": err.Error()})
	case "storage_error":
		logging.L(c.Request.Context()).Error("history storage failure", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   code,
			"message": "Failed to fetch history",
		})
	default:
		logging.L(c.Request.Context()).Error("analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   code,
			"message": "Analysis failed",
		})
	}
}

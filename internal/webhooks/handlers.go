package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/accountcheck/internal/authenticity"
	"github.com/mbd888/accountcheck/internal/idgen"
	"github.com/mbd888/accountcheck/internal/logging"
	"github.com/mbd888/accountcheck/internal/validation"
)

// MaxSubscriptions caps the number of registered webhooks.
const MaxSubscriptions = 100

const maxURLLength = 2048

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store      *Store
	dispatcher *Dispatcher
}

// NewHandler creates a new webhook handler
func NewHandler(store *Store, dispatcher *Dispatcher) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
	}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks", h.ListWebhooks)
	r.GET("/webhooks/:id", h.GetWebhook)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL       string   `json:"url"`
	Statuses  []string `json:"statuses"`
	Usernames []string `json:"usernames"`
	MaxScore  *int     `json:"maxScore"`
}

// CreateWebhook handles POST /v1/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON object",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("url", req.URL),
		validation.MaxLength("url", req.URL, maxURLLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := h.dispatcher.ValidateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	filter := Filter{Usernames: req.Usernames, MaxScore: req.MaxScore}
	for _, s := range req.Statuses {
		status := authenticity.Status(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_status",
				"message": "statuses must be real, suspicious or fake",
			})
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	existing, err := h.store.List(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to list webhooks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to create webhook",
		})
		return
	}
	if len(existing) >= MaxSubscriptions {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "limit_reached",
			"message": "Too many webhooks registered",
		})
		return
	}

	secret, err := generateSecret()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to generate secret",
		})
		return
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		URL:       req.URL,
		Secret:    secret,
		Filter:    filter,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(ctx, sub); err != nil {
		logging.L(ctx).Error("failed to create webhook", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": view(sub),
		"secret":  secret, // only shown once
		"usage": gin.H{
			"signature": "sha256=HMAC-SHA256(body, secret) in hex",
			"header":    HeaderSignature,
		},
	})
}

// ListWebhooks handles GET /v1/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "storage_error",
			"message": "Failed to list webhooks",
		})
		return
	}

	webhooks := make([]gin.H, len(subs))
	for i, sub := range subs {
		webhooks[i] = view(sub)
	}
	c.JSON(http.StatusOK, gin.H{
		"webhooks": webhooks,
		"count":    len(webhooks),
	})
}

// GetWebhook handles GET /v1/webhooks/:id
func (h *Handler) GetWebhook(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view(sub))
}

// DeleteWebhook handles DELETE /v1/webhooks/:id
func (h *Handler) DeleteWebhook(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}

func (h *Handler) storeError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook not found",
		})
		return
	}
	logging.L(c.Request.Context()).Error("webhook store error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "storage_error",
		"message": "Webhook storage unavailable",
	})
}

// view omits the secret.
func view(sub *Subscription) gin.H {
	return gin.H{
		"id":          sub.ID,
		"url":         sub.URL,
		"filter":      sub.Filter,
		"active":      sub.Active,
		"createdAt":   sub.CreatedAt,
		"lastSuccess": sub.LastSuccess,
		"lastError":   sub.LastError,
		"failures":    sub.Failures,
	}
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

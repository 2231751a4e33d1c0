// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/accountcheck/internal/analysis"
	"github.com/mbd888/accountcheck/internal/auth"
	"github.com/mbd888/accountcheck/internal/config"
	"github.com/mbd888/accountcheck/internal/health"
	"github.com/mbd888/accountcheck/internal/idgen"
	"github.com/mbd888/accountcheck/internal/kafka"
	"github.com/mbd888/accountcheck/internal/kv"
	"github.com/mbd888/accountcheck/internal/logging"
	"github.com/mbd888/accountcheck/internal/metrics"
	"github.com/mbd888/accountcheck/internal/ratelimit"
	"github.com/mbd888/accountcheck/internal/realtime"
	"github.com/mbd888/accountcheck/internal/security"
	"github.com/mbd888/accountcheck/internal/validation"
	"github.com/mbd888/accountcheck/internal/webhooks"
)

// Version is reported by /health and /api.
const Version = "0.3.0"

// maxRequestIDLength bounds client-supplied X-Request-ID values.
const maxRequestIDLength = 128

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        kv.Store
	analysis     *analysis.Service
	realtimeHub  *realtime.Hub
	producer     *kafka.Producer
	webhookStore *webhooks.Store
	webhooks     *webhooks.Dispatcher
	publishers   []analysis.Publisher
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore injects a store instead of opening one from config (for testing)
func WithStore(store kv.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithPublisher adds an extra destination for stored analyses
func WithPublisher(p analysis.Publisher) Option {
	return func(s *Server) {
		s.publishers = append(s.publishers, p)
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.store == nil {
		store, err := kv.Open(ctx, kv.Options{
			Kind:           cfg.StoreBackend,
			DatabaseURL:    cfg.DatabaseURL,
			SQLitePath:     cfg.SQLitePath,
			RedisURL:       cfg.RedisURL,
			RedisNamespace: cfg.RedisNamespace,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		s.store = store
	}
	s.logger.Info("store ready", "backend", s.store.Kind())
	s.health.Register("store", health.PingChecker("store", s.store.Ping))

	s.analysis = analysis.NewService(s.store, analysis.Config{
		BatchConcurrency: cfg.BatchConcurrency,
		StoreTimeout:     cfg.StoreTimeout,
	}, s.logger)

	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins...)
	s.analysis.WithPublisher(s.realtimeHub)

	if cfg.KafkaEnabled() {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, s.logger)
		if err != nil {
			_ = s.store.Close()
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		s.producer = producer
		s.analysis.WithPublisher(producer)
		s.health.Register("kafka", health.PingChecker("kafka", producer.Ping))
		s.logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic, "brokers", len(cfg.KafkaBrokers))
	}
	var hookOpts []webhooks.Option
	if cfg.WebhookAllowPrivate {
		hookOpts = append(hookOpts, webhooks.AllowPrivateTargets())
	}
	s.webhookStore = webhooks.NewStore(s.store)
	s.webhooks = webhooks.NewDispatcher(s.webhookStore, s.logger, hookOpts...)
	s.analysis.WithPublisher(s.webhooks)

	for _, p := range s.publishers {
		s.analysis.WithPublisher(p)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honour an upstream ID (load balancer, gateway) when it looks sane
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > maxRequestIDLength || !validation.IsValidUsername(requestID) {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		case path == "/health/live" || path == "/health/ready" || path == "/metrics":
			logger.Debug("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)
	s.router.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))
	s.router.GET("/ws/stats", s.realtimeStatsHandler)

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(auth.NewManager(s.cfg.APIKeys)))
	analysis.NewHandler(s.analysis).RegisterRoutes(v1)
	webhooks.NewHandler(s.webhookStore, s.webhooks).RegisterRoutes(v1)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No route for " + c.Request.Method + " " + c.Request.URL.Path,
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Store     string          `json:"store"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	if !ok {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Store:     s.store.Kind(),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if ok, checks := s.health.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "accountcheck",
		"description": "Social account authenticity scoring",
		"version":     Version,
		"store":       s.store.Kind(),
		"endpoints": []string{
			"POST /v1/analyze",
			"POST /v1/analyze/batch",
			"GET /v1/history",
			"GET /v1/history/:username",
			"GET /v1/stats",
			"GET /v1/features",
			"POST /v1/webhooks",
			"GET /v1/webhooks",
			"GET /v1/webhooks/:id",
			"DELETE /v1/webhooks/:id",
			"GET /ws",
			"GET /ws/stats",
		},
	})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown can stop them
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "store", s.store.Kind())
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if dbs, ok := s.store.(interface{ DB() *sql.DB }); ok {
		go metrics.StartDBStatsCollector(runCtx, dbs.DB(), 15*time.Second)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Stops the hub and the DB stats collector
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// In-flight deliveries record their outcome in the store
	s.webhooks.Close()

	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.logger.Error("kafka close error", "error", err)
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	} else {
		s.logger.Info("store closed", "backend", s.store.Kind())
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Service returns the analysis service
func (s *Server) Service() *analysis.Service {
	return s.analysis
}

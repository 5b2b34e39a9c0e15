// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/streamguard/streamguard/internal/audit"
	"github.com/streamguard/streamguard/internal/circuitbreaker"
	"github.com/streamguard/streamguard/internal/config"
	"github.com/streamguard/streamguard/internal/health"
	"github.com/streamguard/streamguard/internal/judgment"
	"github.com/streamguard/streamguard/internal/logging"
	"github.com/streamguard/streamguard/internal/lookup"
	"github.com/streamguard/streamguard/internal/metrics"
	"github.com/streamguard/streamguard/internal/policy"
	"github.com/streamguard/streamguard/internal/ratelimit"
	"github.com/streamguard/streamguard/internal/realtime"
	"github.com/streamguard/streamguard/internal/retry"
	"github.com/streamguard/streamguard/internal/security"
	"github.com/streamguard/streamguard/internal/validation"
)

// Version is reported by the health and info endpoints.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// FactStore serves all three fact lookups.
type FactStore interface {
	lookup.UserHistoryStore
	lookup.BeneficiaryStore
	lookup.SessionStore
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	facts        FactStore
	factCache    *lookup.RedisCache // nil unless REDIS_URL is set
	executor     *retry.Executor
	breaker      *circuitbreaker.Breaker
	engine       *policy.Engine
	policyStore  policy.Store
	auditStore   audit.Store // nil when auditing is disabled
	recorder     *audit.Recorder
	service      *judgment.Service
	feed         *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
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

// WithFactStore replaces the configured fact store (for testing)
func WithFactStore(fs FactStore) Option {
	return func(s *Server) {
		s.facts = fs
	}
}

// WithExecutor replaces the lookup retry executor (for testing)
func WithExecutor(e *retry.Executor) Option {
	return func(s *Server) {
		s.executor = e
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}

	// Apply options first (may set fact store/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection; the database may still be starting
		if err := retry.Do(ctx, 3, time.Second, func() error { return db.PingContext(ctx) }); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		if s.facts == nil {
			s.facts = lookup.NewPostgresStore(db)
		}

		policyStore := policy.NewPostgresStore(db)
		if err := policyStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate policy store", "error", err)
		}
		s.policyStore = policyStore

		if cfg.AuditEnabled {
			s.auditStore = audit.NewPostgresStore(db)
		}

		s.health.Register("database", health.PingChecker("database", 0, db.PingContext))
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		if s.facts == nil {
			s.facts = lookup.NewDemoStore()
			s.logger.Info("demo fact fixtures loaded")
		}
		s.policyStore = policy.NewMemoryStore()
		if cfg.AuditEnabled {
			s.auditStore = audit.NewMemoryStore()
		}
	}

	// Fact cache in front of the store
	var facts FactStore = s.facts
	if cfg.RedisURL != "" {
		cache, err := lookup.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.factCache = cache
		facts = lookup.NewCachedStore(s.facts, s.facts, s.facts, cache, cfg.FactCacheTTL, s.logger)
		s.health.Register("redis", health.PingChecker("redis", 0, cache.Ping))
		s.logger.Info("fact cache enabled", "ttl", cfg.FactCacheTTL)
	}

	// Policy engine
	engine, err := s.buildEngine(ctx)
	if err != nil {
		return nil, err
	}
	s.engine = engine

	// Fact gathering
	if s.executor == nil {
		execOpts := []retry.Option{retry.WithLogger(s.logger)}
		if cfg.RetryJitter {
			execOpts = append(execOpts, retry.WithJitter())
		}
		s.executor = retry.NewExecutor("lookup", cfg.RetryMaxAttempts, cfg.RetryInitialDelay, execOpts...)
	}
	s.breaker = circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("lookup circuit changed state", "tool", key, "from", from.String(), "to", to.String())
	})
	s.health.Register("lookups", health.BreakerChecker("lookups", s.breaker,
		lookup.ToolUserHistory, lookup.ToolBeneficiaryRisk, lookup.ToolSessionContext))

	gatherer := lookup.NewGatherer(facts, facts, facts, s.executor,
		lookup.WithBreaker(s.breaker),
		lookup.WithGathererLogger(s.logger),
	)

	// Judgment audit
	if s.auditStore != nil {
		s.recorder = audit.NewRecorder(s.auditStore, audit.DefaultWriteTimeout, s.logger)
		s.logger.Info("judgment audit enabled")
	}

	// Live judgment feed
	s.feed = realtime.NewHub(s.logger)

	s.service = judgment.NewService(gatherer, s.engine, s.recorder, s.logger).WithFeed(s.feed)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// buildEngine loads the rule table (file or defaults), reconciles it with
// the policy store, and applies the optional first-time amount limit.
func (s *Server) buildEngine(ctx context.Context) (*policy.Engine, error) {
	base := policy.DefaultRules()
	if s.cfg.RulesFile != "" {
		rules, err := policy.LoadRules(s.cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		base = rules
		s.logger.Info("policy rules loaded from file", "path", s.cfg.RulesFile, "count", len(rules))
	}

	rules, err := policy.Bootstrap(ctx, s.policyStore, base)
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap policy store: %w", err)
	}

	opts := []policy.Option{policy.WithLogger(s.logger)}
	if limit := s.cfg.FirstTimeAmountLimit; limit != nil {
		opts = append(opts, policy.WithFirstTimeAmountLimit(*limit))
		s.logger.Info("first-time amount limit enabled", "limit", limit.String())
	}
	engine, err := policy.New(rules, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid policy rules: %w", err)
	}
	return engine, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(security.ClientIDMiddleware())

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())
		if id := security.ClientID(c); id != "" {
			logger = logger.With("client_id", id)
		}

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
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

	v1 := s.router.Group("/v1")
	v1.GET("", s.infoHandler)
	v1.GET("/feed", func(c *gin.Context) {
		s.feed.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/feed/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.feed.Stats())
	})

	judgment.NewHandler(s.service, s.auditStore).RegisterRoutes(v1)
	policy.NewHandler(s.engine, s.policyStore, s.logger).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "StreamGuard",
		"description": "APP fraud judgment service",
		"version":     Version,
		"policies":    len(s.engine.Rules()),
		"audit":       s.auditStore != nil,
		"fact_cache":  s.factCache != nil,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // fact lookups may back off for several seconds
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"policies", len(s.engine.Rules()),
			"retry_attempts", s.cfg.RetryMaxAttempts,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the judgment feed
	go s.feed.Run(runCtx)

	// Sample connection pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
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

	// Cancel the context for background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.Close()
	s.logger.Info("server stopped")
	return nil
}

// Close releases background workers and connections without touching the
// HTTP listener. Pending audit writes are flushed first.
func (s *Server) Close() {
	if s.recorder != nil {
		s.recorder.Wait()
		s.logger.Info("audit writes flushed")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.factCache != nil {
		if err := s.factCache.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

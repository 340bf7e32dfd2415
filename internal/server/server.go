// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/vermlabs/sentinel/internal/alerts"
	"github.com/vermlabs/sentinel/internal/config"
	"github.com/vermlabs/sentinel/internal/events"
	"github.com/vermlabs/sentinel/internal/health"
	"github.com/vermlabs/sentinel/internal/logging"
	"github.com/vermlabs/sentinel/internal/metrics"
	"github.com/vermlabs/sentinel/internal/ratelimit"
	"github.com/vermlabs/sentinel/internal/realtime"
	"github.com/vermlabs/sentinel/internal/security"
	"github.com/vermlabs/sentinel/internal/threat"
	"github.com/vermlabs/sentinel/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	engine       *threat.Engine
	store        threat.Store
	bus          *events.Bus
	hub          *realtime.Hub
	notifier     *alerts.Notifier // nil unless an alert webhook is configured
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	cancelSub    func()             // unsubscribes the hub forwarder from the bus

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

// WithStore sets a custom scan store (for testing)
func WithStore(store threat.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			// Configure connection pool
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			// Test connection
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			s.store = threat.NewPostgresStore(db)
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = threat.NewMemoryStore()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// Event bus decouples the scan path from notification delivery
	s.bus = events.NewBus(0)

	// Detection engine with the built-in catalog
	s.engine = threat.NewEngine().
		WithSink(s.bus).
		WithStore(s.store).
		WithDetectorTimeout(cfg.DetectorTimeout)
	s.loadDetectors()

	// Restore persisted custom patterns
	if patterns, err := s.store.LoadPatterns(ctx); err != nil {
		s.logger.Warn("failed to load custom patterns", "error", err)
	} else {
		for _, p := range patterns {
			if err := s.engine.AddCustomPattern(p); err != nil {
				s.logger.Warn("skipping persisted pattern", "pattern_id", p.ID, "error", err)
			}
		}
		if len(patterns) > 0 {
			s.logger.Info("custom patterns restored", "count", len(patterns))
		}
	}

	// Create realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Optional operator alert webhook
	if cfg.AlertWebhookURL != "" {
		notifier, err := alerts.NewNotifier(
			cfg.AlertWebhookURL,
			cfg.AlertWebhookSecret,
			threat.Severity(cfg.AlertMinSeverity),
			cfg.IsDevelopment(),
			s.logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to configure alert webhook: %w", err)
		}
		s.notifier = notifier
		s.logger.Info("alert webhook enabled", "min_severity", cfg.AlertMinSeverity)
	}

	// Subsystem health checks feed the /health endpoint
	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.checks.Register("pattern_registry", func(ctx context.Context) health.Status {
		if s.engine.GetDetectionStats().TotalPatterns == 0 {
			return health.Status{Name: "pattern_registry", Healthy: false, Detail: "no patterns loaded"}
		}
		return health.Status{Name: "pattern_registry", Healthy: true}
	})

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

// loadDetectors wires every detector adapter not named in
// DISABLED_DETECTORS, all at the configured contribution threshold.
func (s *Server) loadDetectors() {
	disabled := make(map[string]bool, len(s.cfg.DisabledDetectors))
	for _, name := range s.cfg.DisabledDetectors {
		disabled[name] = true
	}

	all := []threat.Detector{
		threat.NewBytecodeSimilarityDetector(s.cfg.DetectorThreshold),
		threat.NewSocialSignalsDetector(s.cfg.DetectorThreshold),
		threat.NewTransactionPatternDetector(s.cfg.DetectorThreshold),
	}
	for _, d := range all {
		if disabled[d.Name()] {
			s.logger.Info("detector disabled", "detector", d.Name())
			continue
		}
		s.engine.WithDetector(d)
		s.logger.Info("detector loaded", "detector", d.Name(), "threshold", d.Threshold())
	}
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

	// CORS
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (analysis bundles carry bytecode and source)
	s.router.Use(validation.RequestSizeMiddleware(s.cfg.MaxBundleBytes))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	rlCfg.BurstSize = s.cfg.RateLimitRPS
	s.rateLimiter = ratelimit.New(rlCfg)
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
			requestID = generateRequestID()
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

// requireAdmin gates pattern mutations behind the X-Admin-Secret header.
// In development with no secret configured, mutations are open.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Pattern mutations are disabled (no admin secret configured)",
				})
				return
			}
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
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

	// WebSocket for real-time threat streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	// Scanning
	v1.POST("/scan", s.scanHandler)

	// Scan audit trail
	v1.GET("/scans", s.listScansHandler)
	v1.GET("/scans/:id", s.getScanHandler)

	// Pattern catalog (reads are public)
	v1.GET("/patterns", s.listPatternsHandler)
	v1.GET("/patterns/:id", s.getPatternHandler)

	// Pattern mutations require the admin secret
	admin := v1.Group("")
	admin.Use(s.requireAdmin())
	{
		admin.POST("/patterns", s.createPatternHandler)
		admin.PATCH("/patterns/:id", s.updatePatternHandler)
	}

	// Detection surface summary
	v1.GET("/stats", s.statsHandler)
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
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"patterns", s.engine.GetDetectionStats().TotalPatterns,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Forward threat events from the bus to websocket subscribers
	sub, cancelSub := s.bus.Subscribe()
	s.cancelSub = cancelSub
	go func() {
		for evt := range sub {
			s.hub.BroadcastThreat(evt)
		}
	}()

	// Deliver webhook alerts for qualifying findings
	if s.notifier != nil {
		alertSub, cancelAlerts := s.bus.Subscribe()
		go func() {
			defer cancelAlerts()
			s.notifier.Run(runCtx, alertSub)
		}()
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

	// Cancel the context for all background goroutines (hub, forwarder)
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

	// Stop the bus forwarder, then the bus itself
	if s.cancelSub != nil {
		s.cancelSub()
	}
	s.bus.Close()

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

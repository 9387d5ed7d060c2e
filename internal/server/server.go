// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
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

	"github.com/dukasoko/resolution/internal/auth"
	"github.com/dukasoko/resolution/internal/config"
	"github.com/dukasoko/resolution/internal/disbursement"
	"github.com/dukasoko/resolution/internal/dispute"
	"github.com/dukasoko/resolution/internal/health"
	"github.com/dukasoko/resolution/internal/logging"
	"github.com/dukasoko/resolution/internal/metrics"
	"github.com/dukasoko/resolution/internal/ratelimit"
	"github.com/dukasoko/resolution/internal/realtime"
	"github.com/dukasoko/resolution/internal/reputation"
	"github.com/dukasoko/resolution/internal/security"
	"github.com/dukasoko/resolution/internal/traces"
	"github.com/dukasoko/resolution/internal/validation"
	"github.com/dukasoko/resolution/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	authMgr       *auth.Manager
	disputeSvc    *dispute.Service
	disputeTimer  *dispute.Timer
	disburseSvc   *disbursement.Service
	disburseWork  *disbursement.Worker
	reputationLed *reputation.Ledger
	webhookStore  webhooks.Store
	dispatcher    *webhooks.Dispatcher
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	healthReg     *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOTel func(context.Context) error
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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing", "error", err)
		} else {
			s.shutdownOTel = shutdown
		}
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		disputeStore    dispute.Store
		disburseStore   disbursement.Store
		reputationStore reputation.Store
		authStore       auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		disputeStore = dispute.NewPostgresStore(db)
		disburseStore = disbursement.NewPostgresStore(db)
		reputationStore = reputation.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		disputeStore = dispute.NewMemoryStore()
		disburseStore = disbursement.NewMemoryStore()
		reputationStore = reputation.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.authMgr = auth.NewManager(authStore)
	s.reputationLed = reputation.NewLedger(reputationStore)

	// Event fan-out: webhooks to external endpoints, realtime to WebSocket clients
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore)
	s.realtimeHub = realtime.NewHub(s.logger)
	events := &fanoutEmitter{
		wh: webhooks.NewEmitter(s.dispatcher),
		rt: realtime.NewEmitter(s.realtimeHub),
	}

	// Disbursement service first; the dispute service needs it as its Disburser
	// and it needs the dispute service back as its settlement Resolver.
	s.disburseSvc = disbursement.NewService(disburseStore, events, cfg.DisburseRetryCap)

	policy := dispute.Policy{
		ResponseWindow:    cfg.ResponseWindow,
		NegotiationWindow: cfg.NegotiationWindow,
		CloseGracePeriod:  cfg.CloseGracePeriod,
		MinDescriptionLen: cfg.MinDescriptionLen,
		MinResponseLen:    cfg.MinResponseLen,
		MinReasoningLen:   cfg.MinReasoningLen,
		MaxEvidencePerMsg: cfg.MaxEvidencePerMsg,
		MaxOpenPerSeller:  cfg.MaxOpenPerSeller,
		OpenPenalty:       cfg.OpenPenalty,
		FaultPenalty:      cfg.FaultPenalty,
		VindicationReward: cfg.VindicationReward,
	}
	s.disputeSvc = dispute.NewService(disputeStore, s.reputationLed, s.disburseSvc, events, policy)
	s.disburseSvc.SetResolver(s.disputeSvc)

	s.disputeTimer = dispute.NewTimer(s.disputeSvc, cfg.SweepInterval)

	// Disbursement gateway. Stripe takes precedence when both are configured.
	var gateway disbursement.Gateway
	switch {
	case cfg.StripeAPIKey != "":
		gateway = disbursement.NewStripeGateway(cfg.StripeAPIKey)
		s.logger.Info("disbursement gateway enabled", "driver", "stripe")
	case cfg.GatewayURL != "":
		gateway = disbursement.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayAPIKey)
		s.logger.Info("disbursement gateway enabled", "driver", "http", "url", cfg.GatewayURL)
	default:
		s.logger.Warn("no disbursement gateway configured, refunds will queue until one is")
	}
	if gateway != nil {
		s.disburseWork = disbursement.NewWorker(s.disburseSvc, gateway, cfg.SweepInterval, cfg.DisburseBackoff)
	}

	s.logger.Info("API authentication enabled")
	s.logger.Info("realtime streaming enabled")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

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

	// WebSocket dispute feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// Handlers
	authHandler := auth.NewHandler(s.authMgr, s.cfg.AdminSecret)
	disputeHandler := dispute.NewHandler(s.disputeSvc)
	reputationHandler := reputation.NewHandler(s.reputationLed)
	webhookHandler := webhooks.NewHandler(s.webhookStore)
	disburseHandler := disbursement.NewHandler(s.disburseSvc, s.cfg.GatewaySecret)

	v1 := s.router.Group("/v1")
	v1.Use(validation.IDParamMiddleware())

	// PUBLIC ROUTES (no auth required)
	v1.GET("/auth/info", authHandler.Info)
	v1.POST("/auth/register", authHandler.Register)
	v1.POST("/auth/bootstrap", authHandler.Bootstrap)

	// Gateway settlement callback is authenticated by HMAC signature, not API key
	v1.POST("/disbursements/callback", disburseHandler.Callback)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth())
	{
		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.GET("/auth/me", authHandler.Whoami)

		// Dispute lifecycle. Only buyer keys can open; the remaining
		// transitions enforce party membership in the service layer.
		protected.POST("/disputes", auth.RequireRole(auth.RoleBuyer), disputeHandler.Open)
		protected.GET("/disputes", disputeHandler.List)
		protected.GET("/disputes/:id", disputeHandler.Get)
		protected.GET("/disputes/:id/timeline", disputeHandler.GetTimeline)
		protected.POST("/disputes/:id/response", disputeHandler.Respond)
		protected.POST("/disputes/:id/proposals", disputeHandler.Propose)
		protected.POST("/disputes/:id/accept", disputeHandler.Accept)
		protected.POST("/disputes/:id/escalate", disputeHandler.Escalate)
		protected.POST("/disputes/:id/messages", disputeHandler.AppendMessage)

		// Seller reputation is visible to any authenticated user
		protected.GET("/sellers/:id/reputation", reputationHandler.GetScore)

		// Webhook subscriptions (scoped to the calling user; admins get all events)
		protected.POST("/webhooks", webhookHandler.Create)
		protected.GET("/webhooks", webhookHandler.List)
		protected.DELETE("/webhooks/:id", webhookHandler.Delete)
	}

	// ADMIN ROUTES
	admin := v1.Group("/admin")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireRole(auth.RoleAdmin))
	{
		admin.GET("/disputes/pending", disputeHandler.ListPendingReview)
		admin.POST("/disputes/:id/decision", disputeHandler.Decide)

		admin.GET("/sellers/:id/reputation/history", reputationHandler.GetHistory)

		admin.GET("/disbursements/:id", disburseHandler.Get)
		admin.GET("/disputes/:id/disbursement", disburseHandler.GetByDispute)
		admin.POST("/disbursements/:id/retry", disburseHandler.Retry)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthyAll, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthyAll {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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
		"name":        "Resolution",
		"description": "Dispute resolution workflow for marketplace orders",
		"version":     "0.1.0",
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
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start deadline sweep
	s.disputeTimer.Start(runCtx)

	// Start disbursement dispatch worker
	if s.disburseWork != nil {
		s.disburseWork.Start(runCtx)
	}

	// Collect DB pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	// Cancel the context for all background goroutines (hub, timer, worker)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.disputeTimer.Stop()
	s.logger.Info("deadline sweep stopped")

	if s.disburseWork != nil {
		s.disburseWork.Stop()
		s.logger.Info("disbursement worker stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

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

// -----------------------------------------------------------------------------
// Event fan-out
// -----------------------------------------------------------------------------

// fanoutEmitter forwards every domain event to both the webhook dispatcher
// and the realtime hub. Both targets are nil-safe and non-blocking.
type fanoutEmitter struct {
	wh *webhooks.Emitter
	rt *realtime.Emitter
}

var _ dispute.EventEmitter = (*fanoutEmitter)(nil)
var _ disbursement.EventEmitter = (*fanoutEmitter)(nil)

func (f *fanoutEmitter) DisputeOpened(d *dispute.Dispute) {
	f.wh.DisputeOpened(d)
	f.rt.DisputeOpened(d)
}

func (f *fanoutEmitter) SellerResponded(d *dispute.Dispute) {
	f.wh.SellerResponded(d)
	f.rt.SellerResponded(d)
}

func (f *fanoutEmitter) EscalatedToAdmin(d *dispute.Dispute, trigger string) {
	f.wh.EscalatedToAdmin(d, trigger)
	f.rt.EscalatedToAdmin(d, trigger)
}

func (f *fanoutEmitter) DisputeResolved(d *dispute.Dispute) {
	f.wh.DisputeResolved(d)
	f.rt.DisputeResolved(d)
}

func (f *fanoutEmitter) DisputeClosed(d *dispute.Dispute) {
	f.wh.DisputeClosed(d)
	f.rt.DisputeClosed(d)
}

func (f *fanoutEmitter) RefundSettled(r *disbursement.Request) {
	f.wh.RefundSettled(r)
	f.rt.RefundSettled(r)
}

func (f *fanoutEmitter) RefundFailed(r *disbursement.Request, terminal bool) {
	f.wh.RefundFailed(r, terminal)
	f.rt.RefundFailed(r, terminal)
}

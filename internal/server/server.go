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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/approvalguard/internal/chain"
	"github.com/mbd888/approvalguard/internal/config"
	"github.com/mbd888/approvalguard/internal/denylist"
	"github.com/mbd888/approvalguard/internal/enrich"
	"github.com/mbd888/approvalguard/internal/health"
	"github.com/mbd888/approvalguard/internal/logging"
	"github.com/mbd888/approvalguard/internal/metrics"
	"github.com/mbd888/approvalguard/internal/risk"
	"github.com/mbd888/approvalguard/internal/scan"
	"github.com/mbd888/approvalguard/internal/traces"
	"github.com/mbd888/approvalguard/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	scanService *scan.Service
	scanStore   scan.Store
	healthReg   *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc

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

// WithScanService injects a pre-built scan service (for testing)
func WithScanService(svc *scan.Service, store scan.Store) Option {
	return func(s *Server) {
		s.scanService = svc
		s.scanStore = store
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

	// Tracing (no-op when no endpoint configured)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTraces = shutdownTraces

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.scanStore == nil {
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
			pgStore := scan.NewPostgresStore(db)
			if err := pgStore.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate scan store", "error", err)
			}
			s.scanStore = pgStore
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

			s.healthReg.Register("database", func(ctx context.Context) health.Status {
				if err := db.PingContext(ctx); err != nil {
					return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
				}
				return health.Status{Name: "database", Healthy: true}
			})
		} else {
			s.scanStore = scan.NewMemoryStore()
			s.logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
		}
	}

	// Scan service (skipped when injected for tests)
	if s.scanService == nil {
		fetcher, err := chain.Dial(cfg.RPCURL, chain.Config{
			ChunkSize:     cfg.ScanChunkSize,
			MaxAttempts:   4,
			RetryBaseWait: 500 * time.Millisecond,
			TimestampConc: cfg.EnrichConcurrency,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to chain: %w", err)
		}

		deny, err := denylist.Load(cfg.DenylistPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load denylist: %w", err)
		}
		s.logger.Info("denylist loaded", "entries", deny.Size())

		ethClient, err := chain.DialRaw(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to chain: %w", err)
		}
		enricher := enrich.New(ethClient, deny, cfg.EnrichConcurrency, cfg.ScanCacheTTL, s.logger)

		engine := risk.NewEngine(risk.DefaultPolicy())
		s.scanService = scan.NewService(fetcher, enricher, engine, s.scanStore, scan.Config{
			ChainID:      cfg.ChainID,
			DefaultRange: cfg.ScanDefaultRange,
			CacheTTL:     cfg.ScanCacheTTL,
		}, s.logger)

		s.healthReg.Register("rpc", func(ctx context.Context) health.Status {
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if _, err := fetcher.LatestBlock(checkCtx); err != nil {
				return health.Status{Name: "rpc", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "rpc", Healthy: true}
		})
	}

	// Router
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

	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logging.WithLogger(c.Request.Context(), s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		// Health probes are noisy; keep them at debug
		level := slog.LevelInfo
		if c.FullPath() == "/health" || c.FullPath() == "/health/ready" || c.FullPath() == "/health/live" {
			level = slog.LevelDebug
		}
		s.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	v1 := s.router.Group("/v1")
	scan.NewHandler(s.scanService).RegisterRoutes(v1)
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":    healthy,
		"subsystems": statuses,
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if s.healthy.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if s.ready.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":     "approvalguard",
		"purpose":  "Read-only ERC-20 approval risk scanner",
		"chain_id": s.cfg.ChainID,
		"endpoints": []string{
			"POST /v1/scans",
			"GET /v1/scans/:id",
			"GET /v1/wallets/:address/report",
			"GET /v1/wallets/:address/reports",
			"GET /v1/wallets/:address/approvals",
		},
	})
}

// Run starts the server and blocks until a shutdown signal or fatal error.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute, // scans can take a while on slow RPC
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "chain_id", s.cfg.ChainID)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("server stopped")
	return firstErr
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

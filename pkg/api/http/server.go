package http

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/aescanero/dago-probe/internal/application/orchestrator"
	"github.com/aescanero/dago-probe/internal/application/workers"
	"github.com/aescanero/dago-probe/pkg/controller"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Server represents the HTTP server: the UI, and the simulated backend when enabled
type Server struct {
	router   *gin.Engine
	server   *http.Server
	ui       UIConfig
	sessions *sessionStore
	client   controller.HTTPDoer
	metrics  controller.Metrics
	// selfURL is the fallback platform root when the accepted address is unknown
	selfURL  string

	simulator *orchestrator.Manager
	pool      *workers.Pool
	taskHub   string

	logger *zap.Logger
}

// UIConfig configures the controller behind each UI session
type UIConfig struct {
	// BaseURL is the platform root; empty means this server's own address
	BaseURL        string
	Orchestrator   string
	Input          interface{}
	RewriteOrigin  bool
	// TrustForwarded honours X-Forwarded-Host and X-Forwarded-Proto for the
	// URLs shown to the caller. They never pick the host the server calls.
	TrustForwarded bool
	// ActionTimeout bounds one start or check round trip
	ActionTimeout  time.Duration
	SessionTTL     time.Duration
}

// Config holds HTTP server configuration
type Config struct {
	Port   int
	Logger *zap.Logger
	UI     UIConfig

	// HTTPClient is used by the UI controllers; defaults to a client with ActionTimeout
	HTTPClient controller.HTTPDoer
	Metrics    controller.Metrics
	// Gatherer backs /metrics; defaults to the global registry
	Gatherer prometheus.Gatherer

	// Simulator, when set, serves the orchestration endpoints from this process
	Simulator *orchestrator.Manager
	Pool      *workers.Pool
	TaskHub   string
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())
	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	if cfg.UI.ActionTimeout <= 0 {
		cfg.UI.ActionTimeout = 60 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.UI.ActionTimeout}
	}

	s := &Server{
		router:    router,
		ui:        cfg.UI,
		sessions:  newSessionStore(cfg.UI.SessionTTL),
		client:    client,
		metrics:   cfg.Metrics,
		selfURL:   fmt.Sprintf("http://127.0.0.1:%d", cfg.Port),
		simulator: cfg.Simulator,
		pool:      cfg.Pool,
		taskHub:   cfg.TaskHub,
		logger:    cfg.Logger,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s.setupRoutes(gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// UI
	s.router.GET("/", s.handleIndex)
	ui := s.router.Group("/ui")
	{
		ui.POST("/start", s.handleUIStart)
		ui.POST("/check", s.handleUICheck)
	}

	if s.simulator == nil {
		return
	}

	// Simulated orchestration platform
	s.router.POST("/api/orchestrators/:name", s.handleStartOrchestration)
	instances := s.router.Group(instancesPath)
	{
		instances.GET("/:id", s.handleGetInstanceStatus)
		instances.POST("/:id/terminate", s.handleTerminateInstance)
		instances.DELETE("/:id", s.handlePurgeInstance)
	}
}

// SetupWebSocket adds the instance status stream to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleInstanceStream(*gin.Context)
}) {
	s.router.GET(instancesPath+"/:id/ws", handler.HandleInstanceStream)
}

// Handler returns the root handler, for embedding in test servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.Bool("simulator", s.simulator != nil))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		// Status polls are frequent; keep them out of info logs
		if c.Writer.Status() < http.StatusBadRequest && c.Request.Method == http.MethodGet {
			logger.Debug("HTTP request", fields...)
			return
		}
		logger.Info("HTTP request", fields...)
	}
}

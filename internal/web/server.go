// Package web serves the alert ledger, pipeline status and the live
// record stream over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/scene-sentry/internal/config"
	"github.com/vzahanych/scene-sentry/internal/health"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/pipeline"
	"github.com/vzahanych/scene-sentry/internal/service"
	"github.com/vzahanych/scene-sentry/internal/state"
)

// AlertStore is the read side of the alert ledger
type AlertStore interface {
	ListAlerts(ctx context.Context, opts state.ListAlertsOptions) ([]state.AlertRecord, int, error)
	GetAlert(ctx context.Context, id string) (*state.AlertRecord, error)
}

// StatusProvider exposes pipeline counters
type StatusProvider interface {
	Stats() pipeline.Stats
}

// HealthReporter builds the health report
type HealthReporter interface {
	Check(ctx context.Context) health.HealthReport
}

// ResultResolver maps a saved alert path to a file that may be served
type ResultResolver interface {
	ResolveResult(path string) (string, error)
}

// RecordSource hands out subscriptions to the record stream
type RecordSource interface {
	Subscribe(buffer int) (<-chan []byte, func())
}

// SystemStateReader lists the ledger's key/value state
type SystemStateReader interface {
	SystemState(ctx context.Context) (map[string]string, error)
}

// Dependencies are the optional collaborators behind the API. Endpoints
// whose dependency is missing answer 503.
type Dependencies struct {
	Alerts   AlertStore
	Pipeline StatusProvider
	Health   HealthReporter
	Results  ResultResolver
	Records  RecordSource
	Services *service.Manager
	State    SystemStateReader
}

// Server is the HTTP/WebSocket surface
type Server struct {
	*service.ServiceBase
	config     config.WebConfig
	deps       Dependencies
	router     *gin.Engine
	hub        *Hub
	httpServer *http.Server
	version    string
	startTime  time.Time

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
}

// NewServer creates the web server and its routes
func NewServer(cfg config.WebConfig, deps Dependencies, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		deps:        deps,
		router:      gin.New(),
		version:     "dev",
		startTime:   time.Now(),
	}
	s.hub = NewHub(s.Logger())

	s.router.Use(ginLogger(s.Logger()))
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())
	s.setupRoutes()
	return s
}

// SetVersion sets the application version reported by /api/status
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// WriteTimeout stays 0: the WebSocket stream is long-lived.
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	if s.deps.Records != nil {
		lines, unsubscribe := s.deps.Records.Subscribe(256)
		go func() {
			defer unsubscribe()
			s.hub.Run(hubCtx, lines)
		}()
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", ln.Addr().String())
			s.Status().Fail(err)
		}
	}()

	s.Status().Set(service.StatusRunning)
	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	s.LogInfo("Stopping web server")
	cancel()
	s.hub.CloseAll()
	err := s.httpServer.Shutdown(ctx)
	s.Status().Set(service.StatusStopped)
	return err
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		alerts := api.Group("/alerts")
		{
			alerts.GET("", s.handleListAlerts)
			alerts.GET("/:id", s.handleGetAlert)
			alerts.GET("/:id/image", s.handleAlertImage)
		}
	}

	s.router.GET("/ws/events", s.handleEventStream)

	s.router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.Status(http.StatusNotFound)
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows dashboards on the local network to read the API
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Package api serves the read-only diagnostics surface of the engine: zone state,
// analyses, opportunities, plans, decisions, metrics and a live event stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"zone-position-engine/internal/auth"
	"zone-position-engine/internal/database"
	"zone-position-engine/internal/events"
	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/metrics"
	"zone-position-engine/internal/orchestrator"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// DecisionJournal is the read side of the decision journal
type DecisionJournal interface {
	GetRecentDecisions(ctx context.Context, limit int, closesOnly bool) ([]*database.DecisionRecord, error)
	GetExecutions(ctx context.Context, decisionID string) ([]*database.ExecutionRecord, error)
	GetMethodStats(ctx context.Context, since time.Time) ([]database.MethodStats, error)
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	logger     *logging.Logger
	started    time.Time

	orch    *orchestrator.Orchestrator
	metrics *metrics.Registry
	hub     *WSHub
	journal DecisionJournal
	jwt     *auth.JWTManager

	checksMu sync.RWMutex
	checks   map[string]HealthCheck
}

// NewServer creates a new API server. jwtManager and metricsReg may be nil; a nil
// jwtManager leaves the API unauthenticated.
func NewServer(
	config ServerConfig,
	orch *orchestrator.Orchestrator,
	eventBus *events.EventBus,
	metricsReg *metrics.Registry,
	jwtManager *auth.JWTManager,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger.WithComponent("api")))

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		config:  config,
		logger:  logger.WithComponent("api"),
		started: time.Now(),
		orch:    orch,
		metrics: metricsReg,
		hub:     NewWSHub(logger),
		jwt:     jwtManager,
		checks:  make(map[string]HealthCheck),
	}

	if eventBus != nil {
		eventBus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

// SetJournal attaches the decision journal read endpoints
func (s *Server) SetJournal(j DecisionJournal) {
	s.journal = j
}

// AddHealthCheck registers a dependency probe reported by /health
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checksMu.Lock()
	s.checks[name] = check
	s.checksMu.Unlock()
}

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	ws := s.router.Group("/ws")
	if s.jwt != nil {
		api.Use(auth.Middleware(s.jwt))
		ws.Use(auth.Middleware(s.jwt))
	}

	api.GET("/zones", s.handleGetZones)
	api.GET("/zones/summary", s.handleGetZoneSummary)
	api.GET("/zones/:id", s.handleGetZone)
	api.GET("/analysis", s.handleGetAnalysis)
	api.GET("/opportunities", s.handleGetOpportunities)
	api.GET("/plans", s.handleGetPlans)
	api.GET("/decisions", s.handleGetDecisions)
	api.GET("/decisions/latest", s.handleGetLatestDecision)
	api.GET("/journal/decisions", s.handleGetJournalDecisions)
	api.GET("/journal/decisions/:id/executions", s.handleGetJournalExecutions)
	api.GET("/journal/stats", s.handleGetJournalStats)

	ws.GET("", s.hub.HandleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout, writeTimeout := s.config.ReadTimeout, s.config.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.hub.Close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	s.checksMu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	s.checksMu.RUnlock()
	sort.Strings(names)

	status := "healthy"
	deps := make(map[string]string, len(names))
	for _, name := range names {
		s.checksMu.RLock()
		check := s.checks[name]
		s.checksMu.RUnlock()

		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "healthy"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"dependencies": deps,
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"ws_clients":   s.hub.GetClientCount(),
	})
}

// requestLogger logs each request at debug level and failures at warn
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if status >= http.StatusBadRequest {
			logger.Warn("request failed", kv...)
			return
		}
		logger.Debug("request served", kv...)
	}
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// Package api implements the gateway's HTTP surface: gin routes for each
// inbound dialect, the model-list endpoints, and the usage/key-info
// introspection endpoints, wired through internal/api/middleware's audit
// and auth middleware into internal/dispatch.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apimw "github.com/axiomrelay/gateway/internal/api/middleware"
	"github.com/axiomrelay/gateway/internal/apikey"
	"github.com/axiomrelay/gateway/internal/audit"
	"github.com/axiomrelay/gateway/internal/costrank"
	"github.com/axiomrelay/gateway/internal/dispatch"
	"github.com/axiomrelay/gateway/internal/observability"
	"github.com/axiomrelay/gateway/internal/registry"
	"github.com/axiomrelay/gateway/internal/usage"
)

// Server owns the gin engine and the dependencies its handlers close over.
type Server struct {
	engine *gin.Engine

	keys      *apikey.Repository
	limiter   *apikey.RateLimiter
	gate      *apikey.ConcurrencyGate
	dispatcher *dispatch.Dispatcher
	ledger    *usage.Ledger
	costRank  *costrank.Service
	models  *registry.Registry
	live    *LiveHub
	metrics *observability.Metrics
	trail   *audit.Trail
}

// Config wires Server's dependencies. Debug toggles gin's debug/release mode.
type Config struct {
	Keys       *apikey.Repository
	Limiter    *apikey.RateLimiter
	Gate       *apikey.ConcurrencyGate
	Dispatcher *dispatch.Dispatcher
	Ledger     *usage.Ledger
	CostRank   *costrank.Service
	Models  *registry.Registry
	Live    *LiveHub
	Metrics *observability.Metrics
	Trail   *audit.Trail
	Debug   bool
}

// NewServer builds a Server and registers every route.
func NewServer(cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.Trail == nil {
		cfg.Trail = audit.NewTrail(audit.DefaultConfig())
	}
	engine.Use(apimw.AuditMiddleware(cfg.Trail))

	s := &Server{
		engine:     engine,
		keys:       cfg.Keys,
		limiter:    cfg.Limiter,
		gate:       cfg.Gate,
		dispatcher: cfg.Dispatcher,
		ledger:     cfg.Ledger,
		costRank:   cfg.CostRank,
		models:     cfg.Models,
		live:       cfg.Live,
		metrics:    cfg.Metrics,
		trail:      cfg.Trail,
	}
	s.registerRoutes()
	return s
}

func (s *Server) auth(required apikey.Permission) gin.HandlerFunc {
	return apimw.AuthMiddleware(s.keys, s.limiter, s.gate, s.ledger, required)
}

func (s *Server) registerRoutes() {
	chat := s.auth(apikey.PermissionChat)

	for _, p := range []string{"/v1/messages", "/messages"} {
		s.engine.POST(p, chat, s.handleAnthropicMessages)
	}
	s.engine.POST("/v1/chat/completions", chat, s.handleOpenAIChat)
	for _, p := range []string{"/responses", "/v1/responses", "/responses/compact", "/v1/responses/compact"} {
		s.engine.POST(p, chat, s.handleCodexResponses)
	}
	s.engine.POST("/v1beta/models/:model", chat, s.handleGeminiAction)

	models := s.auth(apikey.PermissionModels)
	for _, p := range []string{"/v1beta/models", "/v1/models", "/models"} {
		s.engine.GET(p, models, s.handleListModels)
	}

	s.engine.POST("/v1internal:generateContent", chat, s.handleGeminiInternal)
	s.engine.POST("/v1internal:streamGenerateContent", chat, s.handleGeminiInternal)
	s.engine.POST("/v1internal:countTokens", chat, s.handleGeminiInternal)
	s.engine.POST("/v1internal:loadCodeAssist", chat, s.handleGeminiInternal)

	introspect := s.auth(apikey.PermissionChat)
	s.engine.GET("/usage", introspect, s.handleUsage)
	s.engine.GET("/key-info", introspect, s.handleKeyInfo)

	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/admin/live", s.serveLiveWS)
	s.engine.GET("/admin/audit", s.handleAuditTrail)

	s.metrics.Register(s.engine)
}

// Handler exposes the gin engine as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// handleAuditTrail implements GET /admin/audit: the most recent relay
// requests, newest first. ?limit= bounds the page (default 100).
func (s *Server) handleAuditTrail(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": s.trail.Recent(limit)})
}

func currentApiKey(c *gin.Context) (*apikey.ApiKey, bool) {
	return apimw.KeyFromContext(c)
}

func requestContext(c *gin.Context) context.Context { return c.Request.Context() }

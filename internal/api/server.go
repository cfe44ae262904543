// Package api exposes the validation engine over a local HTTP JSON API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentwarden/agentwarden/internal/config"
	"github.com/agentwarden/agentwarden/internal/logger"
	"github.com/agentwarden/agentwarden/internal/validation"
)

var log = logger.New("api")

// Server wraps the validation engine behind an HTTP router.
type Server struct {
	engine *validation.Engine
	addr   string
	router *gin.Engine
	http   *http.Server
}

// NewServer builds a server around an existing engine. The engine's caches
// are shared with any other consumer of the same instance.
func NewServer(engine *validation.Engine, settings *config.Settings) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(securityHeaders())
	router.Use(bodySizeLimit(MaxBodySize))

	addr := "127.0.0.1:9415"
	if settings != nil && settings.ListenAddr != "" {
		addr = settings.ListenAddr
	}

	s := &Server{engine: engine, addr: addr, router: router}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/validate", s.handleValidate)
		v1.POST("/validate/batch", s.handleValidateBatch)
		v1.POST("/stats", s.handleStats)
		v1.GET("/progress", s.handleProgress)

		cache := v1.Group("/cache")
		{
			cache.GET("/stats", s.handleCacheStats)
			cache.POST("/flush", s.handleCacheFlush)
		}
	}
}

// Serve blocks until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening on http://%s", s.addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info("server stopped")
		return nil
	}
}

// ValidateRequest carries one configuration plus per-call options.
type ValidateRequest struct {
	Config  *config.PermissionConfig `json:"config" binding:"required"`
	Options validation.Options       `json:"options"`
}

// BatchRequest carries several configurations validated together.
type BatchRequest struct {
	ID      string                     `json:"id"`
	Configs []*config.PermissionConfig `json:"configs" binding:"required,min=1,max=100"`
	Options validation.Options         `json:"options"`
}

// StatsRequest carries a configuration to summarize.
type StatsRequest struct {
	Config *config.PermissionConfig `json:"config" binding:"required"`
}

func (s *Server) handleValidate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	success(c, s.engine.Validate(c.Request.Context(), req.Config, req.Options))
}

func (s *Server) handleValidateBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	id := req.ID
	if id == "" {
		id = "batch-" + time.Now().UTC().Format("20060102T150405")
	}
	success(c, s.engine.ValidateBatch(c.Request.Context(), id, req.Configs, req.Options))
}

func (s *Server) handleStats(c *gin.Context) {
	var req StatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	success(c, validation.GetRuleStatistics(req.Config))
}

func (s *Server) handleProgress(c *gin.Context) {
	success(c, s.engine.Progress())
}

func (s *Server) handleCacheStats(c *gin.Context) {
	success(c, s.engine.CacheStats())
}

func (s *Server) handleCacheFlush(c *gin.Context) {
	dropped := s.engine.FlushCache()
	log.Info("cache flushed, %d entries dropped", dropped)
	success(c, gin.H{"flushed": dropped})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Package server exposes the runner registry over HTTP and WebSocket.
//
// Endpoints:
//
//	GET  /health                    liveness
//	GET  /languages                 supported languages in display order
//	GET  /languages/:id/example     placeholder and example program
//	POST /languages/:id/cleanup     discard the language's sandbox
//	POST /execute                   run code, respond with events and result
//	GET  /ws                        run code, stream events as they happen
//	GET  /metrics                   Prometheus metrics
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/config"
	"github.com/houyanchao/coderun/internal/app"
	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/sandbox"
)

type Server struct {
	app      *app.App
	cfg      config.ServerConfig
	log      *zap.Logger
	gatherer prometheus.Gatherer
	limiter  *clientLimiter
	engine   *gin.Engine
	http     *http.Server
}

// New builds the router. gatherer may be nil to disable /metrics.
func New(a *app.App, cfg config.ServerConfig, log *zap.Logger, gatherer prometheus.Gatherer) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{app: a, cfg: cfg, log: log, gatherer: gatherer}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.GET("/health", s.health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/")
	if cfg.RateLimitRPS > 0 {
		s.limiter = newClientLimiter(cfg.RateLimitRPS, cfg.Burst)
		api.Use(rateLimit(s.limiter))
	}
	api.GET("/languages", s.languages)
	api.GET("/languages/:id/example", s.example)
	api.POST("/languages/:id/cleanup", s.cleanup)
	api.POST("/execute", s.execute)
	api.GET("/ws", s.handleWS)

	s.engine = r
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on the configured address in the background.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("starting HTTP server", zap.String("addr", s.cfg.Addr))
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": s.app.Registry.SupportedLanguages()})
}

func (s *Server) example(c *gin.Context) {
	r, ok := s.app.Registry.Runner(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unsupported language"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          r.Language(),
		"placeholder": r.Placeholder(),
		"example":     r.ExampleCode(),
	})
}

func (s *Server) cleanup(c *gin.Context) {
	r, ok := s.app.Registry.Runner(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unsupported language"})
		return
	}
	if err := r.Cleanup(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type executeRequest struct {
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code"`
	TimeoutMs int64  `json:"timeout_ms"`
}

type executeResponse struct {
	Result     sandbox.Result   `json:"result"`
	DurationMs float64          `json:"duration_ms"`
	Events     []protocol.Event `json:"events"`
}

// check validates a request and reports the HTTP status to reject it with.
func (s *Server) check(req executeRequest) (int, error) {
	if s.cfg.MaxCodeBytes > 0 && len(req.Code) > s.cfg.MaxCodeBytes {
		return http.StatusRequestEntityTooLarge, errors.New("code too large")
	}
	if req.TimeoutMs < 0 {
		return http.StatusBadRequest, errors.New("timeout_ms must not be negative")
	}
	if !s.app.Registry.IsSupported(req.Language) {
		return http.StatusNotFound, errors.New("unsupported language")
	}
	return 0, nil
}

func (s *Server) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if status, err := s.check(req); err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	res, events, err := s.app.Collect(c.Request.Context(), req.Language, req.Code, sandbox.Options{
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []protocol.Event{}
	}
	c.JSON(http.StatusOK, executeResponse{Result: res, DurationMs: res.DurationMs(), Events: events})
}

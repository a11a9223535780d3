// Package server exposes pricing, implied volatility and surface snapshots
// over a gin REST API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contactkeval/iv-surface/internal/engine"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/metrics"
	"github.com/contactkeval/iv-surface/internal/pricing"
	"github.com/contactkeval/iv-surface/internal/surface"
)

// Options configures the HTTP listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server routes REST requests to an engine.
type Server struct {
	engine  *engine.Engine
	solver  *pricing.Solver
	grid    surface.GridOptions
	metrics *metrics.Metrics
	router  *gin.Engine
}

// New builds the router. grid holds the defaults for surface requests; m may
// be nil, in which case /metrics is not served.
func New(e *engine.Engine, grid surface.GridOptions, m *metrics.Metrics) *Server {
	s := &Server{
		engine:  e,
		solver:  pricing.NewSolver(e.Config().Solver),
		grid:    grid,
		metrics: m,
		router:  gin.New(),
	}
	s.router.Use(recovery(), requestLogger(), httpMetrics(m))
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes binds every handler to router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", s.Health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.POST("/price", s.Price)
		api.POST("/greeks", s.Greeks)
		api.POST("/iv", s.ImpliedVolatility)
		api.GET("/surface/:symbol", s.Surface)
		api.GET("/snapshots", s.ListSymbols)
		api.GET("/snapshots/:symbol", s.ListSnapshots)
		api.POST("/snapshots/:symbol", s.TakeSnapshot)
		api.GET("/snapshots/:symbol/:timestamp", s.GetSnapshot)
		api.GET("/rv/:symbol", s.RealizedVsImplied)
	}
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, opts Options) error {
	srv := &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("REST server listening on %s", opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Infof("REST server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

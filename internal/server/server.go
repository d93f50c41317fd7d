package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FranksOps/shopsage/internal/metrics"
	"github.com/FranksOps/shopsage/internal/product"
)

const (
	serviceName    = "ShopSage API"
	serviceVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 1 << 20
)

// Recommender runs the full recommendation pipeline.
type Recommender interface {
	Run(ctx context.Context, question string) (product.Recommendation, error)
}

// Searcher is the Scout contract.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]product.RawCandidate, error)
}

// Ranker is the Judge contract.
type Ranker interface {
	Judge(ctx context.Context, question string, cands []product.Candidate) (product.Verdict, error)
}

// Server exposes the pipeline and its agents over HTTP.
type Server struct {
	pipeline Recommender
	scout    Searcher
	judge    Ranker
	logger   *slog.Logger
	engine   *gin.Engine
}

// New builds the HTTP server and its routes.
func New(pipeline Recommender, scout Searcher, judge Ranker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		pipeline: pipeline,
		scout:    scout,
		judge:    judge,
		logger:   logger,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(logger), crossOrigin, limitBody(maxBodyBytes))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/recommend", s.handleRecommend)
	s.engine.POST("/search", s.handleSearch)
	s.engine.POST("/analyze", s.handleAnalyze)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.engine.GET("/openapi.json", s.handleOpenAPI)
	s.engine.GET("/docs", s.handleDocs)
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then drains in-flight
// requests for up to 10 seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// crossOrigin allows any origin, method and header and answers preflights.
func crossOrigin(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	if req := c.GetHeader("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	} else {
		h.Set("Access-Control-Allow-Headers", "*")
	}
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// limitBody caps request bodies at n bytes.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

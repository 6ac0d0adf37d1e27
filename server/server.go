// Package server exposes the widget builder over a gin HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spektr-org/widgetkit/engine"
	"github.com/spektr-org/widgetkit/session"
	"github.com/spektr-org/widgetkit/source"
	"github.com/spektr-org/widgetkit/synth"
)

// ============================================================================
// HTTP SERVER — gin router, middleware, lifecycle
// ============================================================================

// Server wires the editing core to HTTP.
type Server struct {
	router     *gin.Engine
	sessions   *session.Manager
	synth      *synth.Synthesizer
	src        source.DataSource
	engineOpts []engine.Option
	logger     *zap.Logger
	registry   *prometheus.Registry
	timeout    time.Duration
	fetchLimit int

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Option configures a Server.
type Option func(*Server)

// WithSessions sets the session manager. Default is an in-memory manager
// sharing the server's source and synthesizer.
func WithSessions(m *session.Manager) Option {
	return func(s *Server) { s.sessions = m }
}

// WithSynthesizer sets the synthesizer behind /v1/suggest.
func WithSynthesizer(sy *synth.Synthesizer) Option {
	return func(s *Server) { s.synth = sy }
}

// WithSource sets the source used by /v1/preview when no rows are posted.
func WithSource(src source.DataSource) Option {
	return func(s *Server) { s.src = src }
}

// WithEngineOptions passes options to stateless previews.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Server) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry sets the Prometheus registry served on /metrics. The
// server's HTTP instruments are registered on it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithRequestTimeout bounds each request's context. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithFetchLimit caps rows fetched by stateless previews.
func WithFetchLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.fetchLimit = n
		}
	}
}

// New builds the server and its routes.
func New(opts ...Option) *Server {
	s := &Server{
		logger:     zap.NewNop(),
		registry:   prometheus.NewRegistry(),
		fetchLimit: session.DefaultFetchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.synth == nil {
		s.synth = synth.New(nil, synth.WithSource(s.src), synth.WithLogger(s.logger))
	}
	if s.sessions == nil {
		s.sessions = session.NewManager(session.NewMemoryStore(), s.logger,
			session.WithSource(s.src),
			session.WithSynthesizer(s.synth),
			session.WithEngineOptions(s.engineOpts...))
	}

	f := promauto.With(s.registry)
	s.requests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "widgetkit",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
	s.latency = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "widgetkit",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe(), s.withTimeout())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.POST("/validate", s.handleValidate)
	v1.POST("/compile", s.handleCompile)
	v1.POST("/preview", s.handlePreview)
	v1.POST("/suggest", s.handleSuggest)

	sessions := v1.Group("/sessions")
	sessions.POST("", s.handleCreateSession)
	sessions.GET("/:id", s.handleGetSession)
	sessions.DELETE("/:id", s.handleDeleteSession)
	sessions.PUT("/:id/config", s.handleSetConfig)
	sessions.PUT("/:id/blocks", s.handleSetBlocks)
	sessions.POST("/:id/blocks", s.handleUpsertBlock)
	sessions.PUT("/:id/blocks/:blockId/enabled", s.handleSetBlockEnabled)
	sessions.DELETE("/:id/blocks/:blockId", s.handleRemoveBlock)
	sessions.POST("/:id/refresh", s.handleRefresh)
	sessions.POST("/:id/suggest", s.handleSessionSuggest)
	sessions.POST("/:id/accept", s.handleAccept)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Sessions exposes the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Run serves on addr until ctx is done, then shuts down within grace.
func (s *Server) Run(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

// observe logs every request and records the HTTP metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		s.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		s.latency.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Warn("request failed", fields...)
		default:
			s.logger.Debug("request", fields...)
		}
	}
}

func (s *Server) withTimeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

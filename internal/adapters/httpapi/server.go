// Package httpapi exposes the record service over a JSON HTTP API built on
// echo. The offline asset cache, when configured, serves every path the API
// does not claim.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"hujra/internal/config"
	"hujra/internal/core"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options wires the server's collaborators.
type Options struct {
	Config  config.HTTPConfig
	Service *core.Service
	Logger  *zap.Logger
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Assets serves non-API paths; nil means 404.
	Assets http.Handler
}

// Server is the API server.
type Server struct {
	opts   Options
	app    *echo.Echo
	logger *zap.Logger
}

// NewServer builds the echo app and registers every route.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:   opts,
		app:    echo.New(),
		logger: logger.Named("http"),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.HTTPErrorHandler = newErrorHandler(s.logger)

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestID())
	s.app.Use(requestLogger(s.logger))
	s.app.Use(middleware.Recover())
	if s.opts.Config.BodyLimit != "" {
		s.app.Use(middleware.BodyLimit(s.opts.Config.BodyLimit))
	}

	api := s.app.Group("/api")
	h := &handlers{svc: s.opts.Service}

	api.GET("/students", h.listStudents)
	api.POST("/students", h.createStudent)
	api.GET("/students/:id", h.getStudent)
	api.PUT("/students/:id", h.updateStudent)
	api.DELETE("/students/:id", h.deleteStudent)
	api.GET("/students/:id/visits", h.studentVisits)
	api.POST("/students/:id/analysis", h.analyzeStudent)

	api.GET("/visits", h.listVisits)
	api.POST("/visits", h.createVisit)
	api.PUT("/visits/:id", h.updateVisit)
	api.DELETE("/visits/:id", h.deleteVisit)
	api.POST("/visits/record", h.recordVisit)

	api.GET("/backup", h.exportBackup)
	api.POST("/backup/import", h.importBackup)
	api.GET("/backup/archives", h.listArchives)
	api.POST("/backup/archives", h.archiveBackup)
	api.POST("/backup/archives/restore", h.restoreArchive)

	api.GET("/report", h.report)

	if s.opts.Gatherer != nil {
		s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	s.app.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	if s.opts.Assets != nil {
		s.app.Any("/*", echo.WrapHandler(s.opts.Assets))
	}
}

// Start serves until the listener fails or Stop is called. A clean
// shutdown returns nil.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.opts.Config.Addr,
		Handler:      s.app,
		ReadTimeout:  s.opts.Config.ReadTimeout,
		WriteTimeout: s.opts.Config.WriteTimeout,
	}
	s.logger.Info("listening", zap.String("addr", srv.Addr))
	if err := s.app.StartServer(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler set the final status before logging
				c.Error(err)
			}
			req := c.Request()
			logger.Debug("request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/gripnet/grip/internal/metrics"
	"github.com/gripnet/grip/pkg/logger"
)

// StatusSource reports the state of the request module
type StatusSource interface {
	Ready() bool
	Pending() int
}

// Options configures the admin server
type Options struct {
	Port       int
	Registerer prometheus.Registerer // HTTP middleware metrics, defaults to prometheus.DefaultRegisterer
	Gatherer   prometheus.Gatherer   // served on /metrics, defaults to prometheus.DefaultGatherer
}

// Server exposes liveness, readiness, status and Prometheus metrics of a
// running host. It never touches the request path of the module.
type Server struct {
	echo      *echo.Echo
	port      int
	readiness *atomic.Bool
	source    StatusSource
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Ready              bool `json:"ready"`
	PendingCompletions int  `json:"pending_completions"`
}

// NewServer builds the admin server. readiness is flipped by the host around
// module init and shutdown.
func NewServer(opts Options, readiness *atomic.Bool, source StatusSource) *Server {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		port:      opts.Port,
		readiness: readiness,
		source:    source,
	}

	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  metrics.Namespace,
		Subsystem:  "admin",
		Registerer: opts.Registerer,
	}))

	e.GET("/healthz", s.HandleLiveness)
	e.GET("/readyz", s.HandleReadiness)
	e.GET("/status", s.HandleStatus)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: opts.Gatherer,
	}))

	return s
}

// HandleLiveness handles GET /healthz and always returns 200 OK
func (s *Server) HandleLiveness(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// HandleReadiness handles GET /readyz.
// Returns 200 OK while the module accepts requests, 503 otherwise.
func (s *Server) HandleReadiness(c echo.Context) error {
	if s.ready() {
		return c.NoContent(http.StatusOK)
	}
	return c.NoContent(http.StatusServiceUnavailable)
}

// HandleStatus handles GET /status
func (s *Server) HandleStatus(c echo.Context) error {
	resp := StatusResponse{Ready: s.ready()}
	if s.source != nil {
		resp.PendingCompletions = s.source.Pending()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) ready() bool {
	if !s.readiness.Load() {
		return false
	}
	return s.source == nil || s.source.Ready()
}

// ServeHTTP lets the server be exercised without a listener
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens in the background. Listener errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.port)
	go func() {
		logger.Info("Starting admin server on %s", addr)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server error: %v", err)
		}
	}()
}

// Shutdown stops the listener, waiting for active requests until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down admin server...")
	return s.echo.Shutdown(ctx)
}

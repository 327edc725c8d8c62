package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/device"
	"github.com/nerrad567/warden-core/internal/infrastructure/config"
	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
	"github.com/nerrad567/warden-core/internal/metrics"
	"github.com/nerrad567/warden-core/internal/ratelimit"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Telemetry is the subset of the InfluxDB client the API writes to.
type Telemetry interface {
	WriteLoginLatency(tenantID string, success bool, d time.Duration, at time.Time)
	WriteRateLimited(scope string, at time.Time)
}

type noopTelemetry struct{}

func (noopTelemetry) WriteLoginLatency(string, bool, time.Duration, time.Time) {}
func (noopTelemetry) WriteRateLimited(string, time.Time)                       {}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Auth      *auth.Service
	Devices   *device.Registry
	Audit     audit.Repository
	Events    auth.EventSink
	Limiter   *ratelimit.SlidingWindow // nil disables rate limiting
	Metrics   *metrics.Metrics
	Hub       *Hub
	Tickets   *TicketStore
	Telemetry Telemetry
	Health    []HealthChecker
	Version   string
}

// HealthChecker is a named dependency probed by /health.
type HealthChecker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP API server for Warden Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	auth      *auth.Service
	devices   *device.Registry
	audit     audit.Repository
	events    auth.EventSink
	limiter   *ratelimit.SlidingWindow
	metrics   *metrics.Metrics
	telemetry Telemetry
	health    []HealthChecker
	version   string
	server    *http.Server
	hub       *Hub
	tickets   *TicketStore
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if deps.Devices == nil {
		return nil, errors.New("device registry is required")
	}
	if deps.Metrics == nil {
		return nil, errors.New("metrics are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		auth:      deps.Auth,
		devices:   deps.Devices,
		audit:     deps.Audit,
		events:    deps.Events,
		limiter:   deps.Limiter,
		metrics:   deps.Metrics,
		telemetry: deps.Telemetry,
		health:    deps.Health,
		version:   deps.Version,
		hub:       deps.Hub,
		tickets:   deps.Tickets,
	}
	if s.events == nil {
		s.events = auth.NopSink{}
	}
	if s.telemetry == nil {
		s.telemetry = noopTelemetry{}
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger, s.metrics)
	}
	if s.tickets == nil {
		s.tickets = NewTicketStore(ticketTTL)
	}
	return s, nil
}

// Hub returns the WebSocket hub so it can be registered as an event sink.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the fully wired router. Used by Start and by tests.
func (s *Server) Handler() http.Handler { return s.buildRouter() }

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket sweeper, then launches the
// HTTP listener in a background goroutine. The server can be stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

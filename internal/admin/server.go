// Package admin serves the devtools HTTP API: mock mode toggle, service
// introspection, metrics and health probes.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avapiclient/internal/event"
	"github.com/vyrodovalexey/avapiclient/internal/health"
	"github.com/vyrodovalexey/avapiclient/internal/mock"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/service"
)

// Deps are the components the API exposes. Metrics and Health are optional.
type Deps struct {
	Services *service.Registry
	Bus      *event.Bus
	Mock     *mock.Sync
	Metrics  *observability.Metrics
	Health   *health.Checker
}

// Server is the admin HTTP server.
type Server struct {
	address string
	deps    Deps
	logger  observability.Logger
	engine  *gin.Engine
	server  *http.Server
	addr    atomic.Value
	running atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates an admin server listening on address once started.
func New(address string, deps Deps, opts ...Option) *Server {
	s := &Server{
		address: address,
		deps:    deps,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(recovery(s.logger), accessLog(s.logger))
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("admin server is already running")
	}

	s.server = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.addr.Store(ln.Addr().String())

	s.logger.Info("admin server started",
		observability.String("address", ln.Addr().String()),
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", observability.Error(err))
		}
		s.running.Store(false)
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping admin server")
	if err := s.server.Shutdown(ctx); err != nil {
		if closeErr := s.server.Close(); closeErr != nil {
			return errors.Join(err, closeErr)
		}
		return err
	}
	return nil
}

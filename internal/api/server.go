// Package api provides the HTTP REST API and WebSocket server for Free Sleep Core.
//
// It exposes the pod's entity model, command submission, connection health,
// and state history to user interfaces (dashboards, mobile apps, scripts).
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/freesleephq/freesleep-core/internal/entity"
	"github.com/freesleephq/freesleep-core/internal/history"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/config"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/logging"
	"github.com/freesleephq/freesleep-core/internal/pod"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Commander accepts validated commands for delivery to the pod.
type Commander interface {
	SubmitCommand(scope pod.Scope, field pod.Field, value any) (pod.PendingCommand, error)
}

// Executor forwards raw firmware commands, bypassing the pending queue.
type Executor interface {
	Execute(ctx context.Context, command, value string) (map[string]any, error)
}

// Scheduler writes nightly sleep programs to the pod.
type Scheduler interface {
	SetSchedule(ctx context.Context, sides []pod.Side, days []string, sched pod.SideSchedule) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Cache serves reads; Reconciler serves health, refresh, and pending
	// command queries.
	Cache      *pod.Cache
	Reconciler *pod.Reconciler

	// Binder resolves entity lookups and routes entity commands.
	Binder *entity.Binder

	// Commander accepts raw scope/field commands (POST /pod/commands).
	Commander Commander

	// Executor and Scheduler are optional; without them POST /pod/execute
	// and POST /pod/schedule return 404.
	Executor  Executor
	Scheduler Scheduler

	// Snapshots and Commands are optional; without them the history
	// endpoints return 404.
	Snapshots history.SnapshotRepository
	Commands  history.CommandLogRepository

	// ExternalHub, if set, is used instead of creating a hub internally.
	// The caller wires snapshot broadcasts into it before the server starts.
	ExternalHub *Hub

	Version string
}

// Server is the HTTP API server for Free Sleep Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	cache      *pod.Cache
	reconciler *pod.Reconciler
	binder     *entity.Binder
	commander  Commander
	executor   Executor
	scheduler  Scheduler
	snapshots  history.SnapshotRepository
	commands   history.CommandLogRepository
	version    string

	server      *http.Server
	hub         *Hub
	externalHub bool
	tickets     *ticketStore
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, cache, reconciler, binder)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("state cache is required")
	}
	if deps.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if deps.Binder == nil {
		return nil, fmt.Errorf("entity binder is required")
	}
	if deps.Commander == nil {
		return nil, fmt.Errorf("commander is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		cache:      deps.Cache,
		reconciler: deps.Reconciler,
		binder:     deps.Binder,
		commander:  deps.Commander,
		executor:   deps.Executor,
		scheduler:  deps.Scheduler,
		snapshots:  deps.Snapshots,
		commands:   deps.Commands,
		version:    deps.Version,
		tickets:    newTicketStore(),
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub. Nil until Start() unless an
// external hub was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of background goroutines
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)

	// Periodic ticket cleanup so abandoned tickets don't accumulate.
	go s.tickets.cleanLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup)
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

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/artpar/watchtower-agent/internal/core/agentconfig"
	"github.com/artpar/watchtower-agent/internal/core/eventmodel"
	"github.com/artpar/watchtower-agent/internal/shell/api"
	"github.com/artpar/watchtower-agent/internal/shell/configstore"
	"github.com/artpar/watchtower-agent/internal/shell/eventbus"
	"github.com/artpar/watchtower-agent/internal/shell/monitor"
	"github.com/artpar/watchtower-agent/internal/shell/registry"
	"github.com/artpar/watchtower-agent/internal/shell/runtime"
	"github.com/artpar/watchtower-agent/internal/shell/updateengine"
)

// Exit codes, per the agent's documented startup contract.
const (
	ExitSuccess            = 0
	ExitConfigError        = 1
	ExitRuntimeInitFailure = 2
	ExitAbort              = 3
)

// DefaultHistoryCapacity bounds the in-memory Update Record history kept
// by the Update Engine, independent of the event ring's own capacity.
const DefaultHistoryCapacity = 256

// Server wires the Runtime Adapter, Container Registry, Event Bus,
// Monitor Loop, Update Engine, and Control Surface together and owns
// their combined startup and shutdown sequencing.
type Server struct {
	config     *Config
	httpServer *http.Server
	adapter    *runtime.DockerAdapter
	bus        *eventbus.Bus
	monitor    *monitor.Loop
	engine     *updateengine.Engine
	agentID    string
	logger     *slog.Logger
}

// NewServer connects to the container daemon and constructs every
// component in dependency order: Runtime Adapter, Registry, Event Bus,
// configstore, Monitor Loop, Update Engine, then the Control Surface on
// top.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	adapter, err := runtime.NewDockerAdapter(cfg.Runtime.Endpoint)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitRuntimeInitFailure}
	}
	if err := adapter.Ping(context.Background()); err != nil {
		adapter.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitRuntimeInitFailure}
	}

	reg := registry.New()
	bus := eventbus.New(cfg.Agent.EventBufferSize)

	initial := agentconfig.Config{
		CheckInterval:      cfg.Agent.CheckInterval,
		UpdateInterval:     cfg.Agent.UpdateInterval,
		AutoUpdate:         cfg.Agent.AutoUpdate,
		Cleanup:            cfg.Agent.Cleanup,
		LabelFilter:        cfg.Agent.LabelFilter,
		EventBufferSize:    cfg.Agent.EventBufferSize,
		MaxParallelUpdates: cfg.Agent.MaxParallelUpdates,
	}
	if err := agentconfig.Validate(initial); err != nil {
		adapter.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}
	store := configstore.New(initial)

	mon := monitor.New(adapter, reg, bus, store, logger)

	engine := updateengine.New(adapter, reg, bus, store, DefaultHistoryCapacity, logger)
	mon.SetUpdatingLookup(engine.IsUpdating)

	handler := api.New(reg, bus, engine, adapter, store, mon.LastCheckAt, logger)

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		adapter: adapter,
		bus:     bus,
		monitor: mon,
		engine:  engine,
		agentID: uuid.New().String(),
		logger:  logger,
	}, nil
}

// Start runs the server until a shutdown signal or context cancellation,
// then drains every background component before returning.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	hostname, _ := os.Hostname()
	s.bus.Emit(eventmodel.KindAgentStarted, "", map[string]any{
		"agent_id": s.agentID, "hostname": hostname,
	})

	s.monitor.Start()
	s.engine.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting control surface", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitRuntimeInitFailure}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown stops the Control Surface, then the Update Engine and Monitor
// Loop, then closes the runtime adapter's connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("control surface shutdown error", "error", err)
	}

	s.engine.Stop()
	s.monitor.Stop()

	if err := s.adapter.Close(); err != nil {
		s.logger.Error("runtime adapter close error", "error", err)
	}

	hostname, _ := os.Hostname()
	s.bus.Emit(eventmodel.KindAgentStopped, "", map[string]any{
		"agent_id": s.agentID, "hostname": hostname,
	})

	s.logger.Info("shutdown complete")
	return nil
}

// ServerError represents an error during server construction or
// operation, carrying the process exit code it should produce.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

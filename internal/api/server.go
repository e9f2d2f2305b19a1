// Package api provides the HTTP REST API and WebSocket server for Hearth
// Core.
//
// It exposes CRUD over rooms, devices, rules and scenes, read access to
// device state and the execution audit trail, manual scene activation, and a
// WebSocket feed of state changes and finalized executions.
//
// The server follows the same lifecycle pattern as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthd/hearth-core/internal/audit"
	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/device"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/logging"
	"github.com/hearthd/hearth-core/internal/room"
	"github.com/hearthd/hearth-core/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SceneActivator runs a scene outside any rule. Implemented by the engine.
type SceneActivator interface {
	ActivateScene(ctx context.Context, sceneID string) (*automation.Execution, error)
}

// ExecutionStore is the read surface over the execution audit trail.
type ExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*automation.Execution, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]automation.Execution, error)
	GetCommand(ctx context.Context, id string) (*automation.DeviceCommand, error)
	ListCommands(ctx context.Context, executionID string) ([]automation.DeviceCommand, error)
	ListRecentCommands(ctx context.Context, deviceID string, limit int) ([]automation.DeviceCommand, error)
}

// CommandDispatcher drives device commands to a terminal state. Implemented
// by the engine dispatcher; the API uses it for manually issued commands.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, executionID string, actions []automation.ActionSpec, cancelled func() bool) []automation.DeviceCommand
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Rooms      room.Repository
	Devices    *device.Registry
	States     *state.Store
	Rules      *automation.Registry
	Executions ExecutionStore
	Activator  SceneActivator
	Dispatcher CommandDispatcher
	Audit      audit.Repository
	Hub        *Hub // If set, the server uses this hub instead of creating its own
	Version    string
}

// Server is the HTTP API server for Hearth Core.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	rooms      room.Repository
	devices    *device.Registry
	states     *state.Store
	rules      *automation.Registry
	executions ExecutionStore
	activator  SceneActivator
	dispatcher CommandDispatcher
	audit      audit.Repository
	version    string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("automation registry is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		rooms:      deps.Rooms,
		devices:    deps.Devices,
		states:     deps.States,
		rules:      deps.Rules,
		executions: deps.Executions,
		activator:  deps.Activator,
		dispatcher: deps.Dispatcher,
		audit:      deps.Audit,
		hub:        deps.Hub,
		version:    deps.Version,
	}, nil
}

// Hub returns the server's WebSocket hub, creating it if needed. Exposed so
// the recorder can be pointed at it before Start.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start builds the router and launches the HTTP listener in a background
// goroutine. It also starts the hub and the state-change relay that feeds
// WebSocket clients.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	hub := s.Hub()
	go hub.Run(srvCtx)

	if s.states != nil {
		go s.relayStateChanges(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// relayStateChanges forwards state store events to WebSocket subscribers.
func (s *Server) relayStateChanges(ctx context.Context) {
	events, cancel := s.states.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.hub.Broadcast(ChannelStateChanged, map[string]any{
				"device_id":   event.DeviceID,
				"attributes":  event.New.Attributes,
				"observed_at": event.New.ObservedAt,
			})
		}
	}
}

// Close gracefully shuts down the API server, waiting for in-flight requests
// up to gracefulShutdownTimeout.
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

// recordAudit appends an audit entry, best effort.
func (s *Server) recordAudit(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     "api",
		Details:    details,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed",
			"action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}

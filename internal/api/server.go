// Package api provides the HTTP REST API and WebSocket server for the smart
// garden gateway.
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
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/gateway"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/logging"
	"github.com/ImGhostCode/smart-garden/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Store is the read side of the node registry. *registry.Store satisfies it.
type Store interface {
	ListNodes(ctx context.Context) ([]registry.Node, error)
	GetNode(ctx context.Context, id int) (*registry.Node, error)
	LatestReading(ctx context.Context, nodeID int) (*registry.Reading, error)
	Readings(ctx context.Context, q registry.ReadingQuery) ([]registry.Reading, error)
	Commands(ctx context.Context, nodeID, limit int) ([]registry.CommandRecord, error)
}

// Publisher publishes pump commands to the broker. *mqtt.Session satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// CommandRecorder receives commands accepted by the API.
// *gateway.Gateway satisfies it.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, ev gateway.CommandEvent)
}

// HealthCheck is one named dependency check reported by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Logger       *logging.Logger
	Store        Store
	Table        *address.Table
	CommandTopic string
	Publisher    Publisher       // optional; pump commands return 503 without it
	Commands     CommandRecorder // optional
	Rules        RuleStore       // optional; rule routes return 503 without it
	Pumps        PumpStates      // optional
	Hub          *Hub            // if set, the server uses this hub instead of creating its own
	Gatherer     prometheus.Gatherer
	Dashboard    http.Handler // optional; served at "/"
	Checks       []HealthCheck
	GatewayStats func() map[string]any
	DBStats      func() sql.DBStats
	Version      string
}

// Server is the HTTP API server for the gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	store        Store
	table        *address.Table
	commandTopic string
	publisher    Publisher
	commands     CommandRecorder
	rules        RuleStore
	pumps        PumpStates
	gatherer     prometheus.Gatherer
	dashboard    http.Handler
	checks       []HealthCheck
	gatewayStats func() map[string]any
	dbStats      func() sql.DBStats
	version      string
	startTime    time.Time
	now          func() time.Time

	mu          sync.Mutex
	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("node store is required")
	}
	if deps.Table == nil {
		return nil, fmt.Errorf("address table is required")
	}
	// Publisher is optional: reads and WebSocket still function without MQTT.

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		store:        deps.Store,
		table:        deps.Table,
		commandTopic: deps.CommandTopic,
		publisher:    deps.Publisher,
		commands:     deps.Commands,
		rules:        deps.Rules,
		pumps:        deps.Pumps,
		gatherer:     deps.Gatherer,
		dashboard:    deps.Dashboard,
		checks:       deps.Checks,
		gatewayStats: deps.GatewayStats,
		dbStats:      deps.DBStats,
		version:      deps.Version,
		startTime:    time.Now(),
		now:          time.Now,
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub. Register it as a gateway sink to stream
// live events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired router. Start uses it; tests may serve it
// with httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected) and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	// Internal context so Close() can stop the hub independently of ctx.
	srvCtx, cancel := context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

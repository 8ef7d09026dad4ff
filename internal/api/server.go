package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/directout-bridge/internal/audit"
	"github.com/nerrad567/directout-bridge/internal/directout"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/config"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/directout-bridge/internal/recording"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// commandTimeout bounds a single write to the device.
const commandTimeout = 5 * time.Second

// Device is the part of a device session the API exposes.
type Device interface {
	Ready() bool
	DeviceType() directout.DeviceType
	DeviceInfo() directout.DeviceInfo
	Recording() bool
	Seq() int
	LastChange() (directout.Change, bool)

	GetState(path, translation string) (directout.Scalar, bool)
	Snapshot(path string) (*directout.Node, bool)
	SendSet(ctx context.Context, path string, value directout.Scalar, category string) error
	SendCmd(ctx context.Context, cmd any) (int, error)
	Subscriptions() []directout.SubscriptionInfo

	Actions() []directout.ActionDefinition
	ExecuteAction(ctx context.Context, id string, opts directout.Options) error
	LearnAction(id string, opts directout.Options) (directout.Options, bool, error)
	Feedbacks() []directout.FeedbackDefinition
	CheckFeedback(id string, opts directout.Options) (bool, error)
	LearnFeedback(id string, opts directout.Options) (directout.Options, bool, error)

	Variables() []directout.VariableDefinition
	VariableValues() map[string]any
	Variable(name string) (any, bool)
	Choices() directout.ChoiceLists
	Translate(dir directout.Direction, category string, value directout.Scalar) (directout.Scalar, bool)
	Translations() []string
}

// Recorder groups recorded actions into recording sessions.
type Recorder interface {
	Start() string
	Stop() string
	Current() (string, time.Time, bool)
	Actions(ctx context.Context, sessionID string, since time.Time, limit int) ([]recording.Entry, error)
	Sessions(ctx context.Context) ([]recording.Summary, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	Device   Device
	Recorder Recorder

	// Audit, if set, receives one entry per write request.
	Audit audit.Repository

	// MetricsHandler serves Metrics.Path when metrics are enabled.
	MetricsHandler http.Handler

	// Hub, if set, is used instead of a hub created by Start. The session
	// hooks must be wired to it before the session starts.
	Hub     *Hub
	Version string
}

// Server is the HTTP API server of the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	secCfg         config.SecurityConfig
	metricsCfg     config.MetricsConfig
	logger         *logging.Logger
	device         Device
	recorder       Recorder
	audit          audit.Repository
	metricsHandler http.Handler
	version        string
	server         *http.Server
	hub            *Hub
	tickets        *ticketStore
	cancel         context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device session is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	// Recorder and Audit are optional; their endpoints answer 503 without them.

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		secCfg:         deps.Security,
		metricsCfg:     deps.Metrics,
		logger:         deps.Logger,
		device:         deps.Device,
		recorder:       deps.Recorder,
		audit:          deps.Audit,
		metricsHandler: deps.MetricsHandler,
		version:        deps.Version,
		tickets:        newTicketStore(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
	}
	return s, nil
}

// Hub returns the server's WebSocket hub, or nil before Start when none
// was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It runs the WebSocket hub, the ticket cleanup loop and the HTTP listener
// in background goroutines. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

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

	// Stops the hub (closing WebSocket clients) and ticket cleanup.
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

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/nerrad567/proflame-bridge/internal/bridges/proflame"
	"github.com/nerrad567/proflame-bridge/internal/history"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/config"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventStateChanged is broadcast to WebSocket subscribers for every change
// the fireplace reports.
const EventStateChanged = "fireplace.state_changed"

// HistoryReader reads the attribute journal.
// Satisfied by *history.SQLiteRepository.
type HistoryReader interface {
	GetHistory(ctx context.Context, deviceID, attribute string, limit int) ([]history.Entry, error)
}

// BridgeMetricsProvider exposes MQTT bridge counters.
type BridgeMetricsProvider interface {
	GetMetrics() proflame.BridgeMetrics
	Health() proflame.HealthMessage
}

// ConnectionChecker reports whether an optional dependency is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// ProbeFunc checks whether a fireplace answers the handshake.
type ProbeFunc func(ctx context.Context, host string, port int) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Version string

	// DeviceID and DeviceName identify the fireplace served by this process.
	DeviceID   string
	DeviceName string

	Client    proflame.Connector
	Fireplace *proflame.Fireplace

	// Optional dependencies. Endpoints that need a missing one answer 503.
	History   HistoryReader
	Bridge    BridgeMetricsProvider
	MQTT      ConnectionChecker
	Telemetry ConnectionChecker
	DBStats   func(ctx context.Context) DatabaseMetrics

	// Probe defaults to proflame.Probe.
	Probe ProbeFunc
}

// Server is the HTTP API server for the fireplace.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	version    string
	deviceID   string
	deviceName string
	client     proflame.Connector
	fireplace  *proflame.Fireplace
	history    HistoryReader
	bridge     BridgeMetricsProvider
	mqtt       ConnectionChecker
	telemetry  ConnectionChecker
	dbStats    func(ctx context.Context) DatabaseMetrics
	probe      ProbeFunc
	startTime  time.Time

	hub           *Hub
	subscribeOnce sync.Once

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("fireplace client is required")
	}
	if deps.Fireplace == nil {
		return nil, fmt.Errorf("fireplace is required")
	}

	probe := deps.Probe
	if probe == nil {
		probe = proflame.Probe
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		version:    deps.Version,
		deviceID:   deps.DeviceID,
		deviceName: deps.DeviceName,
		client:     deps.Client,
		fireplace:  deps.Fireplace,
		history:    deps.History,
		bridge:     deps.Bridge,
		mqtt:       deps.MQTT,
		telemetry:  deps.Telemetry,
		dbStats:    deps.DBStats,
		probe:      probe,
		startTime:  time.Now(),
		hub:        NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays fireplace changes to it, and serves
// the router in a background goroutine. Stop the server with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.subscribeStateUpdates()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var serveErr error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			serveErr = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			serveErr = s.server.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
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
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	var err error
	if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("shutting down API server: %w", shutdownErr))
		err = multierr.Append(err, s.server.Close())
	}
	return err
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StateChangedEvent is the payload of EventStateChanged.
type StateChangedEvent struct {
	DeviceID  string `json:"device_id"`
	Attribute string `json:"attribute"`
	Value     int    `json:"value"`
}

// subscribeStateUpdates relays every applied change to WebSocket clients.
// The client keeps subscribers for its lifetime, so this registers once.
func (s *Server) subscribeStateUpdates() {
	s.subscribeOnce.Do(func() {
		s.client.Subscribe(func(attr proflame.Attribute, value int) {
			s.hub.Broadcast(EventStateChanged, StateChangedEvent{
				DeviceID:  s.deviceID,
				Attribute: string(attr),
				Value:     value,
			})
		})
	})
}

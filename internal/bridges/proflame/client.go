package proflame

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for fireplace communication.
const (
	// defaultConnectTimeout bounds the TCP dial plus websocket upgrade.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is how long a session may stay silent before it is
	// considered dead. The controller answers every ping, so this only fires
	// on a half-open connection. It must exceed the ping interval.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the deadline for a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// defaultPingInterval is the keepalive period expected by the controller.
	defaultPingInterval = 5 * time.Second

	// defaultHandshakeTimeout is how long to wait for the handshake ack
	// before logging its absence.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultReconnectInterval is the initial delay after a failed attempt.
	defaultReconnectInterval = 1 * time.Second

	// defaultMaxReconnectInterval caps the reconnect backoff.
	defaultMaxReconnectInterval = 30 * time.Second

	// minStableSession is how long a session must last for the next
	// reconnect to be immediate rather than backed off.
	minStableSession = 1 * time.Second

	// maxFrameSize limits inbound frames. Deltas are a few hundred bytes.
	maxFrameSize = 64 * 1024
)

// ClientConfig holds fireplace connection configuration.
// Zero durations take the package defaults.
type ClientConfig struct {
	// Host is the controller's hostname or IP address.
	Host string

	// Port is the controller's websocket port. Default: 88.
	Port int

	ConnectTimeout       time.Duration
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
}

func (cfg *ClientConfig) applyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaultMaxReconnectInterval
	}
	if cfg.MaxReconnectInterval < cfg.ReconnectInterval {
		cfg.MaxReconnectInterval = cfg.ReconnectInterval
	}
	if cfg.ReadTimeout <= cfg.PingInterval {
		cfg.ReadTimeout = 3 * cfg.PingInterval
	}
}

// URL returns the websocket URL of the controller.
func (cfg ClientConfig) URL() string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return "ws://" + net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// ClientStats holds operational statistics.
type ClientStats struct {
	FramesTx        uint64    `json:"frames_tx"`
	FramesRx        uint64    `json:"frames_rx"`
	CommandsSent    uint64    `json:"commands_sent"`
	DeltasApplied   uint64    `json:"deltas_applied"`
	ChangesApplied  uint64    `json:"changes_applied"`
	MalformedFrames uint64    `json:"malformed_frames"`
	ControlFrames   uint64    `json:"control_frames"`
	ErrorsTotal     uint64    `json:"errors_total"`
	SessionsTotal   uint64    `json:"sessions_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	QueueDepth      int       `json:"queue_depth"`
	LastActivity    time.Time `json:"last_activity"`
	Connected       bool      `json:"connected"`
	HandshakeAcked  bool      `json:"handshake_acked"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// StateClient is the surface the semantic layer needs from a connection.
type StateClient interface {
	GetState(attr Attribute) (int, bool)
	SetState(attr Attribute, value int) error
	Subscribe(fn Subscriber)
}

// Connector interface for testability.
// This allows mocking the fireplace client in bridge and API tests.
type Connector interface {
	StateClient
	Snapshot() map[Attribute]int
	IsConnected() bool
	Stats() ClientStats
	Close() error
}

// Ensure Client implements Connector.
var _ Connector = (*Client)(nil)

// Client holds a persistent session to one fireplace controller.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscribers are invoked on the session's listener goroutine, in
//     registration order, once per applied attribute change.
//
// Auto-Reconnection:
//   - Open starts a supervisor that keeps exactly one session alive.
//   - A session that ends after running stably is replaced immediately.
//   - Failed dials and short-lived sessions back off from ReconnectInterval
//     (×1.5 per attempt) up to MaxReconnectInterval.
//   - Reconnection stops only when Close() is called.
//
// Commands queued with SetState survive reconnects and are transmitted in
// order, at least once each. Close abandons whatever is still queued.
type Client struct {
	cfg    ClientConfig
	url    string
	dialer *websocket.Dialer

	store *StateStore
	queue *CommandQueue

	// Lifecycle
	lifeMu sync.Mutex
	opened bool
	cancel context.CancelFunc
	done   *closeOnce
	wg     sync.WaitGroup

	// Connection state
	connMu    sync.RWMutex
	connected bool
	acked     bool

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	commandsSent    atomic.Uint64
	deltasApplied   atomic.Uint64
	changesApplied  atomic.Uint64
	malformedFrames atomic.Uint64
	controlFrames   atomic.Uint64
	errorsTotal     atomic.Uint64
	sessionsTotal   atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix nanoseconds
}

// NewClient creates a client for the controller at cfg.Host:cfg.Port.
// Nothing is dialled until Open is called.
func NewClient(cfg ClientConfig) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg: cfg,
		url: cfg.URL(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		store: NewStateStore(),
		queue: NewCommandQueue(),
		done:  newCloseOnce(),
	}
}

// Open starts the background supervisor. It returns immediately; connection
// failures are retried internally and never returned.
func (c *Client) Open() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.isClosed() {
		return ErrClientClosed
	}
	if c.opened {
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.opened = true

	c.wg.Add(1)
	go c.supervise(ctx)

	c.logInfo("fireplace client started", "url", c.url)
	return nil
}

// Close stops the supervisor, tears down the active session and abandons
// queued commands. Safe to call multiple times.
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	c.done.Close()

	c.lifeMu.Lock()
	cancel := c.cancel
	c.lifeMu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.queue.Close()
	c.wg.Wait()

	c.setConnected(false)
	c.logInfo("fireplace client closed")
	return nil
}

// GetState returns the last value reported for attr, and false if the
// controller has not reported it yet.
func (c *Client) GetState(attr Attribute) (int, bool) {
	return c.store.Get(attr)
}

// Snapshot returns a copy of every known attribute.
func (c *Client) Snapshot() map[Attribute]int {
	return c.store.Snapshot()
}

// SetState queues a write of value to attr. The state store is not touched;
// it changes when the controller reports the new value back.
//
// Returns:
//   - error: ErrUnknownAttribute for keys outside the catalog,
//     ErrClientClosed after Close. Transport problems are never returned.
func (c *Client) SetState(attr Attribute, value int) error {
	if !attr.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
	if c.isClosed() {
		return ErrClientClosed
	}

	cmd, err := c.queue.Push(attr, value)
	if err != nil {
		return ErrClientClosed
	}

	c.logDebug("write queued", "attribute", attr, "value", value, "seq", cmd.Seq, "queue_depth", c.queue.Len())
	return nil
}

// Subscribe registers fn for every applied attribute change. Registration
// is permanent for the life of the client. A panicking subscriber is logged
// and does not affect the others.
func (c *Client) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	c.store.Subscribe(func(attr Attribute, value int) {
		defer func() {
			if r := recover(); r != nil {
				c.errorsTotal.Add(1)
				c.logError("subscriber panicked", "attribute", attr, "panic", r)
			}
		}()
		fn(attr, value)
	})
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// URL returns the controller websocket URL.
func (c *Client) URL() string {
	return c.url
}

// IsConnected returns true while a session is live.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() ClientStats {
	c.connMu.RLock()
	connected, acked := c.connected, c.acked
	c.connMu.RUnlock()

	var last time.Time
	if ns := c.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}

	return ClientStats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		CommandsSent:    c.commandsSent.Load(),
		DeltasApplied:   c.deltasApplied.Load(),
		ChangesApplied:  c.changesApplied.Load(),
		MalformedFrames: c.malformedFrames.Load(),
		ControlFrames:   c.controlFrames.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		SessionsTotal:   c.sessionsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		QueueDepth:      c.queue.Len(),
		LastActivity:    last,
		Connected:       connected,
		HandshakeAcked:  acked,
	}
}

// supervise keeps one session alive until ctx is cancelled.
func (c *Client) supervise(ctx context.Context) {
	defer c.wg.Done()

	backoff := c.cfg.ReconnectInterval
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if backoff = c.handleReconnectFailure(ctx, "dial failed", err, backoff); backoff == 0 {
				return
			}
			continue
		}

		if c.sessionsTotal.Add(1) > 1 {
			c.reconnectsTotal.Add(1)
		}

		started := time.Now()
		err = newSession(c, conn).run(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) < minStableSession {
			if backoff = c.handleReconnectFailure(ctx, "session ended early", err, backoff); backoff == 0 {
				return
			}
			continue
		}

		c.logWarn("fireplace session ended, reconnecting", "error", err)
		backoff = c.cfg.ReconnectInterval
	}
}

// dial opens the websocket to the controller.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.url, err)
	}
	return conn, nil
}

// handleReconnectFailure logs a failed attempt and waits out the backoff.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *Client) handleReconnectFailure(ctx context.Context, reason string, err error, backoff time.Duration) time.Duration {
	c.logWarn("reconnect: "+reason, "error", err, "retry_in", backoff.String())
	c.errorsTotal.Add(1)

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0
	case <-timer.C:
	}

	// Exponential backoff with cap
	next := time.Duration(float64(backoff) * 1.5)
	if next > c.cfg.MaxReconnectInterval {
		next = c.cfg.MaxReconnectInterval
	}
	return next
}

func (c *Client) setConnected(connected bool) {
	c.connMu.Lock()
	c.connected = connected
	if !connected {
		c.acked = false
	}
	c.connMu.Unlock()
}

func (c *Client) setAcked() {
	c.connMu.Lock()
	c.acked = true
	c.connMu.Unlock()
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) currentLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.currentLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.currentLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.currentLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...any) {
	if logger := c.currentLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/proflame-bridge/internal/infrastructure/config"
)

// Logger is satisfied by logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one broker message. Handlers run on paho's
// goroutines and should not block; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Client is a broker connection that remembers its subscriptions across
// reconnects and keeps a retained online/offline status for the process.
// All methods are safe for concurrent use.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte
	up       atomic.Bool

	mu     sync.RWMutex
	routes map[string]route
	hooks  hooks
}

// route is a tracked subscription.
type route struct {
	qos     byte
	handler MessageHandler
}

type hooks struct {
	log          Logger
	onConnect    func()
	onDisconnect func(error)
}

// Connect dials the broker and waits up to connectTimeout for the first
// session. The online status is published from the connect handler, so it
// is repeated after every reconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS),
		routes:   make(map[string]route),
	}

	opts := clientOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			if log := c.currentHooks().log; log != nil {
				log.Warn("MQTT reconnecting", "broker", brokerURL(cfg.Broker))
			}
		})
	c.paho = pahomqtt.NewClient(opts)

	if err := await(c.paho.Connect(), connectTimeout); err != nil {
		// Stops paho's background connect retries.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously.
	c.up.Store(true)
	return c, nil
}

func (c *Client) connectionUp() {
	c.up.Store(true)
	c.resubscribe()
	c.paho.Publish(Topics{}.Status(c.clientID), c.qos, true, statusPayload(c.clientID, statusOnline, ""))

	if fn := c.currentHooks().onConnect; fn != nil {
		fn()
	}
}

func (c *Client) connectionDown(err error) {
	c.up.Store(false)
	if fn := c.currentHooks().onDisconnect; fn != nil {
		fn(err)
	}
}

// Close replaces the retained status with a graceful offline document and
// disconnects. Safe on a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		offline := statusPayload(c.clientID, statusOffline, "graceful_shutdown")
		c.paho.Publish(Topics{}.Status(c.clientID), c.qos, true, offline).WaitTimeout(ackTimeout)
	}
	c.paho.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}

// IsConnected reports whether the broker link is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.up.Load() && c.paho.IsConnected()
}

// SetOnConnect registers fn to run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.hooks.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the broker link drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.hooks.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without one
// they are dropped.
func (c *Client) SetLogger(log Logger) {
	c.mu.Lock()
	c.hooks.log = log
	c.mu.Unlock()
}

func (c *Client) currentHooks() hooks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hooks
}

// deliver adapts handler to paho, containing panics and logging errors.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		log := c.currentHooks().log
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil && log != nil {
			log.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

// await waits for a paho token and returns its outcome.
func await(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("no acknowledgement within %v", timeout)
	}
	return token.Error()
}

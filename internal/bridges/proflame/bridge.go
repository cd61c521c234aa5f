package proflame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/proflame-bridge/internal/infrastructure/mqtt"
)

const (
	// defaultChangeBuffer bounds the number of state changes waiting for
	// the publish worker.
	defaultChangeBuffer = 256

	// recordTimeout bounds a single history write.
	recordTimeout = 5 * time.Second
)

// MQTTClient is the subset of the MQTT client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// ChangeRecorder journals applied state changes.
// Satisfied by *history.SQLiteRepository.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, deviceID, attribute string, value int, at time.Time) error
}

// Telemetry receives attribute values and connection statistics for a
// time-series store. Optional.
type Telemetry interface {
	WriteAttributeMetric(deviceID, attribute string, value int)
	WriteConnectionStats(deviceID string, stats ClientStats)
}

// Bridge connects one fireplace to MQTT: commands in, acknowledgements,
// full state documents and health out.
type Bridge struct {
	deviceID  string
	mqtt      MQTTClient
	client    Connector
	fireplace *Fireplace
	recorder  ChangeRecorder
	telemetry Telemetry
	health    *HealthReporter

	changes chan changeEvent

	changesPublished atomic.Uint64
	changesDropped   atomic.Uint64
	commandsHandled  atomic.Uint64
	commandsFailed   atomic.Uint64

	subscribeOnce sync.Once
	commandTopic  atomic.Value // string, set once subscribed
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
	ctx           context.Context
	ctxCancel     context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

type changeEvent struct {
	attr  Attribute
	value int
	at    time.Time
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// DeviceID names the fireplace in topics, history and telemetry.
	DeviceID string

	// Version is reported in health messages.
	Version string

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration

	// ChangeBuffer bounds queued state changes. Defaults to 256.
	ChangeBuffer int

	MQTTClient MQTTClient
	Client     Connector
	Fireplace  *Fireplace

	// URL is reported in health messages.
	URL string

	// Recorder is optional. If nil, changes are not journalled.
	Recorder ChangeRecorder

	// Telemetry is optional.
	Telemetry Telemetry

	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("fireplace client is required")
	}
	if opts.Fireplace == nil {
		return nil, fmt.Errorf("fireplace is required")
	}

	buffer := opts.ChangeBuffer
	if buffer <= 0 {
		buffer = defaultChangeBuffer
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		deviceID:  opts.DeviceID,
		mqtt:      opts.MQTTClient,
		client:    opts.Client,
		fireplace: opts.Fireplace,
		recorder:  opts.Recorder,
		telemetry: opts.Telemetry,
		changes:   make(chan changeEvent, buffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		DeviceID:  opts.DeviceID,
		Version:   opts.Version,
		URL:       opts.URL,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Client:    opts.Client,
		Telemetry: opts.Telemetry,
		Dropped:   b.changesDropped.Load,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to the command topic, starts the change worker and
// health reporting, and publishes the current state.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.subscribeOnce.Do(func() {
		b.client.Subscribe(b.onChange)
	})

	commandTopic := mqtt.Topics{}.Command(b.deviceID)
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.commandTopic.Store(commandTopic)
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.wg.Add(1)
	go b.worker()

	b.health.Start(ctx)

	if len(b.client.Snapshot()) > 0 {
		b.publishState("")
	}

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}

	b.logInfo("bridge started", "device_id", b.deviceID)
	return nil
}

// Stop gracefully shuts down the bridge.
// Changes still queued are discarded.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if topic, ok := b.commandTopic.Load().(string); ok {
			if err := b.mqtt.Unsubscribe(topic); err != nil {
				b.logWarn("failed to unsubscribe from commands", "topic", topic, "error", err)
			}
		}
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped", "device_id", b.deviceID)
	})
}

// Health returns the current health message without publishing it.
func (b *Bridge) Health() HealthMessage {
	return b.health.Current()
}

// onChange runs on the client's listener goroutine and must not block.
func (b *Bridge) onChange(attr Attribute, value int) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.changes <- changeEvent{attr: attr, value: value, at: time.Now()}:
	default:
		dropped := b.changesDropped.Add(1)
		b.logWarn("change queue full, dropping change",
			"attribute", string(attr),
			"value", value,
			"dropped_total", dropped)
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case ev := <-b.changes:
			b.handleChange(ev)
		}
	}
}

func (b *Bridge) handleChange(ev changeEvent) {
	if b.recorder != nil {
		ctx, cancel := context.WithTimeout(b.ctx, recordTimeout)
		err := b.recorder.RecordChange(ctx, b.deviceID, string(ev.attr), ev.value, ev.at)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logError("failed to record change", err, "attribute", string(ev.attr))
		}
	}

	if b.telemetry != nil {
		b.telemetry.WriteAttributeMetric(b.deviceID, string(ev.attr), ev.value)
	}

	b.publishState(ev.attr)
}

// publishState publishes the full retained state document.
func (b *Bridge) publishState(changed Attribute) {
	msg := NewStateMessage(b.deviceID, b.fireplace.Status(), b.client.Snapshot(), changed)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(mqtt.Topics{}.State(b.deviceID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}
	b.changesPublished.Add(1)
}

// handleCommand processes a command message from MQTT.
func (b *Bridge) handleCommand(_ string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAckError(CommandMessage{DeviceID: b.deviceID}, ErrCodeInvalidPayload, err.Error())
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = b.deviceID
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
		"source", cmd.Source)

	if cmd.DeviceID != b.deviceID {
		b.publishAckError(cmd, ErrCodeUnknownDevice,
			fmt.Sprintf("device %s is not served by this bridge", cmd.DeviceID))
		return
	}

	if err := b.fireplace.Execute(cmd.Action()); err != nil {
		b.publishAckError(cmd, ErrorCode(err), err.Error())
		return
	}

	b.commandsHandled.Add(1)
	b.publishAck(NewAckMessage(cmd))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(mqtt.Topics{}.Ack(b.deviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	b.commandsFailed.Add(1)
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"code", code,
		"message", message)
	b.publishAck(NewAckError(cmd, code, message))
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) currentLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.currentLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.currentLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.currentLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	MQTTConnected    bool   `json:"mqtt_connected"`
	ChangesPublished uint64 `json:"changes_published"`
	ChangesDropped   uint64 `json:"changes_dropped"`
	CommandsHandled  uint64 `json:"commands_handled"`
	CommandsFailed   uint64 `json:"commands_failed"`
	QueuedChanges    int    `json:"queued_changes"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		MQTTConnected:    b.mqtt.IsConnected(),
		ChangesPublished: b.changesPublished.Load(),
		ChangesDropped:   b.changesDropped.Load(),
		CommandsHandled:  b.commandsHandled.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		QueuedChanges:    len(b.changes),
	}
}

package proflame

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/proflame-bridge/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes retained health messages at a fixed interval.
type HealthReporter struct {
	deviceID  string
	version   string
	url       string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	client    Connector
	telemetry Telemetry
	dropped   func() uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	DeviceID string
	Version  string

	// URL is the fireplace websocket address reported in the connection block.
	URL string

	// Interval defaults to 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Client    Connector

	// Telemetry receives the connection statistics on every report. Optional.
	Telemetry Telemetry

	// Dropped reports how many state changes the bridge discarded. Optional.
	Dropped func() uint64
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		deviceID:  cfg.DeviceID,
		version:   cfg.Version,
		url:       cfg.URL,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		client:    cfg.Client,
		telemetry: cfg.Telemetry,
		dropped:   cfg.Dropped,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop halts reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Current builds the health message without publishing it.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	msg := h.buildMessage(status)
	msg.Reason = reason
	return msg
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.client == nil || !h.client.IsConnected() {
		return HealthDegraded, "fireplace disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus) HealthMessage {
	var stats ClientStats
	if h.client != nil {
		stats = h.client.Stats()
	}
	var dropped uint64
	if h.dropped != nil {
		dropped = h.dropped()
	}
	return NewHealthMessage(h.deviceID, h.version, status, h.url, stats, dropped, h.startTime)
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	msg := h.buildMessage(status)
	msg.Reason = reason

	if h.telemetry != nil && h.client != nil {
		h.telemetry.WriteConnectionStats(h.deviceID, h.client.Stats())
	}

	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(h.deviceID), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

package main

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/proflame-bridge/internal/bridges/proflame"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/mqtt"
)

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The only difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements proflame.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements proflame.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Command handlers report failures through acks, never as errors.
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements proflame.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements proflame.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// influxWriter is the subset of *influxdb.Client used for telemetry.
type influxWriter interface {
	WriteAttributeMetric(deviceID, attribute string, value int)
	WriteConnectionStats(deviceID string, stats influxdb.ConnectionStats)
}

// influxTelemetry adapts the InfluxDB client to proflame.Telemetry.
type influxTelemetry struct {
	client influxWriter
}

// WriteAttributeMetric implements proflame.Telemetry.
func (t *influxTelemetry) WriteAttributeMetric(deviceID, attribute string, value int) {
	t.client.WriteAttributeMetric(deviceID, attribute, value)
}

// WriteConnectionStats implements proflame.Telemetry.
func (t *influxTelemetry) WriteConnectionStats(deviceID string, stats proflame.ClientStats) {
	t.client.WriteConnectionStats(deviceID, influxdb.ConnectionStats{
		Connected:       stats.Connected,
		FramesRx:        stats.FramesRx,
		FramesTx:        stats.FramesTx,
		MalformedFrames: stats.MalformedFrames,
		Reconnects:      stats.ReconnectsTotal,
		QueueDepth:      stats.QueueDepth,
	})
}

const (
	journalBuffer  = 256
	journalTimeout = 5 * time.Second
)

type journalEntry struct {
	attr  proflame.Attribute
	value int
	at    time.Time
}

// journal records changes to history and telemetry when the MQTT bridge,
// which normally does this, is disabled. Subscribers run on the client's
// listener, so changes are handed to a worker and dropped when it falls behind.
type journal struct {
	deviceID  string
	recorder  proflame.ChangeRecorder
	telemetry proflame.Telemetry
	logger    *logging.Logger

	entries  chan journalEntry
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newJournal(deviceID string, recorder proflame.ChangeRecorder, telemetry proflame.Telemetry, logger *logging.Logger) *journal {
	return &journal{
		deviceID:  deviceID,
		recorder:  recorder,
		telemetry: telemetry,
		logger:    logger,
		entries:   make(chan journalEntry, journalBuffer),
		done:      make(chan struct{}),
	}
}

// Start subscribes to client and runs the worker until Stop.
func (j *journal) Start(client proflame.StateClient) {
	client.Subscribe(j.onChange)
	j.wg.Add(1)
	go j.run()
}

// Stop ends the worker. Pending entries are discarded.
func (j *journal) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
}

func (j *journal) onChange(attr proflame.Attribute, value int) {
	select {
	case <-j.done:
		return
	default:
	}

	select {
	case j.entries <- journalEntry{attr: attr, value: value, at: time.Now()}:
	default:
		j.logger.Warn("journal queue full, dropping change", "attribute", string(attr))
	}
}

func (j *journal) run() {
	defer j.wg.Done()
	for {
		select {
		case <-j.done:
			return
		case e := <-j.entries:
			j.record(e)
		}
	}
}

func (j *journal) record(e journalEntry) {
	if j.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		err := j.recorder.RecordChange(ctx, j.deviceID, string(e.attr), e.value, e.at)
		cancel()
		if err != nil {
			j.logger.Error("failed to record change", "attribute", string(e.attr), "error", err)
		}
	}
	if j.telemetry != nil {
		j.telemetry.WriteAttributeMetric(j.deviceID, string(e.attr), e.value)
	}
}

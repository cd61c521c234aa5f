package proflame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MQTT message types exchanged between the bridge and its controllers.

// CommandMessage asks the bridge to run a fireplace command.
// Topic: proflame/command/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID must match the bridge's configured device.
	DeviceID string `json:"device_id"`

	// Command is one of the names returned by Commands.
	Command string `json:"command"`

	// Parameters contains command-specific values, for example
	// {"height": 4} for set_flame_height.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "mqtt", "automation").
	Source string `json:"source,omitempty"`
}

// Action returns the semantic action carried by the message.
func (m CommandMessage) Action() Action {
	return Action{Command: m.Command, Parameters: m.Parameters}
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckQueued means the resulting writes were queued for the device.
	// Transmission is not confirmation: the device reports the outcome as a delta.
	AckQueued AckStatus = "queued"

	// AckFailed means the command was rejected before anything was queued.
	AckFailed AckStatus = "failed"
)

// Error codes carried in failed acknowledgements.
const (
	ErrCodeInvalidPayload   = "INVALID_PAYLOAD"
	ErrCodeUnknownDevice    = "UNKNOWN_DEVICE"
	ErrCodeInvalidCommand   = "INVALID_COMMAND"
	ErrCodeInvalidParameter = "INVALID_PARAMETER"
	ErrCodeUnknownAttribute = "UNKNOWN_ATTRIBUTE"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// AckMessage acknowledges a command.
// Topic: proflame/ack/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Command   string    `json:"command,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage carries the full fireplace state after a change.
// Topic: proflame/state/{device_id} (retained)
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     Status         `json:"state"`
	Raw       map[string]int `json:"raw"`

	// Changed names the attribute whose update triggered this message.
	Changed string `json:"changed,omitempty"`
}

// HealthStatus represents the bridge's health state.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge and fireplace connection health.
// Topic: proflame/health/{device_id} (retained)
type HealthMessage struct {
	DeviceID      string            `json:"device_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Connection    *ConnectionStatus `json:"connection,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
}

// ConnectionStatus describes the fireplace websocket connection.
type ConnectionStatus struct {
	Status         string     `json:"status"`
	URL            string     `json:"url,omitempty"`
	HandshakeAcked bool       `json:"handshake_acked"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains counters for the health message.
type BridgeStatistics struct {
	FramesReceived  uint64 `json:"frames_received"`
	FramesSent      uint64 `json:"frames_sent"`
	CommandsSent    uint64 `json:"commands_sent"`
	ChangesApplied  uint64 `json:"changes_applied"`
	MalformedFrames uint64 `json:"malformed_frames"`
	Reconnects      uint64 `json:"reconnects"`
	Errors          uint64 `json:"errors"`
	QueueDepth      int    `json:"queue_depth"`
	ChangesDropped  uint64 `json:"changes_dropped"`
}

// MarshalJSON renders the timestamp as RFC3339 UTC.
func (m CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		Alias
		Timestamp string `json:"timestamp,omitempty"`
	}{
		Alias:     Alias(m),
		Timestamp: formatTimestamp(m.Timestamp),
	})
}

// UnmarshalJSON accepts a missing timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// NewAckMessage creates a queued acknowledgement for a command.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    AckQueued,
		Command:   cmd.Command,
	}
}

// NewAckError creates a failed acknowledgement.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// ErrorCode maps an Execute error to an acknowledgement error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownAttribute):
		return ErrCodeUnknownAttribute
	case errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameter):
		return ErrCodeInvalidParameter
	case errors.Is(err, ErrClientClosed), errors.Is(err, ErrQueueClosed):
		return ErrCodeUnavailable
	default:
		return ErrCodeInternal
	}
}

// NewStateMessage creates a state message from the fireplace view and the
// raw attribute snapshot.
func NewStateMessage(deviceID string, status Status, snapshot map[Attribute]int, changed Attribute) StateMessage {
	raw := make(map[string]int, len(snapshot))
	for attr, v := range snapshot {
		raw[string(attr)] = v
	}
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     status,
		Raw:       raw,
		Changed:   string(changed),
	}
}

// NewHealthMessage creates a health message from client statistics.
func NewHealthMessage(deviceID, version string, status HealthStatus, url string, stats ClientStats, dropped uint64, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		DeviceID:      deviceID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection: &ConnectionStatus{
			Status:         "disconnected",
			URL:            url,
			HandshakeAcked: stats.HandshakeAcked,
		},
		Statistics: &BridgeStatistics{
			FramesReceived:  stats.FramesRx,
			FramesSent:      stats.FramesTx,
			CommandsSent:    stats.CommandsSent,
			ChangesApplied:  stats.ChangesApplied,
			MalformedFrames: stats.MalformedFrames,
			Reconnects:      stats.ReconnectsTotal,
			Errors:          stats.ErrorsTotal,
			QueueDepth:      stats.QueueDepth,
			ChangesDropped:  dropped,
		},
	}
	if stats.Connected {
		msg.Connection.Status = "connected"
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	return msg
}

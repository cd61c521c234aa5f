package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementAttribute  = "fireplace_attribute"
	measurementConnection = "fireplace_connection"
)

// ConnectionStats is the connection health sample written by
// WriteConnectionStats.
type ConnectionStats struct {
	Connected       bool
	FramesRx        uint64
	FramesTx        uint64
	MalformedFrames uint64
	Reconnects      uint64
	QueueDepth      int
}

// WriteAttributeMetric records one applied attribute value.
//
//	client.WriteAttributeMetric("living-room", "room_temperature", 215)
func (c *Client) WriteAttributeMetric(deviceID, attribute string, value int) {
	c.writePoint(measurementAttribute,
		map[string]string{
			"device_id": deviceID,
			"attribute": attribute,
		},
		map[string]any{
			"value": value,
		},
		time.Now(),
	)
}

// WriteConnectionStats records a connection health sample.
func (c *Client) WriteConnectionStats(deviceID string, stats ConnectionStats) {
	connected := 0
	if stats.Connected {
		connected = 1
	}

	c.writePoint(measurementConnection,
		map[string]string{
			"device_id": deviceID,
		},
		map[string]any{
			"connected":        connected,
			"frames_rx":        stats.FramesRx,
			"frames_tx":        stats.FramesTx,
			"malformed_frames": stats.MalformedFrames,
			"reconnects":       stats.Reconnects,
			"queue_depth":      stats.QueueDepth,
		},
		time.Now(),
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if c.conn == nil || c.closed.Load() {
		return
	}
	c.points.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

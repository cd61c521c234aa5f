package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/proflame-bridge/internal/bridges/proflame"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     WSMetrics            `json:"websocket"`
	Fireplace     proflame.ClientStats `json:"fireplace"`
	MQTT          *MQTTMetrics         `json:"mqtt,omitempty"`
	InfluxDB      *InfluxDBMetrics     `json:"influxdb,omitempty"`
	Database      *DatabaseMetrics     `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT connection and bridge statistics.
type MQTTMetrics struct {
	Connected bool                    `json:"connected"`
	Bridge    *proflame.BridgeMetrics `json:"bridge,omitempty"`
}

// InfluxDBMetrics reports the telemetry writer.
type InfluxDBMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains connection pool statistics and the schema
// migration state.
type DatabaseMetrics struct {
	OpenConnections   int    `json:"open_connections"`
	InUse             int    `json:"in_use"`
	Idle              int    `json:"idle"`
	WaitCount         int64  `json:"wait_count"`
	SchemaVersion     string `json:"schema_version,omitempty"`
	PendingMigrations int    `json:"pending_migrations"`
}

// handleMetrics returns process, fireplace and bridge metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Fireplace: s.client.Stats(),
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
		if s.bridge != nil {
			bm := s.bridge.GetMetrics()
			metrics.MQTT.Bridge = &bm
		}
	}

	if s.telemetry != nil {
		metrics.InfluxDB = &InfluxDBMetrics{Connected: s.telemetry.IsConnected()}
	}

	if s.dbStats != nil {
		db := s.dbStats(r.Context())
		metrics.Database = &db
	}

	writeJSON(w, http.StatusOK, metrics)
}

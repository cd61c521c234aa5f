// Package history journals applied fireplace attribute values in SQLite.
//
// The journal is write-mostly: the MQTT bridge's change worker records every
// value the controller reports, the HTTP API reads it back newest first, and
// a pruner drops rows past the retention window. It is never replayed into
// the live state store.
package history

import (
	"context"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one applied attribute value.
type Entry struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Attribute  string    `json:"attribute"`
	Value      int       `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Repository stores and retrieves attribute history.
type Repository interface {
	// RecordChange appends one value. A zero at is replaced by now.
	RecordChange(ctx context.Context, deviceID, attribute string, value int, at time.Time) error

	// GetHistory returns entries for deviceID newest first. An empty
	// attribute matches all attributes; limit is clamped to 1..200 with 0
	// meaning 50.
	GetHistory(ctx context.Context, deviceID, attribute string, limit int) ([]Entry, error)

	// PruneHistory deletes entries older than olderThan and returns how many.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// clampLimit applies the default and maximum page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

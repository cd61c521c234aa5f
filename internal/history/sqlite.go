package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDeviceRequired is returned when a call omits the device ID.
var ErrDeviceRequired = errors.New("history: device id is required")

// SQLiteRepository implements Repository on the attribute_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordChange inserts one history row.
func (r *SQLiteRepository) RecordChange(ctx context.Context, deviceID, attribute string, value int, at time.Time) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	if attribute == "" {
		return fmt.Errorf("history: attribute is required")
	}
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO attribute_history (device_id, attribute, value, recorded_at) VALUES (?, ?, ?, ?)",
		deviceID,
		attribute,
		value,
		at.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting attribute history: %w", err)
	}
	return nil
}

// GetHistory returns entries ordered by recorded_at DESC, newest insert
// first on ties.
func (r *SQLiteRepository) GetHistory(ctx context.Context, deviceID, attribute string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, ErrDeviceRequired
	}
	limit = clampLimit(limit)

	query := `SELECT id, device_id, attribute, value, recorded_at
		 FROM attribute_history
		 WHERE device_id = ?`
	args := []any{deviceID}
	if attribute != "" {
		query += " AND attribute = ?"
		args = append(args, attribute)
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attribute history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var recordedAt int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Attribute, &e.Value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning attribute history: %w", err)
		}
		e.RecordedAt = time.Unix(0, recordedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes rows recorded before now-olderThan.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := time.Now().Add(-olderThan).UTC().UnixNano()
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM attribute_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting attribute history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

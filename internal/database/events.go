package database

import (
	"context"
	"time"
)

func (db *DB) RecordProcessedEvent(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	query := `INSERT INTO processed_events (provider, event_id, event_type, processed_at) VALUES (?, ?, ?, ?)
              ON CONFLICT(provider, event_id) DO NOTHING`
	res, err := db.ExecContext(ctx, query, provider, eventID, eventType, time.Now().UTC())
	if err != nil {
		return false, storageErr("record event", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (db *DB) IsEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events WHERE provider = ? AND event_id = ?`, provider, eventID).Scan(&n)
	if err != nil {
		return false, storageErr("check event", err)
	}
	return n > 0, nil
}

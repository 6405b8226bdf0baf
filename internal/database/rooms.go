package database

import (
	"context"
	"fmt"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/models"
)

const roomColumns = `id, name, description, rate_full, rate_morning, rate_evening, monthly_rate,
	sort_order, is_active, created_at, updated_at`

func (db *DB) UpsertRoom(ctx context.Context, room *models.Room) error {
	query := `INSERT INTO rooms (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                description = excluded.description,
                rate_full = excluded.rate_full,
                rate_morning = excluded.rate_morning,
                rate_evening = excluded.rate_evening,
                monthly_rate = excluded.monthly_rate,
                sort_order = excluded.sort_order,
                is_active = excluded.is_active,
                updated_at = excluded.updated_at`
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, query,
		room.ID, room.Name, room.Description,
		room.DailyRates.Full, room.DailyRates.Morning, room.DailyRates.Evening,
		room.MonthlyRate, room.SortOrder, room.IsActive, now, now,
	)
	if err != nil {
		return storageErr("upsert room", err)
	}
	room.UpdatedAt = now
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	return nil
}

func (db *DB) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	rooms, err := db.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	return rooms[0], nil
}

func (db *DB) ListRooms(ctx context.Context, activeOnly bool) ([]*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY sort_order, id`
	return db.queryRooms(ctx, query)
}

func (db *DB) queryRooms(ctx context.Context, query string, args ...interface{}) ([]*models.Room, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query rooms", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		var r models.Room
		err := rows.Scan(
			&r.ID, &r.Name, &r.Description, &r.DailyRates.Full, &r.DailyRates.Morning, &r.DailyRates.Evening,
			&r.MonthlyRate, &r.SortOrder, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, storageErr("scan room", err)
		}
		rooms = append(rooms, &r)
	}
	return rooms, rows.Err()
}

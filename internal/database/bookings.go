package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/lifecycle"
	"clinicrooms/internal/models"
)

const bookingColumns = `id, user_id, booking_type, total_amount, includes_deposit, status, payment_status,
	COALESCE(payment_intent_id, ''), provider, last_event_id, amount_paid, currency, failure_code,
	failure_message, metadata, paid_at, failed_at, cancel_reason, cancelled_at, created_at, updated_at, version`

func (db *DB) ListActiveClaims(ctx context.Context, filter domain.ClaimFilter) ([]models.Claim, error) {
	query := `SELECT DISTINCT c.booking_id, c.room_id, c.date, c.time_slot, b.status
              FROM booking_claims c JOIN bookings b ON b.id = c.booking_id
              WHERE c.released_at IS NULL AND b.status IN (?, ?) AND c.date >= ? AND c.date <= ?`
	args := []interface{}{
		models.StatusPending, models.StatusConfirmed,
		filter.From.Format(models.DateLayout), filter.To.Format(models.DateLayout),
	}
	if len(filter.RoomIDs) > 0 {
		query += ` AND c.room_id IN (` + placeholders(len(filter.RoomIDs)) + `)`
		args = append(args, stringArgs(filter.RoomIDs)...)
	}
	query += ` ORDER BY c.date, c.room_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list claims", err)
	}
	defer rows.Close()

	var claims []models.Claim
	for rows.Next() {
		var c models.Claim
		if err := rows.Scan(&c.BookingID, &c.RoomID, &c.Date, &c.Slot, &c.Status); err != nil {
			return nil, storageErr("scan claim", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// CreatePendingBookings inserts bookings and one claim row per half-day in a
// single transaction. The partial unique index on active claims is what
// actually prevents double booking.
func (db *DB) CreatePendingBookings(ctx context.Context, bookings []*models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	insertBooking := `INSERT INTO bookings (
				id, user_id, booking_type, total_amount, includes_deposit, status, payment_status,
				payment_intent_id, provider, currency, metadata, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, 1)`
	insertClaim := `INSERT INTO booking_claims (booking_id, room_id, date, time_slot, half) VALUES (?, ?, ?, ?, ?)`

	for _, b := range bookings {
		if b.ID == "" {
			return fmt.Errorf("booking id is required")
		}
		meta, err := json.Marshal(b.PaymentDetails.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertBooking,
			b.ID, b.UserID, b.BookingType, b.TotalAmount, b.IncludesDeposit,
			models.StatusPending, models.PaymentPending, b.PaymentIntentID,
			b.PaymentDetails.Provider, b.PaymentDetails.Currency, string(meta), now, now,
		); err != nil {
			return storageErr("insert booking", err)
		}

		for _, rb := range b.RoomBookings {
			for _, d := range rb.Dates {
				for _, half := range rb.TimeSlot.Halves() {
					_, err := tx.ExecContext(ctx, insertClaim, b.ID, rb.RoomID, d.Format(models.DateLayout), rb.TimeSlot, half)
					if isUniqueViolation(err) {
						return fmt.Errorf("%w: %s %s %s", ErrSlotTaken, rb.RoomID, d.Format(models.DateLayout), half)
					}
					if err != nil {
						return storageErr("insert claim", err)
					}
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}

	for _, b := range bookings {
		b.Status = models.StatusPending
		b.PaymentStatus = models.PaymentPending
		b.CreatedAt = now
		b.UpdatedAt = now
		b.Version = 1
	}
	return nil
}

func (db *DB) AttachPaymentIntent(ctx context.Context, bookingIDs []string, intentID string) (int64, error) {
	if len(bookingIDs) == 0 {
		return 0, nil
	}
	query := `UPDATE bookings SET payment_intent_id = ?, updated_at = ?, version = version + 1
              WHERE (payment_intent_id IS NULL OR payment_intent_id = '') AND id IN (` + placeholders(len(bookingIDs)) + `)`
	args := append([]interface{}{intentID, time.Now().UTC()}, stringArgs(bookingIDs)...)
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageErr("attach intent", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	list, err := db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return list[0], nil
}

func (db *DB) GetBookings(ctx context.Context, ids []string) ([]*models.Booking, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY created_at, id`
	return db.queryBookings(ctx, query, stringArgs(ids)...)
}

func (db *DB) FindBookingsByPaymentIntent(ctx context.Context, intentID string) ([]*models.Booking, error) {
	if intentID == "" {
		return nil, nil
	}
	return db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_intent_id = ? ORDER BY created_at, id`, intentID)
}

func (db *DB) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	return db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
}

// TransitionBookings moves every listed booking whose current status allows
// ev. Status, payment fields and claim release happen in one transaction.
func (db *DB) TransitionBookings(
	ctx context.Context,
	ids []string,
	ev lifecycle.Event,
	details domain.TransitionDetails,
) ([]string, error) {
	to, pay, ok := lifecycle.Target(ev)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event %s", domain.ErrInvalidTransition, ev)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	at := details.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	sets := []string{"status = ?", "updated_at = ?", "version = version + 1"}
	args := []interface{}{to, at}
	if pay != "" {
		sets = append(sets, "payment_status = ?")
		args = append(args, pay)
	}
	if details.Provider != "" {
		sets = append(sets, "provider = ?")
		args = append(args, details.Provider)
	}
	if details.EventID != "" {
		sets = append(sets, "last_event_id = ?")
		args = append(args, details.EventID)
	}
	if details.AmountCents > 0 {
		sets = append(sets, "amount_paid = ?", "currency = ?")
		args = append(args, details.AmountCents, details.Currency)
	}
	switch ev {
	case lifecycle.EventPaymentSucceeded:
		sets = append(sets, "paid_at = ?")
		args = append(args, at)
	case lifecycle.EventPaymentFailed:
		sets = append(sets, "failed_at = ?", "failure_code = ?", "failure_message = ?")
		args = append(args, at, details.FailureCode, details.FailureMessage)
	case lifecycle.EventCancel:
		sets = append(sets, "cancelled_at = ?", "cancel_reason = ?")
		args = append(args, at, details.CancelReason)
	}

	sources := lifecycle.Sources(ev)
	query := `UPDATE bookings SET ` + strings.Join(sets, ", ") +
		` WHERE id IN (` + placeholders(len(ids)) + `) AND status IN (` + placeholders(len(sources)) + `) RETURNING id`
	args = append(args, stringArgs(ids)...)
	for _, s := range sources {
		args = append(args, s)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("transition", err)
	}
	var moved []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storageErr("scan transition", err)
		}
		moved = append(moved, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("transition", err)
	}

	if len(moved) > 0 && !to.Active() {
		release := `UPDATE booking_claims SET released_at = ? WHERE released_at IS NULL AND booking_id IN (` + placeholders(len(moved)) + `)`
		if _, err := tx.ExecContext(ctx, release, append([]interface{}{at}, stringArgs(moved)...)...); err != nil {
			return nil, storageErr("release claims", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit", err)
	}
	sort.Strings(moved)
	return moved, nil
}

func (db *DB) ListStalePaymentIntents(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	query := `SELECT payment_intent_id FROM bookings
              WHERE status = ? AND payment_intent_id IS NOT NULL AND payment_intent_id != '' AND created_at < ?
              GROUP BY payment_intent_id ORDER BY MIN(created_at) LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.StatusPending, olderThan.UTC(), limit)
	if err != nil {
		return nil, storageErr("list stale intents", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan intent", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) ListOrphanedPendingBookings(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM bookings
              WHERE status = ? AND (payment_intent_id IS NULL OR payment_intent_id = '') AND created_at < ?
              ORDER BY created_at LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.StatusPending, olderThan.UTC(), limit)
	if err != nil {
		return nil, storageErr("list orphaned bookings", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan booking id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReleaseStrandedClaims frees claims whose booking is missing or no longer
// active. Claims and bookings are written in one transaction here, so this
// only repairs rows changed outside the store; the cutoff is not needed.
func (db *DB) ReleaseStrandedClaims(ctx context.Context, _ time.Time, limit int) (int, error) {
	query := `UPDATE booking_claims SET released_at = ?
              WHERE rowid IN (
                  SELECT c.rowid FROM booking_claims c LEFT JOIN bookings b ON b.id = c.booking_id
                  WHERE c.released_at IS NULL AND (b.id IS NULL OR b.status NOT IN (?, ?))
                  LIMIT ?
              )`
	res, err := db.ExecContext(ctx, query, time.Now().UTC(), models.StatusPending, models.StatusConfirmed, limit)
	if err != nil {
		return 0, storageErr("release stranded claims", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("release stranded claims", err)
	}
	return int(n), nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query bookings", err)
	}

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bookings = append(bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("query bookings", err)
	}

	// claims are loaded after rows is closed; :memory: runs on one connection
	for _, b := range bookings {
		if err := db.loadRoomBookings(ctx, b); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

func scanBooking(rows *sql.Rows) (*models.Booking, error) {
	var (
		b    models.Booking
		meta string
	)
	err := rows.Scan(
		&b.ID, &b.UserID, &b.BookingType, &b.TotalAmount, &b.IncludesDeposit, &b.Status, &b.PaymentStatus,
		&b.PaymentIntentID, &b.PaymentDetails.Provider, &b.PaymentDetails.LastEventID, &b.PaymentDetails.AmountCents,
		&b.PaymentDetails.Currency, &b.PaymentDetails.FailureCode, &b.PaymentDetails.FailureMessage, &meta,
		&b.PaymentDetails.PaidAt, &b.PaymentDetails.FailedAt, &b.CancelReason, &b.CancelledAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, storageErr("scan booking", err)
	}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &b.PaymentDetails.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode booking metadata %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

// loadRoomBookings rebuilds room bookings from claim rows, including released
// ones so history survives cancellation.
func (db *DB) loadRoomBookings(ctx context.Context, b *models.Booking) error {
	query := `SELECT DISTINCT room_id, time_slot, date FROM booking_claims WHERE booking_id = ? ORDER BY room_id, time_slot, date`
	rows, err := db.QueryContext(ctx, query, b.ID)
	if err != nil {
		return storageErr("load claims", err)
	}
	defer rows.Close()

	type key struct {
		room string
		slot models.TimeSlot
	}
	byKey := make(map[key]*models.RoomBooking)
	var order []key
	for rows.Next() {
		var (
			k       key
			dateStr string
		)
		if err := rows.Scan(&k.room, &k.slot, &dateStr); err != nil {
			return storageErr("scan claim", err)
		}
		d, err := time.Parse(models.DateLayout, dateStr)
		if err != nil {
			return fmt.Errorf("failed to parse claim date %s: %w", dateStr, err)
		}
		rb, ok := byKey[k]
		if !ok {
			start, end := k.slot.Hours()
			rb = &models.RoomBooking{RoomID: k.room, TimeSlot: k.slot, StartTime: start, EndTime: end}
			byKey[k] = rb
			order = append(order, k)
		}
		rb.Dates = append(rb.Dates, d)
	}
	if err := rows.Err(); err != nil {
		return storageErr("load claims", err)
	}

	b.RoomBookings = b.RoomBookings[:0]
	for _, k := range order {
		b.RoomBookings = append(b.RoomBookings, *byKey[k])
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

package mongostore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/lifecycle"
	"clinicrooms/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// claimDoc is one (room, date, half-day) held by a booking.
type claimDoc struct {
	BookingID  string               `bson:"booking_id"`
	RoomID     string               `bson:"room_id"`
	Date       string               `bson:"date"`
	TimeSlot   models.TimeSlot      `bson:"time_slot"`
	Half       models.TimeSlot      `bson:"half"`
	Status     models.BookingStatus `bson:"status"`
	Active     bool                 `bson:"active"`
	CreatedAt  time.Time            `bson:"created_at"`
	ReleasedAt *time.Time           `bson:"released_at,omitempty"`
}

func (s *Store) ListActiveClaims(ctx context.Context, filter domain.ClaimFilter) ([]models.Claim, error) {
	q := bson.M{
		"active": true,
		"date": bson.M{
			"$gte": filter.From.Format(models.DateLayout),
			"$lte": filter.To.Format(models.DateLayout),
		},
	}
	if len(filter.RoomIDs) > 0 {
		q["room_id"] = bson.M{"$in": filter.RoomIDs}
	}

	cur, err := s.claims.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "room_id", Value: 1}}))
	if err != nil {
		return nil, storageErr("list claims", err)
	}
	var docs []claimDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr("decode claims", err)
	}

	// a full-day claim is stored once per half
	type key struct{ booking, room, date string }
	seen := make(map[key]bool)
	var claims []models.Claim
	for _, d := range docs {
		k := key{d.BookingID, d.RoomID, d.Date}
		if seen[k] {
			continue
		}
		seen[k] = true
		claims = append(claims, models.Claim{
			BookingID: d.BookingID,
			RoomID:    d.RoomID,
			Date:      d.Date,
			Slot:      d.TimeSlot,
			Status:    d.Status,
		})
	}
	return claims, nil
}

// CreatePendingBookings inserts claims first so the unique index arbitrates
// races, then the booking documents. A returned error removes what was
// inserted; claims stranded by a crash are freed by ReleaseStrandedClaims.
func (s *Store) CreatePendingBookings(ctx context.Context, bookings []*models.Booking) error {
	now := time.Now().UTC()
	ids := make([]string, 0, len(bookings))
	var claims []interface{}
	docs := make([]interface{}, 0, len(bookings))

	for _, b := range bookings {
		if b.ID == "" {
			return fmt.Errorf("booking id is required")
		}
		ids = append(ids, b.ID)
		for i := range b.RoomBookings {
			rb := &b.RoomBookings[i]
			if rb.StartTime == "" {
				rb.StartTime, rb.EndTime = rb.TimeSlot.Hours()
			}
			for _, d := range rb.Dates {
				for _, half := range rb.TimeSlot.Halves() {
					claims = append(claims, claimDoc{
						BookingID: b.ID,
						RoomID:    rb.RoomID,
						Date:      d.Format(models.DateLayout),
						TimeSlot:  rb.TimeSlot,
						Half:      half,
						Status:    models.StatusPending,
						Active:    true,
						CreatedAt: now,
					})
				}
			}
		}

		doc := *b
		doc.Status = models.StatusPending
		doc.PaymentStatus = models.PaymentPending
		doc.CreatedAt = now
		doc.UpdatedAt = now
		doc.Version = 1
		docs = append(docs, doc)
	}

	if len(claims) > 0 {
		if _, err := s.claims.InsertMany(ctx, claims); err != nil {
			s.compensate(ids)
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: %v", domain.ErrSlotTaken, err)
			}
			return storageErr("insert claims", err)
		}
	}
	if _, err := s.bookings.InsertMany(ctx, docs); err != nil {
		s.compensate(ids)
		return storageErr("insert bookings", err)
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

func (s *Store) compensate(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.claims.DeleteMany(ctx, bson.M{"booking_id": bson.M{"$in": ids}}); err != nil {
		s.logger.Error().Err(err).Strs("booking_ids", ids).Msg("Failed to remove claims after aborted insert")
	}
	if _, err := s.bookings.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		s.logger.Error().Err(err).Strs("booking_ids", ids).Msg("Failed to remove bookings after aborted insert")
	}
}

func (s *Store) AttachPaymentIntent(ctx context.Context, bookingIDs []string, intentID string) (int64, error) {
	if len(bookingIDs) == 0 {
		return 0, nil
	}
	filter := bson.M{
		"_id": bson.M{"$in": bookingIDs},
		"$or": bson.A{
			bson.M{"payment_intent_id": bson.M{"$exists": false}},
			bson.M{"payment_intent_id": ""},
		},
	}
	update := bson.M{
		"$set": bson.M{"payment_intent_id": intentID, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}
	res, err := s.bookings.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, storageErr("attach intent", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := s.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&b); err != nil {
		return nil, notFound("booking", id, err)
	}
	return &b, nil
}

func (s *Store) GetBookings(ctx context.Context, ids []string) ([]*models.Booking, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.findBookings(ctx, bson.M{"_id": bson.M{"$in": ids}}, 1)
}

func (s *Store) FindBookingsByPaymentIntent(ctx context.Context, intentID string) ([]*models.Booking, error) {
	if intentID == "" {
		return nil, nil
	}
	return s.findBookings(ctx, bson.M{"payment_intent_id": intentID}, 1)
}

func (s *Store) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	return s.findBookings(ctx, bson.M{"user_id": userID}, -1)
}

func (s *Store) findBookings(ctx context.Context, filter bson.M, order int) ([]*models.Booking, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: order}, {Key: "_id", Value: 1}})
	cur, err := s.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageErr("find bookings", err)
	}
	var out []*models.Booking
	if err := cur.All(ctx, &out); err != nil {
		return nil, storageErr("decode bookings", err)
	}
	return out, nil
}

// TransitionBookings runs one conditional UpdateMany tagged with a fresh
// token, then reads the token back to learn which documents moved.
func (s *Store) TransitionBookings(
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
	token := uuid.NewString()

	set := bson.M{
		"status":           to,
		"updated_at":       at,
		"transition_token": token,
	}
	if pay != "" {
		set["payment_status"] = pay
	}
	if details.Provider != "" {
		set["payment_details.provider"] = details.Provider
	}
	if details.EventID != "" {
		set["payment_details.last_event_id"] = details.EventID
	}
	if details.AmountCents > 0 {
		set["payment_details.amount_cents"] = details.AmountCents
		set["payment_details.currency"] = details.Currency
	}
	switch ev {
	case lifecycle.EventPaymentSucceeded:
		set["payment_details.paid_at"] = at
	case lifecycle.EventPaymentFailed:
		set["payment_details.failed_at"] = at
		set["payment_details.failure_code"] = details.FailureCode
		set["payment_details.failure_message"] = details.FailureMessage
	case lifecycle.EventCancel:
		set["cancelled_at"] = at
		set["cancel_reason"] = details.CancelReason
	}

	filter := bson.M{
		"_id":    bson.M{"$in": ids},
		"status": bson.M{"$in": lifecycle.Sources(ev)},
	}
	res, err := s.bookings.UpdateMany(ctx, filter, bson.M{"$set": set, "$inc": bson.M{"version": 1}})
	if err != nil {
		return nil, storageErr("transition", err)
	}
	if res.ModifiedCount == 0 {
		return nil, nil
	}

	cur, err := s.bookings.Find(ctx, bson.M{"transition_token": token}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, storageErr("read transition", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storageErr("decode transition", err)
	}
	moved := make([]string, 0, len(rows))
	for _, r := range rows {
		moved = append(moved, r.ID)
	}
	sort.Strings(moved)

	claimSet := bson.M{"status": to}
	if !to.Active() {
		claimSet["active"] = false
		claimSet["released_at"] = at
	}
	_, err = s.claims.UpdateMany(ctx,
		bson.M{"booking_id": bson.M{"$in": moved}, "active": true},
		bson.M{"$set": claimSet},
	)
	if err != nil {
		// The booking status is authoritative. Claims left active behind a
		// failed or cancelled booking are released by ReleaseStrandedClaims.
		s.logger.Error().Err(err).Strs("booking_ids", moved).Msg("Failed to update claims after transition")
	}
	return moved, nil
}

// ReleaseStrandedClaims releases active claims whose booking is no longer
// pending or confirmed, and claims older than olderThan whose booking was
// never written. It returns the number of claims released.
func (s *Store) ReleaseStrandedClaims(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"active": true}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         s.bookings.Name(),
			"localField":   "booking_id",
			"foreignField": "_id",
			"as":           "booking",
		}}},
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"booking.0": bson.M{"$exists": false}, "created_at": bson.M{"$lt": olderThan.UTC()}},
			bson.M{"booking.0": bson.M{"$exists": true}, "booking.0.status": bson.M{"$nin": bson.A{models.StatusPending, models.StatusConfirmed}}},
		}}}},
		{{Key: "$group", Value: bson.M{"_id": "$booking_id"}}},
		{{Key: "$limit", Value: limit}},
	}
	cur, err := s.claims.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, storageErr("find stranded claims", err)
	}
	var rows []struct {
		BookingID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, storageErr("decode stranded claims", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.BookingID)
	}
	res, err := s.claims.UpdateMany(ctx,
		bson.M{"booking_id": bson.M{"$in": ids}, "active": true},
		bson.M{"$set": bson.M{"active": false, "released_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, storageErr("release stranded claims", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *Store) ListStalePaymentIntents(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	filter := bson.M{
		"status":            models.StatusPending,
		"payment_intent_id": bson.M{"$exists": true, "$ne": ""},
		"created_at":        bson.M{"$lt": olderThan.UTC()},
	}
	values, err := s.bookings.Distinct(ctx, "payment_intent_id", filter)
	if err != nil {
		return nil, storageErr("list stale intents", err)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) ListOrphanedPendingBookings(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	filter := bson.M{
		"status": models.StatusPending,
		"$or": bson.A{
			bson.M{"payment_intent_id": bson.M{"$exists": false}},
			bson.M{"payment_intent_id": ""},
		},
		"created_at": bson.M{"$lt": olderThan.UTC()},
	}
	opts := options.Find().
		SetSort(bson.M{"created_at": 1}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})
	cur, err := s.bookings.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageErr("list orphaned bookings", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storageErr("decode orphaned bookings", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

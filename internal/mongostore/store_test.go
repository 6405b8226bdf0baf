package mongostore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/lifecycle"
	"clinicrooms/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func setupStore(t *testing.T) *Store {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	logger := zerolog.Nop()
	dbName := "clinicrooms_test_" + uuid.NewString()[:8]
	s, err := Connect(context.Background(), uri, dbName, 10*time.Second, &logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func day(s string) time.Time {
	d, _ := time.Parse(models.DateLayout, s)
	return d
}

func booking(id, room string, slot models.TimeSlot, dates ...string) *models.Booking {
	rb := models.RoomBooking{RoomID: room, TimeSlot: slot}
	for _, d := range dates {
		rb.Dates = append(rb.Dates, day(d))
	}
	return &models.Booking{ID: id, UserID: "u1", BookingType: models.BookingDaily, TotalAmount: 100, RoomBookings: []models.RoomBooking{rb}}
}

var june = domain.ClaimFilter{From: day("2025-06-01"), To: day("2025-06-30")}

func TestMongoClaimsUniqueness(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingBookings(ctx, []*models.Booking{booking("x", "R1", models.SlotMorning, "2025-06-02")}))
	require.NoError(t, s.CreatePendingBookings(ctx, []*models.Booking{booking("y", "R1", models.SlotEvening, "2025-06-02")}))

	err := s.CreatePendingBookings(ctx, []*models.Booking{booking("z", "R1", models.SlotFull, "2025-06-02")})
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	_, err = s.GetBooking(ctx, "z")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	claims, err := s.ListActiveClaims(ctx, june)
	require.NoError(t, err)
	assert.Len(t, claims, 2)
}

func TestMongoConcurrentCreate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreatePendingBookings(ctx, []*models.Booking{booking(uuid.NewString(), "R1", models.SlotFull, "2025-06-02", "2025-06-03")})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, wins, 1)
}

func TestMongoTransitions(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingBookings(ctx, []*models.Booking{
		booking("b1", "R1", models.SlotFull, "2025-06-02"),
		booking("b2", "R2", models.SlotFull, "2025-06-02"),
	}))
	n, err := s.AttachPaymentIntent(ctx, []string{"b1", "b2"}, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	moved, err := s.TransitionBookings(ctx, []string{"b1"}, lifecycle.EventPaymentSucceeded, domain.TransitionDetails{EventID: "evt_1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, moved)

	moved, err = s.TransitionBookings(ctx, []string{"b1", "b2"}, lifecycle.EventPaymentFailed, domain.TransitionDetails{FailureCode: "declined"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, moved)

	b1, err := s.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b1.Status)
	assert.Equal(t, "evt_1", b1.PaymentDetails.LastEventID)

	b2, err := s.GetBooking(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, b2.Status)
	assert.Equal(t, "declined", b2.PaymentDetails.FailureCode)

	claims, err := s.ListActiveClaims(ctx, june)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, models.StatusConfirmed, claims[0].Status)

	intents, err := s.ListStalePaymentIntents(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestMongoUsersAndEvents(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, &models.User{ID: "u1", Email: "a@example.com"}))
	ok, err := s.MarkVerified(ctx, "u1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkVerified(ctx, "u1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.IsVerified)

	first, err := s.RecordProcessedEvent(ctx, "stripe", "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := s.RecordProcessedEvent(ctx, "stripe", "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMongoReleaseStrandedClaims(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingBookings(ctx, []*models.Booking{booking("stuck", "R1", models.SlotMorning, "2025-06-02")}))
	require.NoError(t, s.CreatePendingBookings(ctx, []*models.Booking{booking("live", "R2", models.SlotMorning, "2025-06-02")}))

	// booking moved, claim update lost
	_, err := s.bookings.UpdateOne(ctx, bson.M{"_id": "stuck"}, bson.M{"$set": bson.M{"status": models.StatusFailed}})
	require.NoError(t, err)
	// claims written, booking insert lost
	_, err = s.claims.InsertOne(ctx, claimDoc{
		BookingID: "ghost", RoomID: "R3", Date: "2025-06-04", TimeSlot: models.SlotEvening,
		Half: models.SlotEvening, Status: models.StatusPending, Active: true,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)

	released, err := s.ReleaseStrandedClaims(ctx, time.Now().UTC().Add(-2*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released, "young orphan claims are left for an in-flight insert")

	released, err = s.ReleaseStrandedClaims(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	claims, err := s.ListActiveClaims(ctx, june)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "live", claims[0].BookingID)

	require.NoError(t, s.CreatePendingBookings(ctx, []*models.Booking{booking("again", "R1", models.SlotMorning, "2025-06-02")}))
}

func TestMongoCancelKeepsReason(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingBookings(ctx, []*models.Booking{booking("c1", "R1", models.SlotFull, "2025-06-05")}))
	moved, err := s.TransitionBookings(ctx, []string{"c1"}, lifecycle.EventCancel, domain.TransitionDetails{CancelReason: "room closed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, moved)

	got, err := s.GetBooking(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "room closed", got.CancelReason)
	assert.NotNil(t, got.CancelledAt)
}

package service

import (
	"context"
	"testing"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/events"
	"clinicrooms/internal/lifecycle"
	"clinicrooms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDuplicateSuccessIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.db.MarkVerified(ctx, "u1", testNow)
	require.NoError(t, err)

	res := f.checkout(t, "u1", sel("R1", models.SlotFull, "2025-06-02"))
	require.Equal(t, int64(50000), res.AmountCents)
	ev := successEvent("evt_1", res)

	first, err := f.reconciler.Apply(ctx, ev)
	require.NoError(t, err)
	assert.False(t, first.NoOp)
	assert.Equal(t, res.BookingIDs, first.Applied)

	second, err := f.reconciler.Apply(ctx, ev)
	require.NoError(t, err)
	assert.True(t, second.NoOp)
	assert.Empty(t, second.Applied)
	assert.Equal(t, res.BookingIDs, second.Matched)

	b, err := f.db.GetBooking(ctx, res.BookingIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, models.PaymentSucceeded, b.PaymentStatus)
	assert.Equal(t, int64(50000), b.PaymentDetails.AmountCents)
	assert.Equal(t, "evt_1", b.PaymentDetails.LastEventID)
	assert.Equal(t, 1, f.count(events.EventBookingConfirmed), "one confirmation notification")

	processed, err := f.db.IsEventProcessed(ctx, "fake", "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestApplyVerifiesDepositPayerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.checkout(t, "u1", sel("R2", models.SlotMorning, "2025-06-02"))
	require.Equal(t, int64(testDeposit), res.DepositCents)

	var verifiedRuns int
	for i := 0; i < 3; i++ {
		r, err := f.reconciler.Apply(ctx, successEvent("evt_c", res))
		require.NoError(t, err)
		verifiedRuns += len(r.VerifiedUsers)
	}
	assert.Equal(t, 1, verifiedRuns)
	assert.Equal(t, 1, f.count(events.EventUserVerified))
	assert.Equal(t, 1, f.count(events.EventBookingConfirmed))

	u, err := f.users.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.IsVerified)
	require.NotNil(t, u.VerifiedAt)

	// The next checkout no longer charges a deposit.
	next := f.checkout(t, "u1", sel("R2", models.SlotMorning, "2025-06-03"))
	assert.Zero(t, next.DepositCents)
}

func TestVerificationRepairedOnRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.checkout(t, "u1", sel("R1", models.SlotEvening, "2025-06-02"))
	// Simulate a crash after the transition but before the verification step.
	_, err := f.db.TransitionBookings(ctx, res.BookingIDs, lifecycle.EventPaymentSucceeded, domain.TransitionDetails{})
	require.NoError(t, err)

	r, err := f.reconciler.Apply(ctx, successEvent("evt_r", res))
	require.NoError(t, err)
	assert.True(t, r.NoOp)
	assert.Equal(t, []string{"u1"}, r.VerifiedUsers)
	assert.Equal(t, 1, f.count(events.EventUserVerified), "repair still announces the verification")
	assert.Equal(t, 0, f.count(events.EventBookingConfirmed))

	u, err := f.users.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.IsVerified)

	_, err = f.reconciler.Apply(ctx, successEvent("evt_r", res))
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(events.EventUserVerified))
}

func TestFailureAfterSuccessKeepsConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.checkout(t, "u1", sel("R1", models.SlotMorning, "2025-06-02"))
	_, err := f.reconciler.Apply(ctx, successEvent("evt_ok", res))
	require.NoError(t, err)

	r, err := f.reconciler.Apply(ctx, failedEvent("evt_fail", res))
	require.NoError(t, err)
	assert.True(t, r.NoOp)

	b, err := f.db.GetBooking(ctx, res.BookingIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Empty(t, b.PaymentDetails.FailureCode)
	assert.Equal(t, 0, f.count(events.EventBookingFailed))
}

func TestFailureReleasesSlotsAndLaterSuccessWarns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.checkout(t, "u1", sel("R1", models.SlotFull, "2025-06-02"))
	r, err := f.reconciler.Apply(ctx, failedEvent("evt_fail", res))
	require.NoError(t, err)
	assert.Equal(t, res.BookingIDs, r.Applied)
	assert.Equal(t, 1, f.count(events.EventBookingFailed))

	b, err := f.db.GetBooking(ctx, res.BookingIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, b.Status)
	assert.Equal(t, "card_declined", b.PaymentDetails.FailureCode)
	assert.Equal(t, "Your card was declined.", b.PaymentDetails.FailureMessage)

	conflicts, err := f.bookings.CheckConflicts(ctx, []models.Selection{sel("R1", models.SlotFull, "2025-06-02")})
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	late, err := f.reconciler.Apply(ctx, successEvent("evt_late", res))
	require.NoError(t, err)
	assert.True(t, late.NoOp)
	assert.NotEmpty(t, late.Warnings)
	assert.Empty(t, late.VerifiedUsers)
}

func TestApplyNothingToDo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.reconciler.Apply(ctx, &domain.PaymentEvent{
		ID: "evt_x", Type: "payment_intent.succeeded", Source: SourceWebhook,
		PaymentIntentID: "pi_unknown", Outcome: domain.OutcomeSucceeded,
	})
	require.NoError(t, err)
	assert.True(t, r.NoOp)
	assert.Empty(t, r.Matched)

	r, err = f.reconciler.Apply(ctx, &domain.PaymentEvent{
		ID: "evt_y", Type: "payment_intent.created", Source: SourceWebhook,
		PaymentIntentID: "pi_unknown", Outcome: domain.OutcomeOther,
	})
	require.NoError(t, err)
	assert.True(t, r.NoOp)
}

func TestApplyResolvesByMetadataBeforeAttach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := &models.Booking{
		ID: "b-meta", UserID: "u2", BookingType: models.BookingDaily, TotalAmount: 30000,
		RoomBookings: []models.RoomBooking{{RoomID: "R1", TimeSlot: models.SlotMorning, Dates: []time.Time{day("2025-06-05")}}},
	}
	require.NoError(t, f.db.CreatePendingBookings(ctx, []*models.Booking{b}))

	r, err := f.reconciler.Apply(ctx, &domain.PaymentEvent{
		ID: "evt_m", Type: "payment_intent.succeeded", Source: SourceWebhook,
		PaymentIntentID: "pi_race", Outcome: domain.OutcomeSucceeded,
		Metadata: map[string]string{models.MetaBookingIDs: "b-meta, missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-meta"}, r.Applied)
}

func TestApplySkipsBookingsOfAnotherIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.checkout(t, "u1", sel("R1", models.SlotMorning, "2025-06-02"))
	r, err := f.reconciler.Apply(ctx, &domain.PaymentEvent{
		ID: "evt_o", Type: "payment_intent.succeeded", Source: SourceWebhook,
		PaymentIntentID: "pi_other", Outcome: domain.OutcomeSucceeded,
		Metadata: map[string]string{models.MetaBookingIDs: res.BookingIDs[0]},
	})
	require.NoError(t, err)
	assert.True(t, r.NoOp)
	assert.Empty(t, r.Matched)
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bus.Subscribe(events.EventBookingConfirmed, func(_ *events.Event) error { return errBoom })

	res := f.checkout(t, "u1", sel("R2", models.SlotEvening, "2025-06-02"))
	r, err := f.reconciler.Apply(ctx, successEvent("evt_n", res))
	require.NoError(t, err)
	assert.False(t, r.NoOp)
	assert.NotEmpty(t, r.Warnings)

	b, err := f.db.GetBooking(ctx, res.BookingIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
}

func TestSyncPaymentIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.checkout(t, "u1", sel("R1", models.SlotFull, "2025-06-07"))

	r, err := f.reconciler.SyncPaymentIntent(ctx, res.PaymentIntentID, SourceManual)
	require.NoError(t, err)
	assert.True(t, r.NoOp, "requires_payment_method is not an outcome")

	require.NoError(t, f.provider.SetStatus(res.PaymentIntentID, "succeeded", "", ""))
	r, err = f.reconciler.SyncPaymentIntent(ctx, res.PaymentIntentID, SourceManual)
	require.NoError(t, err)
	assert.Equal(t, res.BookingIDs, r.Applied)
	assert.Equal(t, SourceManual, r.Source)

	// A webhook arriving after the manual sync changes nothing.
	r, err = f.reconciler.Apply(ctx, successEvent("evt_after", res))
	require.NoError(t, err)
	assert.True(t, r.NoOp)
	assert.Equal(t, 1, f.count(events.EventBookingConfirmed))

	_, err = f.reconciler.SyncPaymentIntent(ctx, "pi_missing", SourceManual)
	assert.Error(t, err)
	_, err = f.reconciler.SyncPaymentIntent(ctx, "", SourceManual)
	assert.Error(t, err)
}

func TestFailBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.checkout(t, "u1", sel("R1", models.SlotMorning, "2025-06-02"))
	moved, err := f.reconciler.FailBookings(ctx, res.BookingIDs, "intent_missing", "no payment intent")
	require.NoError(t, err)
	assert.Equal(t, res.BookingIDs, moved)

	moved, err = f.reconciler.FailBookings(ctx, res.BookingIDs, "intent_missing", "no payment intent")
	require.NoError(t, err)
	assert.Empty(t, moved)
}

package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"clinicrooms/internal/database"
	"clinicrooms/internal/domain"
	"clinicrooms/internal/events"
	"clinicrooms/internal/models"
	"clinicrooms/internal/payments"
	"clinicrooms/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testDeposit = 10000

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db         *database.DB
	drafts     *repository.MemoryDraftRepository
	provider   *payments.FakeProvider
	bus        *events.EventBus
	reconciler *ReconcileService
	bookings   *BookingService
	users      *UserService
	rooms      *RoomService

	mu        sync.Mutex
	published map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.WarnLevel)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:        db,
		drafts:    repository.NewMemoryDraftRepository(),
		provider:  payments.NewFakeProvider(),
		bus:       events.NewEventBus(),
		published: make(map[string]int),
	}
	for _, et := range []string{events.EventBookingConfirmed, events.EventBookingFailed, events.EventBookingCancelled, events.EventUserVerified} {
		et := et
		f.bus.Subscribe(et, func(_ *events.Event) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.published[et]++
			return nil
		})
	}

	f.reconciler = NewReconcileService(db, f.provider, f.bus, &logger)
	f.reconciler.now = func() time.Time { return testNow }
	f.bookings = NewBookingService(db, f.drafts, f.provider, f.reconciler, f.bus, BookingOptions{
		MaxAdvanceDays: 365,
		DraftTTL:       time.Hour,
		DraftRateLimit: 100,
		Currency:       "usd",
		DepositCents:   testDeposit,
	}, &logger)
	f.bookings.now = func() time.Time { return testNow }
	f.users = NewUserService(db, &logger)
	f.rooms = NewRoomService(db, &logger)

	ctx := context.Background()
	require.NoError(t, f.rooms.SyncCatalogue(ctx, []*models.Room{
		{
			ID: "R1", Name: "Room 1", IsActive: true, SortOrder: 1,
			DailyRates:  models.SlotRates{Full: 50000, Morning: 30000, Evening: 30000},
			MonthlyRate: 400000,
		},
		{
			ID: "R2", Name: "Room 2", IsActive: true, SortOrder: 2,
			DailyRates:  models.SlotRates{Full: 40000, Morning: 25000, Evening: 25000},
			MonthlyRate: 300000,
		},
	}))
	_, err = f.users.EnsureUser(ctx, "u1", "u1@clinic.test", "Dr. One")
	require.NoError(t, err)
	_, err = f.users.EnsureUser(ctx, "u2", "u2@clinic.test", "Dr. Two")
	require.NoError(t, err)
	return f
}

func (f *fixture) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[eventType]
}

func day(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func sel(room string, slot models.TimeSlot, dates ...string) models.Selection {
	s := models.Selection{RoomID: room, TimeSlot: slot}
	for _, d := range dates {
		s.Dates = append(s.Dates, day(d))
	}
	return s
}

// checkout creates a draft and checks it out for user.
func (f *fixture) checkout(t *testing.T, user string, selections ...models.Selection) *CheckoutResult {
	t.Helper()
	ctx := context.Background()
	draft, err := f.bookings.CreateDraft(ctx, user, models.BookingDaily, selections)
	require.NoError(t, err)
	res, err := f.bookings.Checkout(ctx, user, draft.ID)
	require.NoError(t, err)
	return res
}

func successEvent(id string, res *CheckoutResult) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		ID:              id,
		Type:            "payment_intent.succeeded",
		Source:          SourceWebhook,
		PaymentIntentID: res.PaymentIntentID,
		Outcome:         domain.OutcomeSucceeded,
		AmountCents:     res.AmountCents,
		Currency:        "usd",
		Metadata:        map[string]string{models.MetaBookingIDs: joinIDs(res.BookingIDs)},
	}
}

func failedEvent(id string, res *CheckoutResult) *domain.PaymentEvent {
	ev := successEvent(id, res)
	ev.Type = "payment_intent.payment_failed"
	ev.Outcome = domain.OutcomeFailed
	ev.FailureCode = "card_declined"
	ev.FailureMessage = "Your card was declined."
	return ev
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

var errBoom = errors.New("boom")

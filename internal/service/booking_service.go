package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clinicrooms/internal/availability"
	"clinicrooms/internal/domain"
	"clinicrooms/internal/events"
	"clinicrooms/internal/lifecycle"
	"clinicrooms/internal/metrics"
	"clinicrooms/internal/models"
	"clinicrooms/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingOptions are the booking rules taken from config.
type BookingOptions struct {
	MaxAdvanceDays  int
	DraftTTL        time.Duration
	DraftRateLimit  int
	DraftRateWindow time.Duration
	Currency        string
	DepositCents    int64
}

type BookingService struct {
	store      domain.Store
	drafts     domain.DraftRepository
	payments   domain.PaymentProvider
	reconciler *ReconcileService
	eventBus   domain.EventPublisher
	opts       BookingOptions
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewBookingService(
	store domain.Store,
	drafts domain.DraftRepository,
	payments domain.PaymentProvider,
	reconciler *ReconcileService,
	eventBus domain.EventPublisher,
	opts BookingOptions,
	logger *zerolog.Logger,
) *BookingService {
	if opts.MaxAdvanceDays <= 0 {
		opts.MaxAdvanceDays = models.DefaultMaxBookingDays
	}
	if opts.DraftTTL <= 0 {
		opts.DraftTTL = models.DefaultDraftTTL * time.Second
	}
	if opts.DraftRateLimit <= 0 {
		opts.DraftRateLimit = 20
	}
	if opts.DraftRateWindow <= 0 {
		opts.DraftRateWindow = time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	l := logger.With().Str("component", "booking_service").Logger()
	return &BookingService{
		store:      store,
		drafts:     drafts,
		payments:   payments,
		reconciler: reconciler,
		eventBus:   eventBus,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     &l,
	}
}

// GetAvailability returns the occupancy of every (date, room) with at least
// one active claim in the month. An empty roomID means all rooms.
func (s *BookingService) GetAvailability(ctx context.Context, roomID string, year int, month time.Month) ([]availability.Entry, error) {
	if month < time.January || month > time.December {
		return nil, domain.NewValidationError("month", "must be 1..12, got %d", month)
	}
	if year < 2000 || year > 2200 {
		return nil, domain.NewValidationError("year", "out of range: %d", year)
	}

	filter := domain.ClaimFilter{}
	filter.From, filter.To = availability.MonthRange(year, month)
	if roomID != "" {
		if _, err := s.store.GetRoom(ctx, roomID); err != nil {
			return nil, err
		}
		filter.RoomIDs = []string{roomID}
	}

	claims, err := s.store.ListActiveClaims(ctx, filter)
	if err != nil {
		return nil, err
	}
	return availability.Build(claims).Entries(), nil
}

// CheckConflicts runs the conflict checker for a proposed request without
// reserving anything.
func (s *BookingService) CheckConflicts(ctx context.Context, selections []models.Selection) ([]availability.Conflict, error) {
	if len(selections) == 0 {
		return nil, domain.NewValidationError("selections", "at least one selection is required")
	}
	normalized, err := normalizeSelections(models.BookingDaily, selections, nil, s.now(), s.opts.MaxAdvanceDays)
	var ve *domain.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve) && ve.Field == "selections":
		// Overlap inside the request is reported as conflicts, not rejected.
		normalized = selectionsUTC(selections)
	default:
		return nil, err
	}

	out, err := s.conflicts(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return append(out, availability.SelfConflicts(normalized)...), nil
}

func (s *BookingService) conflicts(ctx context.Context, selections []models.Selection) ([]availability.Conflict, error) {
	claims, err := s.store.ListActiveClaims(ctx, claimFilter(selections))
	if err != nil {
		return nil, err
	}
	return availability.Check(selections, claims), nil
}

func (s *BookingService) CreateDraft(ctx context.Context, userID string, bookingType models.BookingType, selections []models.Selection) (*models.Draft, error) {
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "required")
	}
	allowed, err := s.drafts.CheckRateLimit(ctx, userID, s.opts.DraftRateLimit, s.opts.DraftRateWindow)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrRateLimited
	}

	rooms, err := s.roomMap(ctx)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeSelections(bookingType, selections, rooms, s.now(), s.opts.MaxAdvanceDays)
	if err != nil {
		return nil, err
	}

	conflicts, err := s.conflicts(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, &domain.ConflictError{Conflicts: conflicts}
	}

	now := s.now()
	draft := &models.Draft{
		ID:          uuid.NewString(),
		UserID:      userID,
		BookingType: bookingType,
		Selections:  normalized,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.opts.DraftTTL),
	}
	if err := s.drafts.SaveDraft(ctx, draft, s.opts.DraftTTL); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("draft_id", draft.ID).Str("user_id", userID).Int("selections", len(normalized)).Msg("Draft created")
	return draft, nil
}

func (s *BookingService) GetDraft(ctx context.Context, userID, draftID string) (*models.Draft, error) {
	draft, err := s.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft == nil || draft.Expired(s.now()) {
		return nil, fmt.Errorf("draft %s: %w", draftID, domain.ErrNotFound)
	}
	if draft.UserID != userID {
		return nil, domain.ErrForbidden
	}
	return draft, nil
}

func (s *BookingService) DeleteDraft(ctx context.Context, userID, draftID string) error {
	if _, err := s.GetDraft(ctx, userID, draftID); err != nil {
		return err
	}
	return s.drafts.DeleteDraft(ctx, draftID)
}

// CheckoutResult is what the client needs to confirm the payment.
type CheckoutResult struct {
	BookingIDs      []string       `json:"booking_ids"`
	PaymentIntentID string         `json:"payment_intent_id"`
	ClientSecret    string         `json:"client_secret"`
	AmountCents     int64          `json:"amount_cents"`
	DepositCents    int64          `json:"deposit_cents"`
	Currency        string         `json:"currency"`
	Quote           *pricing.Quote `json:"quote"`
}

// Checkout promotes a draft to pending bookings and creates the payment
// intent that pays for them. The store's claim constraint decides races; the
// conflict check before it only produces a friendlier error.
func (s *BookingService) Checkout(ctx context.Context, userID, draftID string) (*CheckoutResult, error) {
	draft, err := s.GetDraft(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}

	rooms, err := s.roomMap(ctx)
	if err != nil {
		return nil, err
	}
	selections, err := normalizeSelections(draft.BookingType, draft.Selections, rooms, s.now(), s.opts.MaxAdvanceDays)
	if err != nil {
		return nil, err
	}

	conflicts, err := s.conflicts(ctx, selections)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		metrics.IncSlotConflict()
		return nil, &domain.ConflictError{Conflicts: conflicts}
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.Compute(draft.BookingType, selections, rooms, user.IsVerified, s.opts.DepositCents)
	if err != nil {
		return nil, pricingError(err)
	}

	bookings := s.buildBookings(userID, draft, selections, quote)
	ids := bookingIDs(bookings)

	if err := s.store.CreatePendingBookings(ctx, bookings); err != nil {
		if errors.Is(err, domain.ErrSlotTaken) {
			metrics.IncSlotConflict()
			// Lost the race after the pre-check; report what is held now.
			fresh, cerr := s.conflicts(ctx, selections)
			if cerr != nil {
				fresh = nil
			}
			return nil, &domain.ConflictError{Conflicts: fresh}
		}
		return nil, err
	}

	intent, err := s.payments.CreateIntent(ctx, domain.IntentRequest{
		AmountCents:    quote.TotalCents,
		Currency:       s.opts.Currency,
		Description:    fmt.Sprintf("Clinic room booking %s", strings.Join(ids, ", ")),
		IdempotencyKey: "checkout:" + ids[0],
		Metadata: map[string]string{
			models.MetaBookingIDs:      strings.Join(ids, ","),
			models.MetaUserID:          userID,
			models.MetaIncludesDeposit: strconv.FormatBool(quote.IncludesDeposit()),
			models.MetaDraftID:         draft.ID,
		},
	})
	if err != nil {
		s.releaseAfterIntentFailure(ctx, ids, err)
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &domain.ProviderError{Op: "create_intent", Err: err, Retriable: true}
	}

	if _, err := s.store.AttachPaymentIntent(ctx, ids, intent.ID); err != nil {
		// The orphan sweep fails these bookings; the client never saw the secret.
		s.logger.Error().Err(err).Strs("booking_ids", ids).Str("payment_intent_id", intent.ID).Msg("Attach payment intent failed")
		return nil, err
	}

	if err := s.drafts.DeleteDraft(ctx, draft.ID); err != nil {
		s.logger.Warn().Err(err).Str("draft_id", draft.ID).Msg("Delete draft after checkout failed")
	}

	s.logger.Info().
		Strs("booking_ids", ids).
		Str("payment_intent_id", intent.ID).
		Int64("amount", quote.TotalCents).
		Bool("includes_deposit", quote.IncludesDeposit()).
		Msg("Checkout created pending bookings")

	return &CheckoutResult{
		BookingIDs:      ids,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		AmountCents:     quote.TotalCents,
		DepositCents:    quote.DepositCents,
		Currency:        s.opts.Currency,
		Quote:           quote,
	}, nil
}

func (s *BookingService) releaseAfterIntentFailure(ctx context.Context, ids []string, cause error) {
	// The request context may already be done; the release must still run.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := s.reconciler.FailBookings(rctx, ids, "intent_creation_failed", cause.Error()); err != nil {
		s.logger.Error().Err(err).Strs("booking_ids", ids).Msg("Release bookings after intent failure")
	}
}

// buildBookings makes one booking per room. The deposit, when charged, is
// carried by the first booking so the totals add up to the intent amount.
func (s *BookingService) buildBookings(userID string, draft *models.Draft, selections []models.Selection, quote *pricing.Quote) []*models.Booking {
	byRoom := make(map[string][]models.RoomBooking)
	for _, sel := range selections {
		start, end := sel.TimeSlot.Hours()
		byRoom[sel.RoomID] = append(byRoom[sel.RoomID], models.RoomBooking{
			RoomID:    sel.RoomID,
			TimeSlot:  sel.TimeSlot,
			Dates:     sel.Dates,
			StartTime: start,
			EndTime:   end,
		})
	}

	var bookings []*models.Booking
	for i, roomID := range quote.Rooms() {
		total := quote.RoomTotals[roomID]
		if i == 0 {
			total += quote.DepositCents
		}
		bookings = append(bookings, &models.Booking{
			ID:              uuid.NewString(),
			UserID:          userID,
			RoomBookings:    byRoom[roomID],
			BookingType:     draft.BookingType,
			TotalAmount:     total,
			IncludesDeposit: quote.IncludesDeposit(),
			PaymentDetails: models.PaymentDetails{
				Provider: s.payments.Name(),
				Currency: s.opts.Currency,
				Metadata: map[string]string{models.MetaDraftID: draft.ID},
			},
		})
	}
	return bookings
}

// GetBooking returns a booking visible to the caller. Admins see every booking.
func (s *BookingService) GetBooking(ctx context.Context, userID string, admin bool, id string) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && b.UserID != userID {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (s *BookingService) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	return s.store.ListUserBookings(ctx, userID)
}

// CancelBooking is the administrative cancel. It releases the booking's
// slots. Cancelling an already cancelled booking is not an error.
func (s *BookingService) CancelBooking(ctx context.Context, id, reason string) (*models.Booking, error) {
	moved, err := s.store.TransitionBookings(ctx, []string{id}, lifecycle.EventCancel, domain.TransitionDetails{
		CancelReason: reason,
		At:           s.now(),
	})
	if err != nil {
		return nil, err
	}

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(moved) == 0 {
		if lifecycle.Decide(b.Status, lifecycle.EventCancel) == lifecycle.AlreadyApplied {
			return b, nil
		}
		return nil, fmt.Errorf("%w: booking %s is %s", domain.ErrInvalidTransition, id, b.Status)
	}

	s.logger.Info().Str("booking_id", id).Str("reason", reason).Msg("Booking cancelled")
	if s.eventBus != nil {
		payload := events.BookingEventPayload{
			BookingIDs:      moved,
			UserID:          b.UserID,
			PaymentIntentID: b.PaymentIntentID,
			Status:          string(b.Status),
			FailureMessage:  reason,
			Source:          "admin",
			At:              s.now(),
		}
		if err := s.eventBus.PublishJSON(events.EventBookingCancelled, payload); err != nil {
			s.logger.Warn().Err(err).Str("booking_id", id).Msg("Publish cancel event failed")
		}
	}
	return b, nil
}

func (s *BookingService) roomMap(ctx context.Context) (map[string]*models.Room, error) {
	rooms, err := s.store.ListRooms(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Room, len(rooms))
	for _, r := range rooms {
		out[r.ID] = r
	}
	return out, nil
}

func bookingIDs(bookings []*models.Booking) []string {
	ids := make([]string, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	return ids
}

func selectionsUTC(selections []models.Selection) []models.Selection {
	out := make([]models.Selection, len(selections))
	for i, sel := range selections {
		out[i] = sel
		out[i].Dates = make([]time.Time, len(sel.Dates))
		for j, d := range sel.Dates {
			out[i].Dates[j] = models.NormalizeDate(d)
		}
	}
	return out
}

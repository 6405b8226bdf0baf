package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/events"
	"clinicrooms/internal/lifecycle"
	"clinicrooms/internal/metrics"
	"clinicrooms/internal/models"
	"clinicrooms/internal/payments"

	"github.com/rs/zerolog"
)

const (
	SourceWebhook = "webhook"
	SourceManual  = "manual"
	SourceSweeper = "sweeper"
)

// Result describes what one reconciliation run did. NoOp is set when no
// booking changed status; it is a success, not an error.
type Result struct {
	EventID         string         `json:"event_id"`
	PaymentIntentID string         `json:"payment_intent_id"`
	Source          string         `json:"source"`
	Outcome         domain.Outcome `json:"outcome"`
	Matched         []string       `json:"matched"`
	Applied         []string       `json:"applied"`
	NoOp            bool           `json:"noop"`
	VerifiedUsers   []string       `json:"verified_users,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// ReconcileService applies payment outcomes to bookings. Webhook deliveries,
// manual syncs and the sweeper all go through Apply.
type ReconcileService struct {
	store    domain.Store
	provider domain.PaymentProvider
	eventBus domain.EventPublisher
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewReconcileService(store domain.Store, provider domain.PaymentProvider, eventBus domain.EventPublisher, logger *zerolog.Logger) *ReconcileService {
	l := logger.With().Str("component", "reconcile").Logger()
	return &ReconcileService{
		store:    store,
		provider: provider,
		eventBus: eventBus,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   &l,
	}
}

// Apply reconciles bookings with one provider event. It is safe to run any
// number of times for the same event, in any order relative to other events
// for the same intent: only pending bookings ever move.
func (s *ReconcileService) Apply(ctx context.Context, ev *domain.PaymentEvent) (*Result, error) {
	res := &Result{
		EventID:         ev.ID,
		PaymentIntentID: ev.PaymentIntentID,
		Source:          ev.Source,
		Outcome:         ev.Outcome,
		NoOp:            true,
	}
	log := s.logger.With().
		Str("event_id", ev.ID).
		Str("payment_intent_id", ev.PaymentIntentID).
		Str("source", ev.Source).
		Str("outcome", string(ev.Outcome)).
		Logger()

	var lev lifecycle.Event
	switch ev.Outcome {
	case domain.OutcomeSucceeded:
		lev = lifecycle.EventPaymentSucceeded
	case domain.OutcomeFailed:
		lev = lifecycle.EventPaymentFailed
	default:
		log.Debug().Str("type", ev.Type).Msg("Event carries no booking outcome")
		s.finish(ctx, ev, res, log)
		return res, nil
	}

	bookings, err := s.resolve(ctx, ev)
	if err != nil {
		metrics.IncReconcile(ev.Source, "error")
		log.Error().Err(err).Msg("Resolve bookings failed")
		return nil, err
	}
	if len(bookings) == 0 {
		log.Info().Msg("No bookings match event")
		s.finish(ctx, ev, res, log)
		return res, nil
	}

	var candidates []string
	for _, b := range bookings {
		res.Matched = append(res.Matched, b.ID)
		switch lifecycle.Decide(b.Status, lev) {
		case lifecycle.Apply:
			candidates = append(candidates, b.ID)
		case lifecycle.Rejected:
			if lev == lifecycle.EventPaymentSucceeded {
				// Money arrived for a booking that already lost its slots.
				log.Error().Str("booking_id", b.ID).Str("status", string(b.Status)).Msg("Payment succeeded for a booking that is no longer pending, refund required")
				res.Warnings = append(res.Warnings, fmt.Sprintf("booking %s is %s, payment needs refund", b.ID, b.Status))
			}
		}
	}

	if len(candidates) > 0 {
		moved, err := s.store.TransitionBookings(ctx, candidates, lev, domain.TransitionDetails{
			Provider:       s.providerName(),
			EventID:        ev.ID,
			AmountCents:    ev.AmountCents,
			Currency:       ev.Currency,
			FailureCode:    ev.FailureCode,
			FailureMessage: ev.FailureMessage,
			At:             s.now(),
		})
		if err != nil {
			metrics.IncReconcile(ev.Source, "error")
			log.Error().Err(err).Strs("booking_ids", candidates).Msg("Transition failed")
			return nil, err
		}
		res.Applied = moved
		res.NoOp = len(moved) == 0
	}

	if lev == lifecycle.EventPaymentSucceeded {
		// Runs on every delivery so a crash between the transition and this
		// step is repaired by the next redelivery. MarkVerified is conditional.
		verified, err := s.verifyDepositPayers(ctx, ev, bookings, res.Applied)
		if err != nil {
			metrics.IncReconcile(ev.Source, "error")
			log.Error().Err(err).Msg("Mark user verified failed")
			return nil, err
		}
		res.VerifiedUsers = verified
	}

	if len(res.Applied) > 0 {
		s.notify(ev, lev, bookings, res)
	}
	// also covers a redelivery that only repaired verification
	if len(res.VerifiedUsers) > 0 {
		s.notifyVerified(ev, res)
	}

	log.Info().
		Strs("matched", res.Matched).
		Strs("applied", res.Applied).
		Bool("noop", res.NoOp).
		Strs("verified_users", res.VerifiedUsers).
		Msg("Reconciled payment event")
	s.finish(ctx, ev, res, log)
	return res, nil
}

// resolve collects bookings named in the event metadata plus those carrying
// the intent id. Metadata-only bookings count when they have no intent yet,
// which happens when the webhook beats AttachPaymentIntent.
func (s *ReconcileService) resolve(ctx context.Context, ev *domain.PaymentEvent) ([]*models.Booking, error) {
	byID := make(map[string]*models.Booking)

	if ids := metadataBookingIDs(ev.Metadata); len(ids) > 0 {
		listed, err := s.store.GetBookings(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, b := range listed {
			if b.PaymentIntentID != "" && b.PaymentIntentID != ev.PaymentIntentID {
				s.logger.Warn().
					Str("booking_id", b.ID).
					Str("booking_intent", b.PaymentIntentID).
					Str("event_intent", ev.PaymentIntentID).
					Msg("Booking listed in metadata belongs to another intent, skipped")
				continue
			}
			byID[b.ID] = b
		}
	}

	if ev.PaymentIntentID != "" {
		linked, err := s.store.FindBookingsByPaymentIntent(ctx, ev.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		for _, b := range linked {
			byID[b.ID] = b
		}
	}

	out := make([]*models.Booking, 0, len(byID))
	for _, b := range byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// verifyDepositPayers flips the verification flag of every user whose
// confirmed booking in this payment included the security deposit.
func (s *ReconcileService) verifyDepositPayers(ctx context.Context, ev *domain.PaymentEvent, bookings []*models.Booking, applied []string) ([]string, error) {
	moved := make(map[string]bool, len(applied))
	for _, id := range applied {
		moved[id] = true
	}
	metaDeposit := ev.Metadata[models.MetaIncludesDeposit] == "true"

	users := make(map[string]bool)
	for _, b := range bookings {
		confirmed := moved[b.ID] || b.Status == models.StatusConfirmed
		if confirmed && (b.IncludesDeposit || metaDeposit) && b.UserID != "" {
			users[b.UserID] = true
		}
	}

	var verified []string
	for userID := range users {
		ok, err := s.store.MarkVerified(ctx, userID, s.now())
		if err != nil {
			return verified, fmt.Errorf("verify user %s: %w", userID, err)
		}
		if ok {
			verified = append(verified, userID)
		}
	}
	sort.Strings(verified)
	return verified, nil
}

// notify publishes best-effort side effects. Failures never undo the
// transition; they surface as warnings on the result.
func (s *ReconcileService) notify(ev *domain.PaymentEvent, lev lifecycle.Event, bookings []*models.Booking, res *Result) {
	if s.eventBus == nil {
		return
	}

	eventType, status := events.EventBookingConfirmed, models.StatusConfirmed
	if lev == lifecycle.EventPaymentFailed {
		eventType, status = events.EventBookingFailed, models.StatusFailed
	}

	userID := ev.Metadata[models.MetaUserID]
	for _, b := range bookings {
		if b.UserID != "" {
			userID = b.UserID
			break
		}
	}

	payload := events.BookingEventPayload{
		BookingIDs:      res.Applied,
		UserID:          userID,
		PaymentIntentID: ev.PaymentIntentID,
		Status:          string(status),
		AmountCents:     ev.AmountCents,
		Currency:        ev.Currency,
		FailureCode:     ev.FailureCode,
		FailureMessage:  ev.FailureMessage,
		Source:          ev.Source,
		At:              s.now(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("Publish booking event failed")
		res.Warnings = append(res.Warnings, "notification: "+err.Error())
	}
}

func (s *ReconcileService) notifyVerified(ev *domain.PaymentEvent, res *Result) {
	if s.eventBus == nil {
		return
	}
	for _, u := range res.VerifiedUsers {
		err := s.eventBus.PublishJSON(events.EventUserVerified, events.UserVerifiedPayload{
			UserID:          u,
			PaymentIntentID: ev.PaymentIntentID,
			At:              s.now(),
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", u).Msg("Publish user verified event failed")
			res.Warnings = append(res.Warnings, "notification: "+err.Error())
		}
	}
}

func (s *ReconcileService) finish(ctx context.Context, ev *domain.PaymentEvent, res *Result, log zerolog.Logger) {
	result := "applied"
	if res.NoOp {
		result = "noop"
	}
	metrics.IncReconcile(ev.Source, result)

	if ev.ID == "" {
		return
	}
	first, err := s.store.RecordProcessedEvent(ctx, s.providerName(), ev.ID, ev.Type)
	if err != nil {
		log.Warn().Err(err).Msg("Record processed event failed")
		return
	}
	if !first {
		log.Debug().Msg("Event was already processed before")
	}
}

// SyncPaymentIntent pulls the intent from the provider and runs it through
// Apply, the same path a webhook takes.
func (s *ReconcileService) SyncPaymentIntent(ctx context.Context, intentID, source string) (*Result, error) {
	if intentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "required")
	}
	intent, err := s.provider.RetrieveIntent(ctx, intentID)
	if err != nil {
		metrics.IncReconcile(source, "error")
		s.logger.Error().Err(err).Str("payment_intent_id", intentID).Str("source", source).Msg("Retrieve intent failed")
		return nil, err
	}
	return s.Apply(ctx, payments.EventFromIntent(intent, source))
}

// FailBookings moves pending bookings to failed without a provider event,
// e.g. when the intent was never created. It returns the ids that moved.
func (s *ReconcileService) FailBookings(ctx context.Context, ids []string, code, message string) ([]string, error) {
	moved, err := s.store.TransitionBookings(ctx, ids, lifecycle.EventPaymentFailed, domain.TransitionDetails{
		Provider:       s.providerName(),
		FailureCode:    code,
		FailureMessage: message,
		At:             s.now(),
	})
	if err != nil {
		return nil, err
	}
	if len(moved) > 0 {
		s.logger.Info().Strs("booking_ids", moved).Str("failure_code", code).Msg("Bookings failed")
	}
	return moved, nil
}

func (s *ReconcileService) providerName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

func metadataBookingIDs(meta map[string]string) []string {
	raw := meta[models.MetaBookingIDs]
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

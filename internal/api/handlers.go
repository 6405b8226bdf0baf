package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicrooms/internal/availability"
	"clinicrooms/internal/domain"
	"clinicrooms/internal/metrics"
	"clinicrooms/internal/models"
	"clinicrooms/internal/payments"
	"clinicrooms/internal/service"

	"github.com/go-chi/chi/v5"
)

type selectionRequest struct {
	RoomID   string   `json:"room_id"`
	TimeSlot string   `json:"time_slot"`
	Dates    []string `json:"dates"`
}

type draftRequest struct {
	BookingType string             `json:"booking_type"`
	Selections  []selectionRequest `json:"selections"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store != nil {
		if err := s.svc.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.svc.Rooms.ListRooms(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.now().UTC()
	year, month := now.Year(), int(now.Month())

	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = v
	}
	if raw := strings.TrimSpace(q.Get("month")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid month")
			return
		}
		month = v
	}
	roomID := strings.TrimSpace(q.Get("room_id"))

	entries, err := s.svc.Bookings.GetAvailability(r.Context(), roomID, year, time.Month(month))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []availability.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"year":    year,
		"month":   month,
		"room_id": roomID,
		"entries": entries,
	})
}

func (s *HTTPServer) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Selections []selectionRequest `json:"selections"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	selections, err := toSelections(body.Selections)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conflicts, err := s.svc.Bookings.CheckConflicts(r.Context(), selections)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []availability.Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": len(conflicts) == 0,
		"conflicts": conflicts,
	})
}

func (s *HTTPServer) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())

	var body draftRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	selections, err := toSelections(body.Selections)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	bookingType := models.BookingType(strings.TrimSpace(body.BookingType))
	if bookingType == "" {
		bookingType = models.BookingDaily
	}

	draft, err := s.svc.Bookings.CreateDraft(r.Context(), p.UserID, bookingType, selections)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (s *HTTPServer) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	draft, err := s.svc.Bookings.GetDraft(r.Context(), p.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *HTTPServer) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	if err := s.svc.Bookings.DeleteDraft(r.Context(), p.UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	res, err := s.svc.Bookings.Checkout(r.Context(), p.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	b, err := s.svc.Bookings.GetBooking(r.Context(), p.UserID, p.Admin, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	bookings, err := s.svc.Bookings.ListUserBookings(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// handleStripeWebhook verifies and applies a provider event. Any failure
// after verification answers 5xx so the provider redelivers.
func (s *HTTPServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.payments.WebhookSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "webhooks are not configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	err = payments.VerifySignature(s.payments.WebhookSecret, payload, r.Header.Get("Stripe-Signature"), s.payments.WebhookTolerance, s.now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Webhook signature rejected")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := payments.ParseEvent(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.IncWebhook(ev.Type)

	res, err := s.svc.Reconcile.Apply(r.Context(), ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("Webhook handling failed")
		status := http.StatusInternalServerError
		if domain.IsRetriable(err) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "event not processed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Reconcile.SyncPaymentIntent(r.Context(), chi.URLParam(r, "paymentIntentID"), service.SourceManual)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	b, err := s.svc.Bookings.CancelBooking(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(body.Reason))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func toSelections(in []selectionRequest) ([]models.Selection, error) {
	out := make([]models.Selection, 0, len(in))
	for _, sr := range in {
		sel := models.Selection{
			RoomID:   strings.TrimSpace(sr.RoomID),
			TimeSlot: models.TimeSlot(strings.TrimSpace(sr.TimeSlot)),
		}
		for _, raw := range sr.Dates {
			d, err := models.ParseDate(raw)
			if err != nil {
				return nil, domain.NewValidationError("dates", "invalid date %q; expected YYYY-MM-DD", raw)
			}
			sel.Dates = append(sel.Dates, d)
		}
		out = append(out, sel)
	}
	return out, nil
}

// writeServiceError maps the domain error taxonomy onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		ce *domain.ConflictError
		pe *domain.ProviderError
		se *domain.StorageError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "slot conflict", "conflicts": ce.Conflicts})
	case errors.Is(err, domain.ErrSlotTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &pe):
		writeError(w, http.StatusBadGateway, "payment provider error: "+pe.Op)
	case errors.As(err, &se):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"clinicrooms/internal/config"
	"clinicrooms/internal/logging"
	"clinicrooms/internal/metrics"
	"clinicrooms/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps JSON and webhook bodies.
const maxBodyBytes = 1 << 20

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the handlers' dependencies.
type Services struct {
	Bookings  *service.BookingService
	Reconcile *service.ReconcileService
	Users     *service.UserService
	Rooms     *service.RoomService
	Store     Pinger
}

// HTTPServer exposes the booking API.
type HTTPServer struct {
	cfg      config.APIConfig
	payments config.PaymentsConfig
	svc      Services
	server   *http.Server
	userAuth *UserAuth
	keyAuth  *APIKeyAuth
	now      func() time.Time
	logger   zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, payments config.PaymentsConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:      cfg,
		payments: payments,
		svc:      svc,
		now:      time.Now,
		logger:   logging.Component(logger, "http"),
	}
	s.userAuth = NewUserAuth(cfg.JWT, svc.Users, s.logger)
	s.keyAuth = NewAPIKeyAuth(cfg)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return s
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/rooms", s.handleRooms)
		r.Get("/availability", s.handleAvailability)
		r.Post("/availability/check", s.handleCheckConflicts)
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.userAuth.Wrap)
			r.Post("/drafts", s.handleCreateDraft)
			r.Get("/drafts/{id}", s.handleGetDraft)
			r.Delete("/drafts/{id}", s.handleDeleteDraft)
			r.Post("/drafts/{id}/checkout", s.handleCheckout)
			r.Get("/bookings/{id}", s.handleGetBooking)
			r.Get("/me/bookings", s.handleMyBookings)
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(s.keyAuth.Require(permReconcile)).Post("/reconcile/{paymentIntentID}", s.handleReconcile)
			r.With(s.keyAuth.Require(permCancelBooking)).Post("/bookings/{id}/cancel", s.handleCancelBooking)
		})
	})
	return r
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncHTTP(route)

		ev := s.logger.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

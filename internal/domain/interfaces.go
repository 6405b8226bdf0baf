package domain

import (
	"context"
	"time"

	"clinicrooms/internal/lifecycle"
	"clinicrooms/internal/models"
)

// ClaimFilter narrows active-claim lookups. Empty RoomIDs means all rooms.
type ClaimFilter struct {
	RoomIDs []string
	From    time.Time
	To      time.Time
}

// TransitionDetails is provider context written alongside a status change.
type TransitionDetails struct {
	Provider       string
	EventID        string
	AmountCents    int64
	Currency       string
	FailureCode    string
	FailureMessage string
	CancelReason   string
	At             time.Time
}

type BookingStore interface {
	// ListActiveClaims returns pending and confirmed claims in the range.
	ListActiveClaims(ctx context.Context, filter ClaimFilter) ([]models.Claim, error)
	// CreatePendingBookings inserts bookings and their claims atomically.
	// A lost race on any claim returns ErrSlotTaken and inserts nothing.
	CreatePendingBookings(ctx context.Context, bookings []*models.Booking) error
	// AttachPaymentIntent sets the intent id on bookings that have none.
	AttachPaymentIntent(ctx context.Context, bookingIDs []string, intentID string) (int64, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookings(ctx context.Context, ids []string) ([]*models.Booking, error)
	FindBookingsByPaymentIntent(ctx context.Context, intentID string) ([]*models.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error)
	// TransitionBookings applies ev to every booking whose status allows it,
	// in one conditional update, and returns the ids that actually moved.
	TransitionBookings(ctx context.Context, ids []string, ev lifecycle.Event, details TransitionDetails) ([]string, error)
	// ListStalePaymentIntents returns intents of pending bookings created before olderThan.
	ListStalePaymentIntents(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
	// ListOrphanedPendingBookings returns pending bookings that never got an
	// intent attached, created before olderThan.
	ListOrphanedPendingBookings(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
	// ReleaseStrandedClaims frees claims still active behind a booking that
	// is failed, cancelled, or was never written (claims older than olderThan).
	ReleaseStrandedClaims(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	// UpsertUser creates the user or refreshes profile fields. It never
	// touches the verification flag.
	UpsertUser(ctx context.Context, user *models.User) error
	// MarkVerified flips is_verified once and reports whether this call did it.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
}

type RoomStore interface {
	ListRooms(ctx context.Context, activeOnly bool) ([]*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	UpsertRoom(ctx context.Context, room *models.Room) error
}

type NotificationQueue interface {
	EnqueueNotification(ctx context.Context, task *models.NotifyTask) error
	GetPendingNotifications(ctx context.Context, limit int) ([]*models.NotifyTask, error)
	UpdateNotificationStatus(ctx context.Context, id, status, errMsg string, nextRetryAt *time.Time) error
}

type EventLog interface {
	// RecordProcessedEvent stores a handled provider event. It reports false
	// when the event was already recorded.
	RecordProcessedEvent(ctx context.Context, provider, eventID, eventType string) (bool, error)
	IsEventProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Store is everything the services need from persistence.
type Store interface {
	BookingStore
	UserStore
	RoomStore
	NotificationQueue
	EventLog
	Ping(ctx context.Context) error
	Close() error
}

// DraftRepository holds drafts by id. GetDraft returns nil, nil when the
// draft is missing or expired.
type DraftRepository interface {
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	SaveDraft(ctx context.Context, draft *models.Draft, ttl time.Duration) error
	DeleteDraft(ctx context.Context, id string) error
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}

type IntentRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

type Intent struct {
	ID             string
	ClientSecret   string
	Status         string
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	FailureCode    string
	FailureMessage string
}

type PaymentProvider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeOther     Outcome = "other"
)

// PaymentEvent is a provider notification in provider-neutral form. Webhooks
// and manual syncs both produce it.
type PaymentEvent struct {
	ID              string
	Type            string
	Source          string
	PaymentIntentID string
	Outcome         Outcome
	AmountCents     int64
	Currency        string
	Metadata        map[string]string
	FailureCode     string
	FailureMessage  string
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type NotificationSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

package models

import (
	"fmt"
	"strings"
	"time"
)

type TimeSlot string

const (
	SlotFull    TimeSlot = "full"
	SlotMorning TimeSlot = "morning"
	SlotEvening TimeSlot = "evening"
)

// AllSlots lists the slots in display order.
var AllSlots = []TimeSlot{SlotFull, SlotMorning, SlotEvening}

func (s TimeSlot) Valid() bool {
	switch s {
	case SlotFull, SlotMorning, SlotEvening:
		return true
	}
	return false
}

// Halves returns the half-day units a slot occupies. The store keys its
// uniqueness constraint on these units, so full occupies both halves.
func (s TimeSlot) Halves() []TimeSlot {
	switch s {
	case SlotFull:
		return []TimeSlot{SlotMorning, SlotEvening}
	case SlotMorning, SlotEvening:
		return []TimeSlot{s}
	}
	return nil
}

// Hours returns the opening window of the slot as HH:MM strings.
func (s TimeSlot) Hours() (string, string) {
	switch s {
	case SlotMorning:
		return MorningStart, MorningEnd
	case SlotEvening:
		return EveningStart, EveningEnd
	default:
		return MorningStart, EveningEnd
	}
}

func ParseTimeSlot(raw string) (TimeSlot, error) {
	slot := TimeSlot(strings.ToLower(strings.TrimSpace(raw)))
	if !slot.Valid() {
		return "", fmt.Errorf("unknown time slot %q", raw)
	}
	return slot, nil
}

type BookingType string

const (
	BookingDaily   BookingType = "daily"
	BookingMonthly BookingType = "monthly"
)

func (t BookingType) Valid() bool {
	return t == BookingDaily || t == BookingMonthly
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusFailed    BookingStatus = "failed"
)

// Active reports whether a booking in this status occupies its slots.
// Pending counts: a slot someone is mid-checkout on is not selectable.
func (s BookingStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// RoomBooking is one room/slot over an ordered set of dates.
type RoomBooking struct {
	RoomID    string      `json:"room_id" bson:"room_id"`
	TimeSlot  TimeSlot    `json:"time_slot" bson:"time_slot"`
	Dates     []time.Time `json:"dates" bson:"dates"`
	StartTime string      `json:"start_time" bson:"start_time"`
	EndTime   string      `json:"end_time" bson:"end_time"`
}

// PaymentDetails is provider metadata kept for diagnostics.
type PaymentDetails struct {
	Provider       string            `json:"provider,omitempty" bson:"provider,omitempty"`
	AmountCents    int64             `json:"amount_cents,omitempty" bson:"amount_cents,omitempty"`
	Currency       string            `json:"currency,omitempty" bson:"currency,omitempty"`
	LastEventID    string            `json:"last_event_id,omitempty" bson:"last_event_id,omitempty"`
	FailureCode    string            `json:"failure_code,omitempty" bson:"failure_code,omitempty"`
	FailureMessage string            `json:"failure_message,omitempty" bson:"failure_message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	PaidAt         *time.Time        `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	FailedAt       *time.Time        `json:"failed_at,omitempty" bson:"failed_at,omitempty"`
}

type Booking struct {
	ID              string         `json:"id" bson:"_id"`
	UserID          string         `json:"user_id" bson:"user_id"`
	RoomBookings    []RoomBooking  `json:"room_bookings" bson:"room_bookings"`
	BookingType     BookingType    `json:"booking_type" bson:"booking_type"`
	TotalAmount     int64          `json:"total_amount" bson:"total_amount"`
	IncludesDeposit bool           `json:"includes_deposit" bson:"includes_deposit"`
	Status          BookingStatus  `json:"status" bson:"status"`
	PaymentStatus   PaymentStatus  `json:"payment_status" bson:"payment_status"`
	PaymentIntentID string         `json:"payment_intent_id,omitempty" bson:"payment_intent_id,omitempty"`
	PaymentDetails  PaymentDetails `json:"payment_details" bson:"payment_details"`
	CancelReason    string         `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" bson:"updated_at"`
	Version         int64          `json:"version" bson:"version"`
}

// Claim is one (room, date, slot) triple held by a booking.
type Claim struct {
	BookingID string        `json:"booking_id"`
	RoomID    string        `json:"room_id"`
	Date      string        `json:"date"`
	Slot      TimeSlot      `json:"time_slot"`
	Status    BookingStatus `json:"status"`
}

// Claims flattens the booking into its per-date claims.
func (b *Booking) Claims() []Claim {
	var claims []Claim
	for _, rb := range b.RoomBookings {
		for _, d := range rb.Dates {
			claims = append(claims, Claim{
				BookingID: b.ID,
				RoomID:    rb.RoomID,
				Date:      d.Format(DateLayout),
				Slot:      rb.TimeSlot,
				Status:    b.Status,
			})
		}
	}
	return claims
}

// DateBounds returns the earliest and latest date across all room bookings.
func (b *Booking) DateBounds() (time.Time, time.Time) {
	var first, last time.Time
	for _, rb := range b.RoomBookings {
		for _, d := range rb.Dates {
			if first.IsZero() || d.Before(first) {
				first = d
			}
			if last.IsZero() || d.After(last) {
				last = d
			}
		}
	}
	return first, last
}

// NormalizeDate truncates t to a UTC calendar date.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(raw string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(raw))
}

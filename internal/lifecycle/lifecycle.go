// Package lifecycle holds the booking status machine. Every status write in
// the stores is a conditional update whose WHERE clause comes from Sources.
package lifecycle

import (
	"errors"
	"fmt"

	"clinicrooms/internal/models"
)

var ErrInvalidTransition = errors.New("invalid booking transition")

type Event string

const (
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventCancel           Event = "cancel"
)

// Transition is the result of applying an event to a booking.
type Transition struct {
	From           models.BookingStatus
	To             models.BookingStatus
	Payment        models.PaymentStatus
	ReleasesClaims bool
}

// Decision classifies what an event means for a booking in a given status.
type Decision int

const (
	// Apply means the booking moves to a new status.
	Apply Decision = iota
	// AlreadyApplied means the booking is already where the event would put it.
	AlreadyApplied
	// Rejected means the booking is terminal for this event.
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case AlreadyApplied:
		return "already_applied"
	default:
		return "rejected"
	}
}

type rule struct {
	from []models.BookingStatus
	to   models.BookingStatus
	pay  models.PaymentStatus
}

var rules = map[Event]rule{
	EventPaymentSucceeded: {
		from: []models.BookingStatus{models.StatusPending},
		to:   models.StatusConfirmed,
		pay:  models.PaymentSucceeded,
	},
	EventPaymentFailed: {
		from: []models.BookingStatus{models.StatusPending},
		to:   models.StatusFailed,
		pay:  models.PaymentFailed,
	},
	EventCancel: {
		from: []models.BookingStatus{models.StatusPending, models.StatusConfirmed},
		to:   models.StatusCancelled,
	},
}

// Decide reports how ev applies to a booking currently in status from.
func Decide(from models.BookingStatus, ev Event) Decision {
	r, ok := rules[ev]
	if !ok {
		return Rejected
	}
	if from == r.to {
		return AlreadyApplied
	}
	for _, s := range r.from {
		if s == from {
			return Apply
		}
	}
	return Rejected
}

// Next returns the transition for ev from status from, or ErrInvalidTransition.
func Next(from models.BookingStatus, ev Event) (Transition, error) {
	if d := Decide(from, ev); d != Apply {
		return Transition{}, fmt.Errorf("%w: %s on %s (%s)", ErrInvalidTransition, ev, from, d)
	}
	r := rules[ev]
	return Transition{
		From:           from,
		To:             r.to,
		Payment:        r.pay,
		ReleasesClaims: !r.to.Active(),
	}, nil
}

// Sources lists the statuses ev may move a booking out of.
func Sources(ev Event) []models.BookingStatus {
	r, ok := rules[ev]
	if !ok {
		return nil
	}
	out := make([]models.BookingStatus, len(r.from))
	copy(out, r.from)
	return out
}

// Target returns the status ev moves a booking into and the payment status it
// records, if any.
func Target(ev Event) (models.BookingStatus, models.PaymentStatus, bool) {
	r, ok := rules[ev]
	return r.to, r.pay, ok
}

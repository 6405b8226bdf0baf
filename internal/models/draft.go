package models

import "time"

// Selection is one requested room/slot over a set of dates.
type Selection struct {
	RoomID   string      `json:"room_id"`
	TimeSlot TimeSlot    `json:"time_slot"`
	Dates    []time.Time `json:"dates"`
}

// Draft is a server-held booking selection awaiting checkout.
type Draft struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	BookingType BookingType `json:"booking_type"`
	Selections  []Selection `json:"selections"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

func (d *Draft) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

package availability

import (
	"sort"
	"time"

	"clinicrooms/internal/models"
)

type OccupancyType string

const (
	OccupancyNone    OccupancyType = "none"
	OccupancyPartial OccupancyType = "partial"
	OccupancyBooked  OccupancyType = "booked"
)

// Key identifies one room on one calendar date.
type Key struct {
	Date   string
	RoomID string
}

// Entry is the derived occupancy of a Key.
type Entry struct {
	Date      string            `json:"date"`
	RoomID    string            `json:"room_id"`
	Type      OccupancyType     `json:"type"`
	TimeSlots []models.TimeSlot `json:"time_slots"`
}

// Index maps (date, room) to occupancy. Absent keys are free.
type Index map[Key]*Entry

// Build folds active claims into an index. Claims of cancelled or failed
// bookings are skipped.
func Build(claims []models.Claim) Index {
	idx := make(Index)
	for _, c := range claims {
		if !c.Status.Active() {
			continue
		}
		k := Key{Date: c.Date, RoomID: c.RoomID}
		e, ok := idx[k]
		if !ok {
			e = &Entry{Date: c.Date, RoomID: c.RoomID}
			idx[k] = e
		}
		if !containsSlot(e.TimeSlots, c.Slot) {
			e.TimeSlots = append(e.TimeSlots, c.Slot)
		}
	}
	for _, e := range idx {
		sortSlots(e.TimeSlots)
		e.Type = Classify(e.TimeSlots)
	}
	return idx
}

// Lookup returns the entry for a key, or a none entry when nothing is claimed.
func (idx Index) Lookup(date, roomID string) Entry {
	if e, ok := idx[Key{Date: date, RoomID: roomID}]; ok {
		return *e
	}
	return Entry{Date: date, RoomID: roomID, Type: OccupancyNone}
}

// Entries returns the materialized entries ordered by date, then room.
func (idx Index) Entries() []Entry {
	out := make([]Entry, 0, len(idx))
	for _, e := range idx {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out
}

// MonthRange returns the first and last calendar date of a month in UTC.
func MonthRange(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

func containsSlot(slots []models.TimeSlot, s models.TimeSlot) bool {
	for _, v := range slots {
		if v == s {
			return true
		}
	}
	return false
}

func slotRank(s models.TimeSlot) int {
	for i, v := range models.AllSlots {
		if v == s {
			return i
		}
	}
	return len(models.AllSlots)
}

func sortSlots(slots []models.TimeSlot) {
	sort.Slice(slots, func(i, j int) bool { return slotRank(slots[i]) < slotRank(slots[j]) })
}

package availability

import "clinicrooms/internal/models"

// overlap is the slot compatibility table. overlap[requested][existing] is
// true when the two claims cannot share a room on the same date.
var overlap = map[models.TimeSlot]map[models.TimeSlot]bool{
	models.SlotFull: {
		models.SlotFull:    true,
		models.SlotMorning: true,
		models.SlotEvening: true,
	},
	models.SlotMorning: {
		models.SlotFull:    true,
		models.SlotMorning: true,
		models.SlotEvening: false,
	},
	models.SlotEvening: {
		models.SlotFull:    true,
		models.SlotMorning: false,
		models.SlotEvening: true,
	},
}

// Overlaps reports whether a requested slot collides with an existing claim.
// Unknown slots always collide.
func Overlaps(requested, existing models.TimeSlot) bool {
	row, ok := overlap[requested]
	if !ok {
		return true
	}
	v, ok := row[existing]
	if !ok {
		return true
	}
	return v
}

// Classify derives the occupancy type of a (date, room) from its claimed slots.
func Classify(slots []models.TimeSlot) OccupancyType {
	if len(slots) == 0 {
		return OccupancyNone
	}
	var morning, evening bool
	for _, s := range slots {
		switch s {
		case models.SlotFull:
			return OccupancyBooked
		case models.SlotMorning:
			morning = true
		case models.SlotEvening:
			evening = true
		}
	}
	if morning && evening {
		return OccupancyBooked
	}
	return OccupancyPartial
}

// FreeSlots returns the slots still requestable given the claimed ones.
func FreeSlots(claimed []models.TimeSlot) []models.TimeSlot {
	var free []models.TimeSlot
	for _, want := range models.AllSlots {
		ok := true
		for _, have := range claimed {
			if Overlaps(want, have) {
				ok = false
				break
			}
		}
		if ok {
			free = append(free, want)
		}
	}
	return free
}

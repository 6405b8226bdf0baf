package availability

import (
	"fmt"
	"sort"

	"clinicrooms/internal/models"
)

// Conflict describes one requested (room, date, slot) that collides with an
// existing active claim.
type Conflict struct {
	RoomID            string               `json:"room_id"`
	Date              string               `json:"date"`
	TimeSlot          models.TimeSlot      `json:"time_slot"`
	ConflictingSlot   models.TimeSlot      `json:"conflicting_slot"`
	ConflictingStatus models.BookingStatus `json:"conflicting_status"`
	BookingID         string               `json:"booking_id,omitempty"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s %s %s (held %s by %s)", c.RoomID, c.Date, c.TimeSlot, c.ConflictingSlot, c.ConflictingStatus)
}

// Check compares requested selections against existing claims and returns
// every collision. An empty result means the request may proceed.
func Check(selections []models.Selection, existing []models.Claim) []Conflict {
	byKey := make(map[Key][]models.Claim)
	for _, c := range existing {
		if !c.Status.Active() {
			continue
		}
		k := Key{Date: c.Date, RoomID: c.RoomID}
		byKey[k] = append(byKey[k], c)
	}

	var out []Conflict
	for _, sel := range selections {
		for _, d := range sel.Dates {
			date := d.Format(models.DateLayout)
			for _, c := range byKey[Key{Date: date, RoomID: sel.RoomID}] {
				if !Overlaps(sel.TimeSlot, c.Slot) {
					continue
				}
				out = append(out, Conflict{
					RoomID:            sel.RoomID,
					Date:              date,
					TimeSlot:          sel.TimeSlot,
					ConflictingSlot:   c.Slot,
					ConflictingStatus: c.Status,
					BookingID:         c.BookingID,
				})
			}
		}
	}
	sortConflicts(out)
	return out
}

// SelfConflicts finds selections within one request that collide with each
// other, e.g. full and morning on the same room and date.
func SelfConflicts(selections []models.Selection) []Conflict {
	seen := make(map[Key][]models.TimeSlot)
	var out []Conflict
	for _, sel := range selections {
		for _, d := range sel.Dates {
			k := Key{Date: d.Format(models.DateLayout), RoomID: sel.RoomID}
			for _, held := range seen[k] {
				if Overlaps(sel.TimeSlot, held) {
					out = append(out, Conflict{
						RoomID:            k.RoomID,
						Date:              k.Date,
						TimeSlot:          sel.TimeSlot,
						ConflictingSlot:   held,
						ConflictingStatus: models.StatusPending,
					})
				}
			}
			seen[k] = append(seen[k], sel.TimeSlot)
		}
	}
	sortConflicts(out)
	return out
}

// Span returns the earliest and latest date referenced by the selections.
func Span(selections []models.Selection) (first, last string) {
	for _, sel := range selections {
		for _, d := range sel.Dates {
			s := d.Format(models.DateLayout)
			if first == "" || s < first {
				first = s
			}
			if last == "" || s > last {
				last = s
			}
		}
	}
	return first, last
}

// RoomIDs returns the distinct rooms referenced by the selections.
func RoomIDs(selections []models.Selection) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, sel := range selections {
		if _, ok := seen[sel.RoomID]; ok {
			continue
		}
		seen[sel.RoomID] = struct{}{}
		ids = append(ids, sel.RoomID)
	}
	sort.Strings(ids)
	return ids
}

func sortConflicts(cs []Conflict) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Date != cs[j].Date {
			return cs[i].Date < cs[j].Date
		}
		if cs[i].RoomID != cs[j].RoomID {
			return cs[i].RoomID < cs[j].RoomID
		}
		return slotRank(cs[i].TimeSlot) < slotRank(cs[j].TimeSlot)
	})
}

package service

import (
	"sort"
	"time"

	"clinicrooms/internal/availability"
	"clinicrooms/internal/domain"
	"clinicrooms/internal/models"
)

// normalizeSelections validates a request and returns a copy with dates
// truncated to UTC days, sorted and deduplicated.
func normalizeSelections(
	bookingType models.BookingType,
	selections []models.Selection,
	rooms map[string]*models.Room,
	today time.Time,
	maxAdvanceDays int,
) ([]models.Selection, error) {
	if !bookingType.Valid() {
		return nil, domain.NewValidationError("booking_type", "must be daily or monthly, got %q", bookingType)
	}
	if len(selections) == 0 {
		return nil, domain.NewValidationError("selections", "at least one selection is required")
	}

	today = models.NormalizeDate(today)
	horizon := today.AddDate(0, 0, maxAdvanceDays)

	out := make([]models.Selection, 0, len(selections))
	for i, sel := range selections {
		if sel.RoomID == "" {
			return nil, domain.NewValidationError("room_id", "selection %d has no room", i)
		}
		if rooms != nil {
			if room, ok := rooms[sel.RoomID]; !ok || !room.IsActive {
				return nil, domain.NewValidationError("room_id", "unknown room %q", sel.RoomID)
			}
		}
		if !sel.TimeSlot.Valid() {
			return nil, domain.NewValidationError("time_slot", "unknown time slot %q", sel.TimeSlot)
		}
		if len(sel.Dates) == 0 {
			return nil, domain.NewValidationError("dates", "selection %d has no dates", i)
		}

		seen := make(map[time.Time]bool, len(sel.Dates))
		dates := make([]time.Time, 0, len(sel.Dates))
		for _, d := range sel.Dates {
			if d.IsZero() {
				return nil, domain.NewValidationError("dates", "empty date in selection %d", i)
			}
			d = models.NormalizeDate(d)
			if d.Before(today) {
				return nil, domain.NewValidationError("dates", "%s is in the past", d.Format(models.DateLayout))
			}
			if maxAdvanceDays > 0 && d.After(horizon) {
				return nil, domain.NewValidationError("dates", "%s is more than %d days ahead", d.Format(models.DateLayout), maxAdvanceDays)
			}
			if seen[d] {
				continue
			}
			seen[d] = true
			dates = append(dates, d)
		}
		sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })

		out = append(out, models.Selection{RoomID: sel.RoomID, TimeSlot: sel.TimeSlot, Dates: dates})
	}

	if self := availability.SelfConflicts(out); len(self) > 0 {
		return nil, domain.NewValidationError("selections", "selections overlap each other: %s", self[0].String())
	}
	return out, nil
}

func claimFilter(selections []models.Selection) domain.ClaimFilter {
	first, last := availability.Span(selections)
	from, _ := models.ParseDate(first)
	to, _ := models.ParseDate(last)
	return domain.ClaimFilter{
		RoomIDs: availability.RoomIDs(selections),
		From:    from,
		To:      to,
	}
}

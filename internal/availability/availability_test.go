package availability

import (
	"testing"
	"time"

	"clinicrooms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOverlapsTable(t *testing.T) {
	tests := []struct {
		requested models.TimeSlot
		existing  models.TimeSlot
		want      bool
	}{
		{models.SlotFull, models.SlotFull, true},
		{models.SlotFull, models.SlotMorning, true},
		{models.SlotFull, models.SlotEvening, true},
		{models.SlotMorning, models.SlotFull, true},
		{models.SlotMorning, models.SlotMorning, true},
		{models.SlotMorning, models.SlotEvening, false},
		{models.SlotEvening, models.SlotFull, true},
		{models.SlotEvening, models.SlotMorning, false},
		{models.SlotEvening, models.SlotEvening, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.requested)+"_vs_"+string(tt.existing), func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.requested, tt.existing))
		})
	}
}

func TestOverlapsMatchesHalves(t *testing.T) {
	// The store enforces uniqueness on halves; both views must agree.
	for _, a := range models.AllSlots {
		for _, b := range models.AllSlots {
			shared := false
			for _, ha := range a.Halves() {
				for _, hb := range b.Halves() {
					if ha == hb {
						shared = true
					}
				}
			}
			assert.Equal(t, shared, Overlaps(a, b), "%s/%s", a, b)
			assert.Equal(t, Overlaps(a, b), Overlaps(b, a), "symmetry %s/%s", a, b)
		}
	}
}

func TestOverlapsUnknownSlot(t *testing.T) {
	assert.True(t, Overlaps("night", models.SlotMorning))
	assert.True(t, Overlaps(models.SlotMorning, "night"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OccupancyNone, Classify(nil))
	assert.Equal(t, OccupancyPartial, Classify([]models.TimeSlot{models.SlotMorning}))
	assert.Equal(t, OccupancyPartial, Classify([]models.TimeSlot{models.SlotEvening}))
	assert.Equal(t, OccupancyBooked, Classify([]models.TimeSlot{models.SlotFull}))
	assert.Equal(t, OccupancyBooked, Classify([]models.TimeSlot{models.SlotEvening, models.SlotMorning}))
}

func TestBuild(t *testing.T) {
	claims := []models.Claim{
		{BookingID: "a", RoomID: "R1", Date: "2025-06-02", Slot: models.SlotMorning, Status: models.StatusPending},
		{BookingID: "b", RoomID: "R1", Date: "2025-06-02", Slot: models.SlotEvening, Status: models.StatusConfirmed},
		{BookingID: "c", RoomID: "R1", Date: "2025-06-03", Slot: models.SlotEvening, Status: models.StatusConfirmed},
		{BookingID: "d", RoomID: "R2", Date: "2025-06-02", Slot: models.SlotFull, Status: models.StatusCancelled},
		{BookingID: "e", RoomID: "R2", Date: "2025-06-04", Slot: models.SlotFull, Status: models.StatusFailed},
		{BookingID: "f", RoomID: "R3", Date: "2025-06-05", Slot: models.SlotFull, Status: models.StatusPending},
	}

	idx := Build(claims)
	require.Len(t, idx, 3)

	e := idx.Lookup("2025-06-02", "R1")
	assert.Equal(t, OccupancyBooked, e.Type)
	assert.Equal(t, []models.TimeSlot{models.SlotMorning, models.SlotEvening}, e.TimeSlots)

	assert.Equal(t, OccupancyPartial, idx.Lookup("2025-06-03", "R1").Type)
	assert.Equal(t, OccupancyBooked, idx.Lookup("2025-06-05", "R3").Type)

	// cancelled and failed never occupy
	assert.Equal(t, OccupancyNone, idx.Lookup("2025-06-02", "R2").Type)
	assert.Equal(t, OccupancyNone, idx.Lookup("2025-06-04", "R2").Type)

	entries := idx.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "2025-06-02", entries[0].Date)
	assert.Equal(t, "2025-06-05", entries[2].Date)
}

func TestBuildDeduplicatesSlots(t *testing.T) {
	idx := Build([]models.Claim{
		{BookingID: "a", RoomID: "R1", Date: "2025-06-02", Slot: models.SlotMorning, Status: models.StatusPending},
		{BookingID: "b", RoomID: "R1", Date: "2025-06-02", Slot: models.SlotMorning, Status: models.StatusConfirmed},
	})
	e := idx.Lookup("2025-06-02", "R1")
	assert.Equal(t, []models.TimeSlot{models.SlotMorning}, e.TimeSlots)
	assert.Equal(t, OccupancyPartial, e.Type)
}

func TestFreeSlots(t *testing.T) {
	assert.Equal(t, models.AllSlots, FreeSlots(nil))
	assert.Equal(t, []models.TimeSlot{models.SlotEvening}, FreeSlots([]models.TimeSlot{models.SlotMorning}))
	assert.Empty(t, FreeSlots([]models.TimeSlot{models.SlotFull}))
}

func TestMonthRange(t *testing.T) {
	start, end := MonthRange(2024, time.February)
	assert.Equal(t, "2024-02-01", start.Format(models.DateLayout))
	assert.Equal(t, "2024-02-29", end.Format(models.DateLayout))
}

func TestCheckMorningThenEveningAndFull(t *testing.T) {
	existing := []models.Claim{
		{BookingID: "X", RoomID: "R1", Date: "2025-06-02", Slot: models.SlotMorning, Status: models.StatusPending},
	}

	evening := []models.Selection{{RoomID: "R1", TimeSlot: models.SlotEvening, Dates: []time.Time{day("2025-06-02")}}}
	assert.Empty(t, Check(evening, existing))

	full := []models.Selection{{RoomID: "R1", TimeSlot: models.SlotFull, Dates: []time.Time{day("2025-06-02")}}}
	conflicts := Check(full, existing)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "X", conflicts[0].BookingID)
	assert.Equal(t, models.SlotMorning, conflicts[0].ConflictingSlot)
	assert.Equal(t, models.StatusPending, conflicts[0].ConflictingStatus)
}

func TestCheckFullRejectedByAnyClaim(t *testing.T) {
	for _, slot := range models.AllSlots {
		existing := []models.Claim{{BookingID: "x", RoomID: "R1", Date: "2025-06-02", Slot: slot, Status: models.StatusConfirmed}}
		sel := []models.Selection{{RoomID: "R1", TimeSlot: models.SlotFull, Dates: []time.Time{day("2025-06-02")}}}
		assert.Len(t, Check(sel, existing), 1, "existing %s", slot)
	}
}

func TestCheckIgnoresInactiveAndOtherRooms(t *testing.T) {
	existing := []models.Claim{
		{BookingID: "x", RoomID: "R1", Date: "2025-06-02", Slot: models.SlotFull, Status: models.StatusCancelled},
		{BookingID: "y", RoomID: "R2", Date: "2025-06-02", Slot: models.SlotFull, Status: models.StatusConfirmed},
		{BookingID: "z", RoomID: "R1", Date: "2025-06-03", Slot: models.SlotFull, Status: models.StatusConfirmed},
	}
	sel := []models.Selection{{RoomID: "R1", TimeSlot: models.SlotFull, Dates: []time.Time{day("2025-06-02")}}}
	assert.Empty(t, Check(sel, existing))
}

func TestCheckMultipleDates(t *testing.T) {
	existing := []models.Claim{
		{BookingID: "a", RoomID: "R1", Date: "2025-06-09", Slot: models.SlotEvening, Status: models.StatusConfirmed},
		{BookingID: "b", RoomID: "R1", Date: "2025-06-02", Slot: models.SlotFull, Status: models.StatusPending},
	}
	sel := []models.Selection{{
		RoomID:   "R1",
		TimeSlot: models.SlotEvening,
		Dates:    []time.Time{day("2025-06-09"), day("2025-06-02"), day("2025-06-16")},
	}}
	conflicts := Check(sel, existing)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "2025-06-02", conflicts[0].Date)
	assert.Equal(t, "2025-06-09", conflicts[1].Date)
}

func TestSelfConflicts(t *testing.T) {
	sel := []models.Selection{
		{RoomID: "R1", TimeSlot: models.SlotMorning, Dates: []time.Time{day("2025-06-02")}},
		{RoomID: "R1", TimeSlot: models.SlotEvening, Dates: []time.Time{day("2025-06-02")}},
	}
	assert.Empty(t, SelfConflicts(sel))

	sel = append(sel, models.Selection{RoomID: "R1", TimeSlot: models.SlotFull, Dates: []time.Time{day("2025-06-02")}})
	assert.Len(t, SelfConflicts(sel), 2)
}

func TestSpanAndRoomIDs(t *testing.T) {
	sel := []models.Selection{
		{RoomID: "R2", Dates: []time.Time{day("2025-06-09")}},
		{RoomID: "R1", Dates: []time.Time{day("2025-06-02"), day("2025-07-01")}},
		{RoomID: "R2", Dates: []time.Time{day("2025-06-03")}},
	}
	first, last := Span(sel)
	assert.Equal(t, "2025-06-02", first)
	assert.Equal(t, "2025-07-01", last)
	assert.Equal(t, []string{"R1", "R2"}, RoomIDs(sel))
}

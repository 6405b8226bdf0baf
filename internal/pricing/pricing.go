package pricing

import (
	"errors"
	"fmt"
	"sort"

	"clinicrooms/internal/models"
)

var (
	ErrUnknownRoom      = errors.New("unknown room")
	ErrUnpricedSlot     = errors.New("room has no rate for slot")
	ErrMonthlySpan      = errors.New("monthly booking dates exceed one month")
	ErrNonPositiveTotal = errors.New("total must be positive")
	ErrUnknownType      = errors.New("unknown booking type")
)

// Line is the price of one selection.
type Line struct {
	RoomID      string          `json:"room_id"`
	TimeSlot    models.TimeSlot `json:"time_slot"`
	Dates       int             `json:"dates"`
	UnitCents   int64           `json:"unit_cents"`
	AmountCents int64           `json:"amount_cents"`
}

// Quote is the priced checkout. All amounts are in cents.
type Quote struct {
	Lines         []Line           `json:"lines"`
	RoomTotals    map[string]int64 `json:"room_totals"`
	SubtotalCents int64            `json:"subtotal_cents"`
	DepositCents  int64            `json:"deposit_cents"`
	TotalCents    int64            `json:"total_cents"`
}

// IncludesDeposit reports whether a security deposit was added.
func (q *Quote) IncludesDeposit() bool {
	return q.DepositCents > 0
}

// Rooms returns the priced room ids in stable order.
func (q *Quote) Rooms() []string {
	ids := make([]string, 0, len(q.RoomTotals))
	for id := range q.RoomTotals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Compute prices selections. Daily bookings cost the slot rate per date;
// monthly bookings cost the room's flat monthly rate per selection. The
// deposit is added once when the user is not yet verified.
func Compute(
	bookingType models.BookingType,
	selections []models.Selection,
	rooms map[string]*models.Room,
	verified bool,
	depositCents int64,
) (*Quote, error) {
	q := &Quote{RoomTotals: make(map[string]int64)}

	for _, sel := range selections {
		room, ok := rooms[sel.RoomID]
		if !ok || room == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, sel.RoomID)
		}

		var line Line
		switch bookingType {
		case models.BookingDaily:
			unit := room.DailyRates.For(sel.TimeSlot)
			if unit <= 0 {
				return nil, fmt.Errorf("%w: %s/%s", ErrUnpricedSlot, sel.RoomID, sel.TimeSlot)
			}
			line = Line{
				UnitCents:   unit,
				AmountCents: unit * int64(len(sel.Dates)),
			}
		case models.BookingMonthly:
			if err := checkMonthlySpan(sel); err != nil {
				return nil, err
			}
			line = Line{
				UnitCents:   room.MonthlyRate,
				AmountCents: room.MonthlyRate,
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, bookingType)
		}

		line.RoomID = sel.RoomID
		line.TimeSlot = sel.TimeSlot
		line.Dates = len(sel.Dates)
		q.Lines = append(q.Lines, line)
		q.RoomTotals[sel.RoomID] += line.AmountCents
		q.SubtotalCents += line.AmountCents
	}

	if !verified && depositCents > 0 {
		q.DepositCents = depositCents
	}
	q.TotalCents = q.SubtotalCents + q.DepositCents

	if q.SubtotalCents <= 0 {
		return nil, ErrNonPositiveTotal
	}
	return q, nil
}

func checkMonthlySpan(sel models.Selection) error {
	if len(sel.Dates) == 0 {
		return nil
	}
	first, last := sel.Dates[0], sel.Dates[0]
	for _, d := range sel.Dates[1:] {
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	if last.Sub(first).Hours()/24 > models.MonthlyMaxSpanDays {
		return fmt.Errorf("%w: %s..%s", ErrMonthlySpan, first.Format(models.DateLayout), last.Format(models.DateLayout))
	}
	return nil
}

package service

import (
	"errors"
	"fmt"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/pricing"
)

var ErrRateLimited = errors.New("too many drafts, try again later")

// pricingError turns pricing failures into validation errors.
func pricingError(err error) error {
	switch {
	case errors.Is(err, pricing.ErrUnknownRoom):
		return domain.NewValidationError("room_id", "%v", err)
	case errors.Is(err, pricing.ErrUnpricedSlot):
		return domain.NewValidationError("time_slot", "%v", err)
	case errors.Is(err, pricing.ErrMonthlySpan):
		return domain.NewValidationError("dates", "%v", err)
	case errors.Is(err, pricing.ErrNonPositiveTotal):
		return domain.NewValidationError("total_amount", "%v", err)
	case errors.Is(err, pricing.ErrUnknownType):
		return domain.NewValidationError("booking_type", "%v", err)
	}
	return fmt.Errorf("pricing: %w", err)
}

// Package limits implements purchase caps for ticket holdings.
//
// Resale platforms usually cap how many tickets of one event a single
// buyer may hold, and how many may be bought in a single order. Both caps
// are optional; zero disables a cap.
package limits

import (
	"fmt"

	"github.com/ticketx/ledger-engine/internal/model"
)

var (
	// ErrEventLimitExceeded is returned when a purchase would push a user's
	// holding in one event beyond the per-event maximum.
	ErrEventLimitExceeded = fmt.Errorf("limits: per-event holding limit exceeded: %w", model.ErrLimitExceeded)

	// ErrOrderLimitExceeded is returned when a single purchase asks for
	// more tickets than the per-order maximum.
	ErrOrderLimitExceeded = fmt.Errorf("limits: per-order quantity limit exceeded: %w", model.ErrLimitExceeded)
)

// PositionLimiter enforces holding limits. A nil limiter allows everything.
type PositionLimiter struct {
	// MaxPerEvent is the maximum number of tickets of one event a user may hold.
	MaxPerEvent int64

	// MaxPerOrder is the maximum quantity of a single buy.
	MaxPerOrder int64
}

// NewPositionLimiter creates a limiter. Negative values are treated as zero
// (no limit).
func NewPositionLimiter(maxPerEvent, maxPerOrder int64) *PositionLimiter {
	return &PositionLimiter{
		MaxPerEvent: max(maxPerEvent, 0),
		MaxPerOrder: max(maxPerOrder, 0),
	}
}

// CheckLimit validates whether buying quantity more tickets of eventID
// respects the limits.
//
// Parameters:
//   - eventID: event being bought
//   - quantity: tickets in this order
//   - holdings: map of event ID → tickets currently held by the buyer
//
// Returns nil if the purchase is within limits.
func (l *PositionLimiter) CheckLimit(eventID string, quantity int64, holdings map[string]int64) error {
	if l == nil {
		return nil
	}

	// 1. Order size.
	if l.MaxPerOrder > 0 && quantity > l.MaxPerOrder {
		return ErrOrderLimitExceeded
	}

	// 2. Resulting holding in the event.
	if l.MaxPerEvent > 0 && holdings[eventID]+quantity > l.MaxPerEvent {
		return ErrEventLimitExceeded
	}

	return nil
}

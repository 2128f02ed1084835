package guard

import (
	"errors"
	"fmt"

	"github.com/iliyamo/service-booking-engine/internal/model"
)

// Validation errors.  Never retried.
var (
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrMissingService  = errors.New("service id is required")
	ErrMissingDate     = errors.New("date is required")
)

// Capacity errors.  Terminal for the attempt.
var (
	ErrUnavailable          = errors.New("date is not offered")
	ErrPastDate             = errors.New("date is in the past")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
)

// ErrContention is returned after the bounded retries are used up, or when
// the store does not answer within the per-attempt timeout.  Clients may
// retry later.
var ErrContention = errors.New("calendar entry is busy, try again")

// CapacityError reports how much of a day is still free so the caller can
// offer a smaller quantity.
type CapacityError struct {
	ServiceID string
	Date      model.Day
	Requested int
	Remaining int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: service %s on %s has %d remaining, %d requested",
		ErrInsufficientCapacity, e.ServiceID, e.Date, e.Remaining, e.Requested)
}

func (e *CapacityError) Unwrap() error { return ErrInsufficientCapacity }

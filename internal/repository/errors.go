// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// commitment guard and the HTTP handlers to distinguish between different
// failure scenarios without inspecting driver errors.
package repository

import (
	"errors"
	"fmt"

	"github.com/iliyamo/service-booking-engine/internal/model"
)

// ErrNotFound is returned when a calendar entry or reservation does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// conflicting state, such as cancelling a reservation for a day that has
// already passed. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrDebitRejected means the conditional debit matched no row: at commit
// time the entry was missing, closed or short of room.  Nothing was written.
// The guard re-reads the entry to find out which.
var ErrDebitRejected = errors.New("calendar entry cannot take the debit")

// ErrCheckoutSettled rejects a status change on a checkout that is no longer
// entirely PENDING: some of it was already confirmed or cancelled.
var ErrCheckoutSettled = fmt.Errorf("%w: checkout is no longer pending", ErrConflict)

// ErrNegativeCapacity rejects publishing a negative total capacity.
var ErrNegativeCapacity = errors.New("total capacity must be >= 0")

// ErrInvalidRange rejects publishing an empty or inverted date range.
var ErrInvalidRange = errors.New("invalid date range")

// ErrCapacityBelowCommitted rejects lowering a day's total capacity below
// what is already booked.
var ErrCapacityBelowCommitted = errors.New("capacity below committed")

// CapacityBelowCommittedError names the day that blocked a publish.
type CapacityBelowCommittedError struct {
	ServiceID string
	Date      model.Day
	Booked    int
	Requested int
}

func (e *CapacityBelowCommittedError) Error() string {
	return fmt.Sprintf("%s: service %s on %s has %d booked, cannot set total capacity to %d",
		ErrCapacityBelowCommitted, e.ServiceID, e.Date, e.Booked, e.Requested)
}

func (e *CapacityBelowCommittedError) Unwrap() error { return ErrCapacityBelowCommitted }

package booking

import (
	"errors"
	"fmt"

	"github.com/iliyamo/service-booking-engine/internal/model"
	"github.com/iliyamo/service-booking-engine/internal/repository"
)

var (
	ErrAlreadyCancelled = fmt.Errorf("%w: reservation already cancelled", repository.ErrConflict)
	ErrPastReservation  = fmt.Errorf("%w: reservation date has passed", repository.ErrConflict)
	ErrCheckoutSettled  = repository.ErrCheckoutSettled
	ErrPaymentNotNeeded = errors.New("checkout does not await payment")
)

// CheckoutError names the line that stopped a checkout.  Err is the guard
// or availability error for that line.
type CheckoutError struct {
	CheckoutID string
	ServiceID  string
	Date       model.Day
	Err        error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout failed on service %s for %s: %v", e.ServiceID, e.Date, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

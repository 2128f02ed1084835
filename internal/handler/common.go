package handler // handler defines http handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/availability"
	"github.com/iliyamo/service-booking-engine/internal/booking"
	"github.com/iliyamo/service-booking-engine/internal/cart"
	"github.com/iliyamo/service-booking-engine/internal/guard"
	"github.com/iliyamo/service-booking-engine/internal/middleware"
	"github.com/iliyamo/service-booking-engine/internal/model"
	"github.com/iliyamo/service-booking-engine/internal/repository"
)

// getUserID returns the JWT subject stored by middleware.JWTAuth.
func getUserID(c echo.Context) (string, error) {
	if id := middleware.UserID(c); id != "" {
		return id, nil
	}
	return "", errors.New("invalid user_id in context")
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// parseDay reads a YYYY-MM-DD value.  An empty string yields the zero Day.
func parseDay(s string) (model.Day, error) {
	if s == "" {
		return model.Day{}, nil
	}
	return model.ParseDay(s)
}

// Invalidator drops cached availability responses.  *middleware.CacheInvalidator
// satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, path string) error
}

func availabilityPath(serviceID string) string {
	return "/v1/services/" + serviceID + "/availability"
}

// respondError maps engine errors to HTTP once, for every handler.
//
//	validation   400
//	not found    404
//	forbidden    403
//	capacity     409 (with remaining when known)
//	mixed dates  422 (with the conflicting dates)
//	contention   503 + Retry-After
func respondError(c echo.Context, log *zap.Logger, err error) error {
	body := echo.Map{"error": err.Error()}

	var coErr *booking.CheckoutError
	if errors.As(err, &coErr) {
		body["service_id"] = coErr.ServiceID
		body["date"] = coErr.Date
		body["checkout_id"] = coErr.CheckoutID
	}
	var capErr *guard.CapacityError
	if errors.As(err, &capErr) {
		body["service_id"] = capErr.ServiceID
		body["date"] = capErr.Date
		body["remaining"] = capErr.Remaining
		body["requested"] = capErr.Requested
	}
	var mixed *cart.MixedDatesError
	if errors.As(err, &mixed) {
		body["dates"] = mixed.Dates
	}
	var below *repository.CapacityBelowCommittedError
	if errors.As(err, &below) {
		body["date"] = below.Date
		body["booked"] = below.Booked
	}

	switch {
	case errors.Is(err, guard.ErrInvalidQuantity),
		errors.Is(err, guard.ErrMissingService),
		errors.Is(err, guard.ErrMissingDate),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrMissingService),
		errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrNoDateSelected),
		errors.Is(err, availability.ErrInvalidRange),
		errors.Is(err, availability.ErrRangeTooLong),
		errors.Is(err, availability.ErrMissingBounds),
		errors.Is(err, repository.ErrNegativeCapacity),
		errors.Is(err, repository.ErrInvalidRange):
		body["kind"] = "validation"
		return c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, cart.ErrMixedDates):
		body["kind"] = "mixed_dates"
		return c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, repository.ErrCapacityBelowCommitted):
		body["kind"] = "capacity_below_committed"
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, guard.ErrInsufficientCapacity):
		body["kind"] = "insufficient_capacity"
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, guard.ErrUnavailable):
		body["kind"] = "unavailable"
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, guard.ErrPastDate):
		body["kind"] = "past_date"
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, guard.ErrContention),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		body["kind"] = "contention"
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, body)
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, cart.ErrLineNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, cart.ErrStaleCart):
		body["kind"] = "stale_cart"
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, repository.ErrConflict), errors.Is(err, booking.ErrPaymentNotNeeded):
		body["kind"] = "conflict"
		return c.JSON(http.StatusConflict, body)
	}
	log.Error("request failed", zap.String("path", c.Request().URL.Path), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/booking"
	"github.com/iliyamo/service-booking-engine/internal/cart"
	"github.com/iliyamo/service-booking-engine/internal/model"
)

// BookingHandler drives checkout, payment settlement and reservation
// management for customers.  All methods assume JWTAuth and RequireRole
// already ran.
type BookingHandler struct {
	Orchestrator *booking.Orchestrator
	Carts        cart.Store
	Cache        Invalidator // optional
	Log          *zap.Logger
}

func NewBookingHandler(o *booking.Orchestrator, carts cart.Store, cache Invalidator, log *zap.Logger) *BookingHandler {
	if o == nil || carts == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingHandler{Orchestrator: o, Carts: carts, Cache: cache, Log: log}
}

type outcomeView struct {
	*booking.Outcome
	ReservationIDs []string `json:"reservation_ids"`
}

// Checkout handles POST /v1/checkout.  The caller's stored cart is booked
// all or nothing.  201 carries the reservations; failures name the service
// and date that stopped the checkout.
func (h *BookingHandler) Checkout(c echo.Context) error {
	owner, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	crt, err := h.Carts.Load(ctx, owner)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out, err := h.Orchestrator.Checkout(ctx, crt)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.invalidate(ctx, out.Reservations)
	return c.JSON(http.StatusCreated, outcomeView{Outcome: out, ReservationIDs: out.ReservationIDs()})
}

// Payment handles POST /v1/checkouts/:id/payment with
// {"outcome":"succeeded"|"failed"}.
func (h *BookingHandler) Payment(c echo.Context) error {
	owner, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	checkoutID := c.Param("id")
	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	var out *booking.Outcome
	switch strings.ToLower(body.Outcome) {
	case "succeeded":
		out, err = h.Orchestrator.ConfirmPayment(ctx, owner, checkoutID)
	case "failed":
		out, err = h.Orchestrator.FailPayment(ctx, owner, checkoutID)
		if err == nil {
			h.invalidate(ctx, out.Reservations)
		}
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": `outcome must be "succeeded" or "failed"`})
	}
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, outcomeView{Outcome: out, ReservationIDs: out.ReservationIDs()})
}

// ListReservations handles GET /v1/reservations.
func (h *BookingHandler) ListReservations(c echo.Context) error {
	owner, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	list, err := h.Orchestrator.Reservations(c.Request().Context(), owner)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": list})
}

// GetReservation handles GET /v1/reservations/:id.
func (h *BookingHandler) GetReservation(c echo.Context) error {
	owner, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	res, err := h.Orchestrator.Reservation(c.Request().Context(), owner, c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// CancelReservation handles DELETE /v1/reservations/:id.  The capacity is
// returned to the calendar in the same transaction as the cancellation.
func (h *BookingHandler) CancelReservation(c echo.Context) error {
	owner, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	res, err := h.Orchestrator.CancelReservation(ctx, owner, c.Param("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.invalidate(ctx, []model.Reservation{*res})
	return c.JSON(http.StatusOK, res)
}

func (h *BookingHandler) invalidate(ctx context.Context, list []model.Reservation) {
	if h.Cache == nil {
		return
	}
	seen := map[string]bool{}
	for _, r := range list {
		if seen[r.ServiceID] {
			continue
		}
		seen[r.ServiceID] = true
		if err := h.Cache.Invalidate(ctx, availabilityPath(r.ServiceID)); err != nil {
			h.Log.Warn("availability cache invalidation failed", zap.String("service_id", r.ServiceID), zap.Error(err))
		}
	}
}

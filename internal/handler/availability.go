package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/availability"
)

// AvailabilityHandler serves the public calendar.
type AvailabilityHandler struct {
	Projector *availability.Projector
	Log       *zap.Logger
}

func NewAvailabilityHandler(p *availability.Projector, log *zap.Logger) *AvailabilityHandler {
	if p == nil {
		panic("nil projector passed to NewAvailabilityHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AvailabilityHandler{Projector: p, Log: log}
}

// Get handles GET /v1/services/:id/availability?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Every day in the range is returned with one of available, full, closed
// or past; unconfigured days are closed.
func (h *AvailabilityHandler) Get(c echo.Context) error {
	serviceID := c.Param("id")
	if serviceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid service id"})
	}
	from, err := parseDay(c.QueryParam("from"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	to, err := parseDay(c.QueryParam("to"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if to.IsZero() {
		to = from
	}

	cal, err := h.Projector.Query(c.Request().Context(), serviceID, from, to)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"service_id": cal.ServiceID,
		"from":       cal.From,
		"to":         cal.To,
		"today":      cal.Today,
		"days":       cal.Slice(),
	})
}

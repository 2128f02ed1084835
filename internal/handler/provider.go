package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/repository"
)

// ProviderHandler is the provider-tooling surface: publish default
// availability and read the raw ledger for audit.
type ProviderHandler struct {
	Calendar     *repository.CalendarRepo
	Cache        Invalidator // optional
	MaxRangeDays int
	Log          *zap.Logger
}

func NewProviderHandler(cal *repository.CalendarRepo, cache Invalidator, maxRangeDays int, log *zap.Logger) *ProviderHandler {
	if cal == nil {
		panic("nil calendar repository passed to NewProviderHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if maxRangeDays <= 0 {
		maxRangeDays = 366
	}
	return &ProviderHandler{Calendar: cal, Cache: cache, MaxRangeDays: maxRangeDays, Log: log}
}

// PublishAvailability handles PUT /v1/provider/services/:id/availability
// with {"from","to","total_capacity","is_open"}.  is_open defaults to true.
// The whole range is applied or nothing is; a day whose booked capacity
// exceeds the new total is named in the 409.
func (h *ProviderHandler) PublishAvailability(c echo.Context) error {
	serviceID := c.Param("id")
	var body struct {
		From          string `json:"from"`
		To            string `json:"to"`
		TotalCapacity *int   `json:"total_capacity"`
		IsOpen        *bool  `json:"is_open"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.TotalCapacity == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "total_capacity is required"})
	}
	from, err := parseDay(body.From)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	to, err := parseDay(body.To)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if !from.IsZero() && !to.IsZero() && from.DaysUntil(to)+1 > h.MaxRangeDays {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date range too long"})
	}
	open := true
	if body.IsOpen != nil {
		open = *body.IsOpen
	}

	ctx := c.Request().Context()
	res, err := h.Calendar.UpsertDefault(ctx, repository.DefaultAvailability{
		ServiceID:     serviceID,
		From:          from,
		To:            to,
		TotalCapacity: *body.TotalCapacity,
		IsOpen:        open,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if h.Cache != nil {
		if err := h.Cache.Invalidate(ctx, availabilityPath(serviceID)); err != nil {
			h.Log.Warn("availability cache invalidation failed", zap.String("service_id", serviceID), zap.Error(err))
		}
	}
	h.Log.Info("availability published",
		zap.String("service_id", serviceID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("total_capacity", *body.TotalCapacity),
		zap.Bool("is_open", open),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
	)
	return c.JSON(http.StatusOK, res)
}

// Ledger handles GET /v1/provider/services/:id/calendar?from=&to= and
// returns the stored rows, including booked capacity and version.
func (h *ProviderHandler) Ledger(c echo.Context) error {
	from, err := parseDay(c.QueryParam("from"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	to, err := parseDay(c.QueryParam("to"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "from and to are required and from must not be after to"})
	}
	if from.DaysUntil(to)+1 > h.MaxRangeDays {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date range too long"})
	}
	entries, err := h.Calendar.GetRange(c.Request().Context(), c.Param("id"), from, to)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"service_id": c.Param("id"), "entries": entries})
}

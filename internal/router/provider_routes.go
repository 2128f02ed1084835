package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-booking-engine/internal/handler"
	"github.com/iliyamo/service-booking-engine/internal/middleware"
)

// RegisterProvider registers provider tooling under /v1/provider.  Routes
// require a valid JWT with the PROVIDER role.
func RegisterProvider(e *echo.Echo, h *handler.ProviderHandler, jwtSecret string) {
	g := e.Group(
		"/v1/provider",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleProvider),
	)
	g.PUT("/services/:id/availability", h.PublishAvailability)
	g.GET("/services/:id/calendar", h.Ledger)
}

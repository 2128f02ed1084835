package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/service-booking-engine/internal/handler" // handlers that implement the API
)

// RegisterRoutes registers routes that do not require authentication:
// liveness at /healthz and database readiness at /readyz.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterPublic registers the guest-facing availability calendar.  The
// extra middleware (rate limit, response cache) wraps only this route.
func RegisterPublic(e *echo.Echo, a *handler.AvailabilityHandler, mw ...echo.MiddlewareFunc) {
	e.GET("/v1/services/:id/availability", a.Get, mw...)
}

package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/service-booking-engine/internal/handler"
	"github.com/iliyamo/service-booking-engine/internal/middleware"
)

// RegisterCustomer registers shopper endpoints under /v1.  All routes
// require a valid JWT and the CUSTOMER role; the subject is the cart and
// reservation owner.  Extra middleware (rate limiting) runs after
// authentication so it can key on the user.
func RegisterCustomer(e *echo.Echo, ch *handler.CartHandler, bh *handler.BookingHandler, jwtSecret string, mw ...echo.MiddlewareFunc) {
	chain := append([]echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCustomer),
	}, mw...)
	g := e.Group("/v1", chain...)

	g.GET("/cart", ch.Get)
	g.DELETE("/cart", ch.Clear)
	g.POST("/cart/lines", ch.AddLine)
	g.PATCH("/cart/lines/:lineID", ch.UpdateLine)
	g.DELETE("/cart/lines/:lineID", ch.RemoveLine)
	g.PUT("/cart/date", ch.SetDate)
	g.DELETE("/cart/date", ch.ClearDate)

	g.POST("/checkout", bh.Checkout)
	g.POST("/checkouts/:id/payment", bh.Payment)

	g.GET("/reservations", bh.ListReservations)
	g.GET("/reservations/:id", bh.GetReservation)
	g.DELETE("/reservations/:id", bh.CancelReservation)
}

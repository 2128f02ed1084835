package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/cart"
	"github.com/iliyamo/service-booking-engine/internal/model"
)

// CartHandler exposes the shopper's cart.  The cart is keyed by the JWT
// subject and loaded fresh on every request.
type CartHandler struct {
	Carts cart.Store
	Log   *zap.Logger
}

func NewCartHandler(store cart.Store, log *zap.Logger) *CartHandler {
	if store == nil {
		panic("nil cart store passed to NewCartHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CartHandler{Carts: store, Log: log}
}

// cartView adds the resolved event date, or why none resolves, so the
// front-end can flag divergent lines.
type cartView struct {
	*cart.Cart
	EventDate      *model.Day  `json:"event_date,omitempty"`
	DateProblem    string      `json:"date_problem,omitempty"`
	DivergentLines []cart.Line `json:"divergent_lines"`
}

func viewOf(c *cart.Cart) cartView {
	v := cartView{Cart: c, DivergentLines: c.DivergentLines()}
	if d, err := c.EventDate(); err != nil {
		v.DateProblem = err.Error()
	} else {
		v.EventDate = &d
	}
	return v
}

// saveAttempts bounds how often mutate replays a change over a cart that
// another request saved first.
const saveAttempts = 3

// mutate loads the caller's cart, applies fn, saves and renders it.  A save
// that loses to a concurrent one reloads and applies fn again.
func (h *CartHandler) mutate(c echo.Context, status int, fn func(*cart.Cart) error) error {
	owner, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	for i := 0; ; i++ {
		crt, err := h.Carts.Load(ctx, owner)
		if err != nil {
			return respondError(c, h.Log, err)
		}
		if fn == nil {
			return c.JSON(status, viewOf(crt))
		}
		if err := fn(crt); err != nil {
			return respondError(c, h.Log, err)
		}
		err = h.Carts.Save(ctx, crt)
		if errors.Is(err, cart.ErrStaleCart) && i+1 < saveAttempts {
			continue
		}
		if err != nil {
			return respondError(c, h.Log, err)
		}
		return c.JSON(status, viewOf(crt))
	}
}

// Get handles GET /v1/cart.
func (h *CartHandler) Get(c echo.Context) error {
	return h.mutate(c, http.StatusOK, nil)
}

type lineRequest struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
	EventDate string `json:"event_date"`
}

// AddLine handles POST /v1/cart/lines.  A line for a service and date
// already in the cart is merged.
func (h *CartHandler) AddLine(c echo.Context) error {
	var body lineRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	date, err := parseDay(body.EventDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return h.mutate(c, http.StatusCreated, func(crt *cart.Cart) error {
		_, err := crt.AddLine(body.ServiceID, body.Quantity, date)
		return err
	})
}

// UpdateLine handles PATCH /v1/cart/lines/:lineID.
func (h *CartHandler) UpdateLine(c echo.Context) error {
	var body lineRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	date, err := parseDay(body.EventDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	lineID := c.Param("lineID")
	return h.mutate(c, http.StatusOK, func(crt *cart.Cart) error {
		_, err := crt.UpdateLine(lineID, body.Quantity, date)
		return err
	})
}

// RemoveLine handles DELETE /v1/cart/lines/:lineID.
func (h *CartHandler) RemoveLine(c echo.Context) error {
	lineID := c.Param("lineID")
	return h.mutate(c, http.StatusOK, func(crt *cart.Cart) error {
		return crt.RemoveLine(lineID)
	})
}

// SetDate handles PUT /v1/cart/date.  The date applies to every line.
func (h *CartHandler) SetDate(c echo.Context) error {
	var body struct {
		Date string `json:"date"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	date, err := parseDay(body.Date)
	if err != nil || date.IsZero() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
	}
	return h.mutate(c, http.StatusOK, func(crt *cart.Cart) error {
		crt.SetDate(date)
		return nil
	})
}

// ClearDate handles DELETE /v1/cart/date.
func (h *CartHandler) ClearDate(c echo.Context) error {
	return h.mutate(c, http.StatusOK, func(crt *cart.Cart) error {
		crt.ClearDate()
		return nil
	})
}

// Clear handles DELETE /v1/cart.
func (h *CartHandler) Clear(c echo.Context) error {
	owner, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	if err := h.Carts.Delete(c.Request().Context(), owner); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

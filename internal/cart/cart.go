// Package cart holds a shopper's proposed line items before checkout.  A
// cart holds no capacity; it is advisory until the booking orchestrator
// commits it.
package cart

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/service-booking-engine/internal/model"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrLineNotFound    = errors.New("cart line not found")
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrMissingService  = errors.New("service id is required")
	ErrNoDateSelected  = errors.New("no event date selected")
	ErrMixedDates      = errors.New("cart lines disagree on the event date")
	// ErrStaleCart means the stored cart changed after it was loaded.
	ErrStaleCart = errors.New("cart was changed by another request")
)

// MixedDatesError lists the distinct dates found on the lines.
type MixedDatesError struct {
	Dates []model.Day
}

func (e *MixedDatesError) Error() string {
	parts := make([]string, len(e.Dates))
	for i, d := range e.Dates {
		parts[i] = d.String()
	}
	return fmt.Sprintf("%s: %s; pick one date for the whole cart", ErrMixedDates, strings.Join(parts, ", "))
}

func (e *MixedDatesError) Unwrap() error { return ErrMixedDates }

// Line is one (service, quantity, date) intent.  EventDate may be zero
// until the shopper picks one.
type Line struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	Quantity  int       `json:"quantity"`
	EventDate model.Day `json:"event_date"`
}

// Cart is owned by one shopper session and passed explicitly to whoever
// needs it.  DateOverride, when set, is the date for every line.  Version
// counts saves; a Store refuses to save over a newer version.
type Cart struct {
	OwnerID      string    `json:"owner_id"`
	Lines        []Line    `json:"lines"`
	DateOverride model.Day `json:"date_override"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func New(ownerID string) *Cart {
	return &Cart{OwnerID: ownerID, Lines: []Line{}}
}

// AddLine adds a line, or merges into an existing line for the same service
// and date.  The resulting line is returned.
func (c *Cart) AddLine(serviceID string, quantity int, date model.Day) (Line, error) {
	if serviceID == "" {
		return Line{}, ErrMissingService
	}
	if quantity <= 0 {
		return Line{}, ErrInvalidQuantity
	}
	for i := range c.Lines {
		l := &c.Lines[i]
		if l.ServiceID == serviceID && l.EventDate.Equal(date) {
			l.Quantity += quantity
			c.touch()
			return *l, nil
		}
	}
	l := Line{ID: uuid.NewString(), ServiceID: serviceID, Quantity: quantity, EventDate: date}
	c.Lines = append(c.Lines, l)
	c.touch()
	return l, nil
}

// UpdateLine replaces a line's quantity and, when date is non-zero, its date.
func (c *Cart) UpdateLine(lineID string, quantity int, date model.Day) (Line, error) {
	if quantity <= 0 {
		return Line{}, ErrInvalidQuantity
	}
	i := c.index(lineID)
	if i < 0 {
		return Line{}, ErrLineNotFound
	}
	c.Lines[i].Quantity = quantity
	if !date.IsZero() {
		c.Lines[i].EventDate = date
	}
	c.touch()
	return c.Lines[i], nil
}

func (c *Cart) RemoveLine(lineID string) error {
	i := c.index(lineID)
	if i < 0 {
		return ErrLineNotFound
	}
	c.Lines = slices.Delete(c.Lines, i, i+1)
	c.touch()
	return nil
}

func (c *Cart) Line(lineID string) (Line, bool) {
	i := c.index(lineID)
	if i < 0 {
		return Line{}, false
	}
	return c.Lines[i], true
}

// SetDate makes d the event date for the whole cart.
func (c *Cart) SetDate(d model.Day) {
	c.DateOverride = d
	c.touch()
}

func (c *Cart) ClearDate() {
	c.DateOverride = model.Day{}
	c.touch()
}

// EventDate resolves the single date the cart will be booked for.  The
// override wins.  Otherwise every dated line must agree; lines that carry
// different dates are never resolved silently.
func (c *Cart) EventDate() (model.Day, error) {
	if !c.DateOverride.IsZero() {
		return c.DateOverride, nil
	}
	dates := c.distinctDates()
	switch len(dates) {
	case 0:
		return model.Day{}, ErrNoDateSelected
	case 1:
		return dates[0], nil
	default:
		return model.Day{}, &MixedDatesError{Dates: dates}
	}
}

// DivergentLines returns the lines whose own date differs from the
// resolved event date, so they can be flagged to the shopper.  When no
// single date resolves, every dated line is returned.
func (c *Cart) DivergentLines() []Line {
	date, err := c.EventDate()
	out := make([]Line, 0)
	for _, l := range c.Lines {
		if l.EventDate.IsZero() {
			continue
		}
		if err != nil || !l.EventDate.Equal(date) {
			out = append(out, l)
		}
	}
	return out
}

// Clear drops every line and the override.
func (c *Cart) Clear() {
	c.Lines = []Line{}
	c.DateOverride = model.Day{}
	c.touch()
}

func (c *Cart) Empty() bool { return len(c.Lines) == 0 }

// Subtract takes booked lines out of the cart.  A line whose quantity grew
// since it was booked keeps the difference; lines it never saw stay as they
// are.  The date override is dropped once nothing is left.
func (c *Cart) Subtract(booked []Line) {
	for _, b := range booked {
		i := c.index(b.ID)
		if i < 0 {
			continue
		}
		if c.Lines[i].Quantity > b.Quantity {
			c.Lines[i].Quantity -= b.Quantity
			continue
		}
		c.Lines = slices.Delete(c.Lines, i, i+1)
	}
	if len(c.Lines) == 0 {
		c.DateOverride = model.Day{}
	}
	c.touch()
}

func (c *Cart) index(lineID string) int {
	return slices.IndexFunc(c.Lines, func(l Line) bool { return l.ID == lineID })
}

func (c *Cart) distinctDates() []model.Day {
	var dates []model.Day
	for _, l := range c.Lines {
		if l.EventDate.IsZero() {
			continue
		}
		if !slices.ContainsFunc(dates, l.EventDate.Equal) {
			dates = append(dates, l.EventDate)
		}
	}
	slices.SortFunc(dates, func(a, b model.Day) int { return a.Time().Compare(b.Time()) })
	return dates
}

func (c *Cart) touch() { c.UpdatedAt = time.Now().UTC() }

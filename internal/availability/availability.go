// Package availability projects calendar entries into the day statuses a
// front-end renders.  It only reads.
package availability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/iliyamo/service-booking-engine/internal/clock"
	"github.com/iliyamo/service-booking-engine/internal/model"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusFull      Status = "full"
	StatusClosed    Status = "closed"
	StatusPast      Status = "past"
)

var (
	ErrInvalidRange  = errors.New("from must not be after to")
	ErrRangeTooLong  = errors.New("date range too long")
	ErrMissingBounds = errors.New("from and to are required")
)

// Day is one rendered calendar cell.
type Day struct {
	Date      model.Day `json:"date"`
	Status    Status    `json:"status"`
	Remaining int       `json:"remaining"`
}

// Selectable reports whether a shopper may pick the day.
func (d Day) Selectable() bool { return d.Status == StatusAvailable }

// Store is the read side of the calendar store.
type Store interface {
	GetRange(ctx context.Context, serviceID string, from, to model.Day) ([]model.CalendarEntry, error)
}

type Config struct {
	// HorizonDays is how far past today a provider publishes.  Later days
	// are closed and never read.  Zero disables the horizon.
	HorizonDays int
	// MaxRangeDays bounds a single query.
	MaxRangeDays int
}

type Projector struct {
	store Store
	clock clock.Clock
	cfg   Config
}

func NewProjector(store Store, clk clock.Clock, cfg Config) *Projector {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 366
	}
	return &Projector{store: store, clock: clk, cfg: cfg}
}

// Calendar is the result of one Query.  It holds the rows read at query
// time; Days re-projects them on every call so iterating twice yields the
// same sequence.
type Calendar struct {
	ServiceID string    `json:"service_id"`
	From      model.Day `json:"from"`
	To        model.Day `json:"to"`
	Today     model.Day `json:"today"`

	horizon model.Day
	entries map[string]model.CalendarEntry
}

// Query reads the configured rows for [from, to] and returns a Calendar.
// Past days and days beyond the horizon are not read.
func (p *Projector) Query(ctx context.Context, serviceID string, from, to model.Day) (*Calendar, error) {
	if from.IsZero() || to.IsZero() {
		return nil, ErrMissingBounds
	}
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	if span := from.DaysUntil(to) + 1; span > p.cfg.MaxRangeDays {
		return nil, fmt.Errorf("%w: %d days requested, at most %d", ErrRangeTooLong, span, p.cfg.MaxRangeDays)
	}

	today := p.clock.Today()
	cal := &Calendar{
		ServiceID: serviceID,
		From:      from,
		To:        to,
		Today:     today,
		entries:   make(map[string]model.CalendarEntry),
	}
	if p.cfg.HorizonDays > 0 {
		cal.horizon = today.AddDays(p.cfg.HorizonDays)
	}

	fetchFrom, fetchTo := from, to
	if fetchFrom.Before(today) {
		fetchFrom = today
	}
	if !cal.horizon.IsZero() && fetchTo.After(cal.horizon) {
		fetchTo = cal.horizon
	}
	if fetchTo.Before(fetchFrom) {
		return cal, nil
	}

	rows, err := p.store.GetRange(ctx, serviceID, fetchFrom, fetchTo)
	if err != nil {
		return nil, err
	}
	for _, e := range rows {
		cal.entries[e.Date.String()] = e
	}
	return cal, nil
}

// Days yields one Day per date from From to To inclusive.
func (c *Calendar) Days() iter.Seq[Day] {
	return func(yield func(Day) bool) {
		for d := c.From; !d.After(c.To); d = d.AddDays(1) {
			if !yield(c.project(d)) {
				return
			}
		}
	}
}

// Slice collects Days.
func (c *Calendar) Slice() []Day { return slices.Collect(c.Days()) }

// Lookup projects a single date.  Dates outside the queried range are closed.
func (c *Calendar) Lookup(d model.Day) Day {
	if d.Before(c.From) || d.After(c.To) {
		return Day{Date: d, Status: StatusClosed}
	}
	return c.project(d)
}

func (c *Calendar) project(d model.Day) Day {
	if d.Before(c.Today) {
		return Day{Date: d, Status: StatusPast}
	}
	if !c.horizon.IsZero() && d.After(c.horizon) {
		return Day{Date: d, Status: StatusClosed}
	}
	e, ok := c.entries[d.String()]
	if !ok || !e.IsOpen {
		return Day{Date: d, Status: StatusClosed}
	}
	if e.BookedCapacity >= e.TotalCapacity {
		return Day{Date: d, Status: StatusFull}
	}
	return Day{Date: d, Status: StatusAvailable, Remaining: e.Remaining()}
}

// Package guard implements the check-and-reserve protocol against a single
// calendar entry.  The debit is one conditional update that only succeeds
// while the entry is open and has room, so concurrent callers can never
// overcommit it.  A caller whose debit is refused re-reads the entry to
// report why.
package guard

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/clock"
	"github.com/iliyamo/service-booking-engine/internal/model"
	"github.com/iliyamo/service-booking-engine/internal/repository"
)

// Ledger is the slice of the calendar store the guard needs.
// *repository.CalendarRepo satisfies it.
type Ledger interface {
	Get(ctx context.Context, serviceID string, day model.Day) (*model.CalendarEntry, error)
	CommitReservation(ctx context.Context, res *model.Reservation) error
	ReleaseReservation(ctx context.Context, reservationID string) (*model.Reservation, bool, error)
	CancelPendingCheckout(ctx context.Context, checkoutID string) ([]model.Reservation, error)
}

// Config bounds how hard the guard tries before giving up.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	Backoff        time.Duration
}

// DefaultConfig mirrors the BOOKING_RESERVE_* defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, AttemptTimeout: 2 * time.Second, Backoff: 10 * time.Millisecond}
}

// Request asks for Quantity units of ServiceID on Date.  OwnerID and
// CheckoutID are stamped on the reservation row.
type Request struct {
	ServiceID  string
	Date       model.Day
	Quantity   int
	OwnerID    string
	CheckoutID string
}

// Token identifies a successful reservation.  Pass ReservationID to Release.
type Token struct {
	ReservationID string
	ServiceID     string
	Date          model.Day
	Quantity      int
}

type Guard struct {
	ledger Ledger
	clock  clock.Clock
	cfg    Config
	log    *zap.Logger
}

func New(ledger Ledger, clk clock.Clock, cfg Config, log *zap.Logger) *Guard {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{ledger: ledger, clock: clk, cfg: cfg, log: log}
}

// Reserve debits req.Quantity from the entry and records a PENDING
// reservation in the same transaction.  Validation and capacity errors are
// returned as soon as they are seen.  A refused debit is re-read and
// classified; it is only tried again if the fresh row still has room.
// Timeouts are retried with backoff.  After MaxAttempts the result is
// ErrContention.
func (g *Guard) Reserve(ctx context.Context, req Request) (Token, error) {
	switch {
	case req.ServiceID == "":
		return Token{}, ErrMissingService
	case req.Date.IsZero():
		return Token{}, ErrMissingDate
	case req.Quantity <= 0:
		return Token{}, ErrInvalidQuantity
	}
	// A past day is rejected whatever the ledger says about it.
	if req.Date.Before(g.clock.Today()) {
		return Token{}, fmt.Errorf("%w: service %s on %s", ErrPastDate, req.ServiceID, req.Date)
	}

	var last error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Token{}, err
		}
		tok, err := g.attempt(ctx, req)
		if err == nil {
			return tok, nil
		}
		last = err
		switch {
		case errors.Is(err, repository.ErrDebitRejected):
			// The next read says why; no need to wait for it.
			g.log.Debug("reserve debit refused, re-reading",
				zap.String("service_id", req.ServiceID),
				zap.String("date", req.Date.String()),
				zap.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, ErrContention):
		default:
			return Token{}, err
		}
		g.log.Debug("reserve timed out",
			zap.String("service_id", req.ServiceID),
			zap.String("date", req.Date.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < g.cfg.MaxAttempts {
			if err := g.sleep(ctx, attempt); err != nil {
				return Token{}, err
			}
		}
	}
	if errors.Is(last, repository.ErrDebitRejected) {
		if err := g.classify(ctx, req); err != nil {
			return Token{}, err
		}
	}
	g.log.Warn("reserve contention",
		zap.String("service_id", req.ServiceID),
		zap.String("date", req.Date.String()),
		zap.Int("attempts", g.cfg.MaxAttempts),
	)
	return Token{}, fmt.Errorf("%w: service %s on %s after %d attempts",
		ErrContention, req.ServiceID, req.Date, g.cfg.MaxAttempts)
}

// check reports why entry cannot take req, or nil when it can.
func check(entry *model.CalendarEntry, req Request) error {
	if !entry.IsOpen {
		return fmt.Errorf("%w: service %s on %s", ErrUnavailable, req.ServiceID, req.Date)
	}
	if entry.BookedCapacity+req.Quantity > entry.TotalCapacity {
		return &CapacityError{
			ServiceID: req.ServiceID,
			Date:      req.Date,
			Requested: req.Quantity,
			Remaining: entry.Remaining(),
		}
	}
	return nil
}

func (g *Guard) read(parent context.Context, req Request) (*model.CalendarEntry, error) {
	ctx, cancel := context.WithTimeout(parent, g.cfg.AttemptTimeout)
	defer cancel()
	entry, err := g.ledger.Get(ctx, req.ServiceID, req.Date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: service %s on %s", ErrUnavailable, req.ServiceID, req.Date)
		}
		return nil, g.timeout(parent, err)
	}
	return entry, nil
}

// classify re-reads the entry after the last refused debit.
func (g *Guard) classify(ctx context.Context, req Request) error {
	entry, err := g.read(ctx, req)
	if err != nil {
		return err
	}
	return check(entry, req)
}

func (g *Guard) attempt(parent context.Context, req Request) (Token, error) {
	entry, err := g.read(parent, req)
	if err != nil {
		return Token{}, err
	}
	if err := check(entry, req); err != nil {
		return Token{}, err
	}

	ctx, cancel := context.WithTimeout(parent, g.cfg.AttemptTimeout)
	defer cancel()
	res := &model.Reservation{
		ID:         uuid.NewString(),
		CheckoutID: req.CheckoutID,
		OwnerID:    req.OwnerID,
		ServiceID:  req.ServiceID,
		EventDate:  req.Date,
		Quantity:   req.Quantity,
		Status:     model.ReservationPending,
	}
	if err := g.ledger.CommitReservation(ctx, res); err != nil {
		if errors.Is(err, repository.ErrDebitRejected) {
			return Token{}, err
		}
		if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			// The commit may have landed after the deadline fired.
			g.compensate(parent, res.ID)
		}
		return Token{}, g.timeout(parent, err)
	}
	return Token{ReservationID: res.ID, ServiceID: res.ServiceID, Date: res.EventDate, Quantity: res.Quantity}, nil
}

// timeout turns a per-attempt deadline into ErrContention.  The caller's own
// cancellation passes through unchanged.
func (g *Guard) timeout(parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrContention, err)
	}
	return err
}

func (g *Guard) compensate(parent context.Context, reservationID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), g.cfg.AttemptTimeout)
	defer cancel()
	_, _, err := g.ledger.ReleaseReservation(ctx, reservationID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		g.log.Error("compensating release failed", zap.String("reservation_id", reservationID), zap.Error(err))
	}
}

func (g *Guard) sleep(ctx context.Context, attempt int) error {
	if g.cfg.Backoff == 0 {
		return nil
	}
	d := time.Duration(attempt) * g.cfg.Backoff
	d += rand.N(g.cfg.Backoff)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Release cancels the reservation and returns its quantity to the entry it
// was taken from, clamped at zero.  released is false when the reservation
// was already cancelled; nothing is returned twice.
func (g *Guard) Release(ctx context.Context, reservationID string) (*model.Reservation, bool, error) {
	if reservationID == "" {
		return nil, false, repository.ErrNotFound
	}
	actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()
	res, released, err := g.ledger.ReleaseReservation(actx, reservationID)
	if err != nil {
		return nil, false, g.timeout(ctx, err)
	}
	if released {
		g.log.Info("capacity released",
			zap.String("reservation_id", res.ID),
			zap.String("service_id", res.ServiceID),
			zap.String("date", res.EventDate.String()),
			zap.Int("quantity", res.Quantity),
		)
	}
	return res, released, nil
}

// ReleaseCheckout cancels whatever is still PENDING in a checkout and
// returns the capacity, in one step.  It fails with
// repository.ErrCheckoutSettled if any part of the checkout was confirmed.
func (g *Guard) ReleaseCheckout(ctx context.Context, checkoutID string) ([]model.Reservation, error) {
	actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
	defer cancel()
	list, err := g.ledger.CancelPendingCheckout(actx, checkoutID)
	if err != nil {
		return nil, g.timeout(ctx, err)
	}
	if len(list) > 0 {
		g.log.Info("checkout released",
			zap.String("checkout_id", checkoutID),
			zap.Int("reservations", len(list)),
		)
	}
	return list, nil
}

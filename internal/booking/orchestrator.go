// Package booking turns a cart into reservations, all or nothing.
package booking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/availability"
	"github.com/iliyamo/service-booking-engine/internal/cart"
	"github.com/iliyamo/service-booking-engine/internal/clock"
	"github.com/iliyamo/service-booking-engine/internal/guard"
	"github.com/iliyamo/service-booking-engine/internal/model"
	"github.com/iliyamo/service-booking-engine/internal/queue"
	"github.com/iliyamo/service-booking-engine/internal/repository"
)

// State of one checkout attempt.
type State string

const (
	StateStarted      State = "started"
	StateReserving    State = "reserving"
	StateAllReserved  State = "all_reserved"
	StateCommitted    State = "committed"
	StateAnyFailed    State = "any_failed"
	StateRollingBack  State = "rolling_back"
	StateFailed       State = "failed"
	StateAwaitPayment State = "awaiting_payment"
)

// Reserver is the commitment guard.
type Reserver interface {
	Reserve(ctx context.Context, req guard.Request) (guard.Token, error)
	Release(ctx context.Context, reservationID string) (*model.Reservation, bool, error)
	ReleaseCheckout(ctx context.Context, checkoutID string) ([]model.Reservation, error)
}

// Checker answers availability questions for revalidation.
type Checker interface {
	Query(ctx context.Context, serviceID string, from, to model.Day) (*availability.Calendar, error)
}

// Reservations is the read side of the reservation store.
type Reservations interface {
	GetByID(ctx context.Context, id string) (*model.Reservation, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Reservation, error)
	ListByCheckout(ctx context.Context, checkoutID string) ([]model.Reservation, error)
	ConfirmCheckout(ctx context.Context, checkoutID string) (int64, error)
	StalePendingCheckouts(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// EventPublisher receives reservation events after they are durable.
type EventPublisher interface {
	PublishReservation(ctx context.Context, ev queue.ReservationEvent) error
}

type Config struct {
	// RequirePayment leaves reservations PENDING after checkout until
	// ConfirmPayment or FailPayment is called.
	RequirePayment bool
	// ReleaseTimeout bounds each rollback release.  Releases run detached
	// from the caller's context.
	ReleaseTimeout time.Duration
	// PendingTTL is how long a checkout may wait for payment before
	// ExpirePending releases it.  Zero disables expiry.
	PendingTTL time.Duration
	// SweepBatch caps how many checkouts one ExpirePending pass releases.
	SweepBatch int
}

type Orchestrator struct {
	guard        Reserver
	avail        Checker
	reservations Reservations
	carts        cart.Store
	events       EventPublisher
	clock        clock.Clock
	cfg          Config
	log          *zap.Logger

	pending sync.WaitGroup
}

type Deps struct {
	Guard        Reserver
	Availability Checker
	Reservations Reservations
	Carts        cart.Store
	Events       EventPublisher // optional
	Clock        clock.Clock
	Log          *zap.Logger
}

func New(d Deps, cfg Config) *Orchestrator {
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		guard:        d.Guard,
		avail:        d.Availability,
		reservations: d.Reservations,
		carts:        d.Carts,
		events:       d.Events,
		clock:        d.Clock,
		cfg:          cfg,
		log:          log,
	}
}

// Outcome describes a checkout.
type Outcome struct {
	CheckoutID   string              `json:"checkout_id"`
	State        State               `json:"state"`
	EventDate    model.Day           `json:"event_date"`
	Reservations []model.Reservation `json:"reservations"`
}

// ReservationIDs lists the reservation ids of the outcome.
func (o *Outcome) ReservationIDs() []string {
	ids := make([]string, len(o.Reservations))
	for i, r := range o.Reservations {
		ids[i] = r.ID
	}
	return ids
}

type item struct {
	serviceID string
	quantity  int
}

type attempt struct {
	id    string
	date  model.Day
	state State
	log   *zap.Logger
}

func (a *attempt) to(s State) {
	a.log.Debug("checkout state", zap.String("from", string(a.state)), zap.String("to", string(s)))
	a.state = s
}

// Checkout books every line of c on the cart's single event date.  Lines
// are reserved in service id order.  If any reserve fails, every reserve
// already made in this attempt is released in reverse order and a
// *CheckoutError naming the offending service is returned.  On success the
// stored cart is cleared.
func (o *Orchestrator) Checkout(ctx context.Context, c *cart.Cart) (*Outcome, error) {
	if c == nil || c.Empty() {
		return nil, cart.ErrEmptyCart
	}
	date, err := c.EventDate()
	if err != nil {
		return nil, err
	}

	a := &attempt{id: uuid.NewString(), date: date, state: StateStarted}
	a.log = o.log.With(zap.String("checkout_id", a.id), zap.String("owner_id", c.OwnerID), zap.String("date", date.String()))

	items := collapse(c.Lines)
	// Cart is advisory; recheck every line before touching capacity.
	for _, it := range items {
		if err := o.revalidate(ctx, it, date); err != nil {
			a.to(StateFailed)
			a.log.Info("checkout rejected on revalidation", zap.String("service_id", it.serviceID), zap.Error(err))
			return nil, &CheckoutError{CheckoutID: a.id, ServiceID: it.serviceID, Date: date, Err: err}
		}
	}

	a.to(StateReserving)
	tokens := make([]guard.Token, 0, len(items))
	for _, it := range items {
		tok, err := o.guard.Reserve(ctx, guard.Request{
			ServiceID:  it.serviceID,
			Date:       date,
			Quantity:   it.quantity,
			OwnerID:    c.OwnerID,
			CheckoutID: a.id,
		})
		if err != nil {
			a.to(StateAnyFailed)
			o.rollback(ctx, a, tokens)
			return nil, &CheckoutError{CheckoutID: a.id, ServiceID: it.serviceID, Date: date, Err: err}
		}
		tokens = append(tokens, tok)
	}
	a.to(StateAllReserved)

	status := model.ReservationPending
	if !o.cfg.RequirePayment {
		if _, err := o.reservations.ConfirmCheckout(ctx, a.id); err != nil {
			a.to(StateAnyFailed)
			o.rollback(ctx, a, tokens)
			return nil, fmt.Errorf("confirm checkout %s: %w", a.id, err)
		}
		status = model.ReservationConfirmed
	}

	now := o.clock.Now()
	out := &Outcome{CheckoutID: a.id, EventDate: date, State: StateCommitted, Reservations: make([]model.Reservation, len(tokens))}
	for i, tok := range tokens {
		out.Reservations[i] = model.Reservation{
			ID:         tok.ReservationID,
			CheckoutID: a.id,
			OwnerID:    c.OwnerID,
			ServiceID:  tok.ServiceID,
			EventDate:  tok.Date,
			Quantity:   tok.Quantity,
			Status:     status,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	if o.cfg.RequirePayment {
		out.State = StateAwaitPayment
	}
	a.to(StateCommitted)
	a.log.Info("checkout committed", zap.Int("reservations", len(tokens)), zap.String("status", string(status)))

	o.clearCart(ctx, a, c)
	if status == model.ReservationConfirmed {
		o.publish(ctx, queue.ReservationConfirmed, out.Reservations)
	}
	return out, nil
}

// clearCart takes the booked lines out of the stored cart.  Lines another
// request added while the checkout ran are kept; a stale save reloads and
// subtracts again.
func (o *Orchestrator) clearCart(ctx context.Context, a *attempt, c *cart.Cart) {
	booked := slices.Clone(c.Lines)
	c.Clear()
	if o.carts == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < 3; i++ {
		stored, err := o.carts.Load(ctx, c.OwnerID)
		if err != nil {
			a.log.Warn("clear cart failed", zap.Error(err))
			return
		}
		stored.Subtract(booked)
		err = o.carts.Save(ctx, stored)
		if err == nil {
			if !stored.Empty() {
				a.log.Info("cart kept lines added during checkout", zap.Int("lines", len(stored.Lines)))
			}
			return
		}
		if !errors.Is(err, cart.ErrStaleCart) {
			a.log.Warn("clear cart failed", zap.Error(err))
			return
		}
	}
	a.log.Warn("clear cart gave up after repeated concurrent edits")
}

// collapse merges lines per service, since the whole cart books a single
// date, and orders them by service id.
func collapse(lines []cart.Line) []item {
	byService := make(map[string]int, len(lines))
	for _, l := range lines {
		byService[l.ServiceID] += l.Quantity
	}
	items := make([]item, 0, len(byService))
	for svc, q := range byService {
		items = append(items, item{serviceID: svc, quantity: q})
	}
	slices.SortFunc(items, func(a, b item) int { return cmp.Compare(a.serviceID, b.serviceID) })
	return items
}

func (o *Orchestrator) revalidate(ctx context.Context, it item, date model.Day) error {
	cal, err := o.avail.Query(ctx, it.serviceID, date, date)
	if err != nil {
		return err
	}
	day := cal.Lookup(date)
	switch day.Status {
	case availability.StatusPast:
		return guard.ErrPastDate
	case availability.StatusClosed:
		return guard.ErrUnavailable
	}
	if day.Remaining < it.quantity {
		return &guard.CapacityError{ServiceID: it.serviceID, Date: date, Requested: it.quantity, Remaining: day.Remaining}
	}
	return nil
}

// rollback releases tokens in reverse order on a context that ignores the
// caller's cancellation, so an abandoned attempt still gives back
// everything it took.
func (o *Orchestrator) rollback(ctx context.Context, a *attempt, tokens []guard.Token) {
	a.to(StateRollingBack)
	detached := context.WithoutCancel(ctx)
	for i := len(tokens) - 1; i >= 0; i-- {
		if err := o.release(detached, tokens[i].ReservationID); err != nil {
			a.log.Error("rollback release failed",
				zap.String("reservation_id", tokens[i].ReservationID),
				zap.String("service_id", tokens[i].ServiceID),
				zap.Error(err),
			)
		}
	}
	a.to(StateFailed)
	a.log.Info("checkout rolled back", zap.Int("released", len(tokens)))
}

func (o *Orchestrator) release(ctx context.Context, reservationID string) error {
	var err error
	for i := 0; i < 3; i++ {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.ReleaseTimeout)
		_, _, err = o.guard.Release(rctx, reservationID)
		cancel()
		if err == nil || errors.Is(err, repository.ErrNotFound) {
			return nil
		}
	}
	return err
}

// ConfirmPayment confirms a checkout that was left PENDING.  Every
// reservation of the checkout is confirmed together, or none is.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, ownerID, checkoutID string) (*Outcome, error) {
	if _, err := o.ownedCheckout(ctx, ownerID, checkoutID); err != nil {
		return nil, err
	}
	n, err := o.reservations.ConfirmCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrPaymentNotNeeded
	}
	list, err := o.reservations.ListByCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	o.log.Info("payment confirmed", zap.String("checkout_id", checkoutID), zap.Int("reservations", len(list)))
	o.publish(ctx, queue.ReservationConfirmed, list)
	return &Outcome{CheckoutID: checkoutID, State: StateCommitted, EventDate: list[0].EventDate, Reservations: list}, nil
}

// FailPayment is the compensating path for a PENDING checkout whose payment
// did not clear: every reservation still PENDING is cancelled and its
// capacity returned.  A checkout that was confirmed meanwhile is left alone
// and ErrCheckoutSettled is returned.
func (o *Orchestrator) FailPayment(ctx context.Context, ownerID, checkoutID string) (*Outcome, error) {
	if _, err := o.ownedCheckout(ctx, ownerID, checkoutID); err != nil {
		return nil, err
	}
	cancelled, err := o.releaseCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	o.log.Info("payment failed, checkout released", zap.String("checkout_id", checkoutID), zap.Int("released", len(cancelled)))
	o.publish(ctx, queue.ReservationCancelled, cancelled)

	list, err := o.reservations.ListByCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	return &Outcome{CheckoutID: checkoutID, State: StateFailed, EventDate: list[0].EventDate, Reservations: list}, nil
}

func (o *Orchestrator) releaseCheckout(ctx context.Context, checkoutID string) ([]model.Reservation, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReleaseTimeout)
	defer cancel()
	list, err := o.guard.ReleaseCheckout(rctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("release checkout %s: %w", checkoutID, err)
	}
	return list, nil
}

// ExpirePending releases checkouts that have waited for payment longer
// than PendingTTL and reports how many it released.  A checkout confirmed
// while the sweep runs is skipped.
func (o *Orchestrator) ExpirePending(ctx context.Context) (int, error) {
	if o.cfg.PendingTTL <= 0 {
		return 0, nil
	}
	cutoff := o.clock.Now().Add(-o.cfg.PendingTTL)
	ids, err := o.reservations.StalePendingCheckouts(ctx, cutoff, o.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale checkouts: %w", err)
	}
	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		cancelled, err := o.releaseCheckout(ctx, id)
		if errors.Is(err, ErrCheckoutSettled) || errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			o.log.Error("expire pending checkout failed", zap.String("checkout_id", id), zap.Error(err))
			continue
		}
		if len(cancelled) == 0 {
			continue
		}
		expired++
		o.log.Info("pending checkout expired", zap.String("checkout_id", id), zap.Int("released", len(cancelled)))
		o.publish(ctx, queue.ReservationCancelled, cancelled)
	}
	return expired, nil
}

// RunExpiry calls ExpirePending every interval until ctx is done.
func (o *Orchestrator) RunExpiry(ctx context.Context, interval time.Duration) {
	if o.cfg.PendingTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.ExpirePending(ctx); err != nil && ctx.Err() == nil {
				o.log.Warn("pending expiry sweep failed", zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) ownedCheckout(ctx context.Context, ownerID, checkoutID string) ([]model.Reservation, error) {
	list, err := o.reservations.ListByCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	for _, r := range list {
		if r.OwnerID != ownerID {
			return nil, repository.ErrForbidden
		}
	}
	return list, nil
}

// CancelReservation cancels one of the owner's reservations and returns its
// capacity.  Reservations for a day that has already started cannot be
// cancelled.
func (o *Orchestrator) CancelReservation(ctx context.Context, ownerID, reservationID string) (*model.Reservation, error) {
	res, err := o.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.OwnerID != ownerID {
		return nil, repository.ErrForbidden
	}
	if res.Status == model.ReservationCancelled {
		return nil, ErrAlreadyCancelled
	}
	if res.EventDate.Before(o.clock.Today()) {
		return nil, ErrPastReservation
	}
	released, ok, err := o.guard.Release(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyCancelled
	}
	o.log.Info("reservation cancelled", zap.String("reservation_id", reservationID), zap.String("owner_id", ownerID))
	o.publish(ctx, queue.ReservationCancelled, []model.Reservation{*released})
	return released, nil
}

// Reservation returns one of the owner's reservations.
func (o *Orchestrator) Reservation(ctx context.Context, ownerID, reservationID string) (*model.Reservation, error) {
	res, err := o.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.OwnerID != ownerID {
		return nil, repository.ErrForbidden
	}
	return res, nil
}

// Reservations lists the owner's reservations, newest first.
func (o *Orchestrator) Reservations(ctx context.Context, ownerID string) ([]model.Reservation, error) {
	return o.reservations.ListByOwner(ctx, ownerID)
}

// publish sends events in the background once the state they describe is
// durable.  A broker outage never fails a booking.
func (o *Orchestrator) publish(ctx context.Context, eventType string, list []model.Reservation) {
	if o.events == nil || len(list) == 0 {
		return
	}
	now := o.clock.Now()
	events := make([]queue.ReservationEvent, len(list))
	for i, r := range list {
		events[i] = queue.NewReservationEvent(eventType, r, now)
	}
	pctx := context.WithoutCancel(ctx)
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		for _, ev := range events {
			if err := o.events.PublishReservation(pctx, ev); err != nil {
				o.log.Warn("publish reservation event failed",
					zap.String("type", eventType),
					zap.String("reservation_id", ev.ReservationID),
					zap.Error(err),
				)
			}
		}
	}()
}

// Wait blocks until background event publishing has finished.
func (o *Orchestrator) Wait() { o.pending.Wait() }

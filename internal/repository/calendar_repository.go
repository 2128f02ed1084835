package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/service-booking-engine/internal/clock"
	"github.com/iliyamo/service-booking-engine/internal/model"
)

// MaxPublishDays bounds a single publish call so a typo cannot write years
// of rows in one transaction.
const MaxPublishDays = 731

// CalendarRepo is the Calendar Store: one calendar_entries row per
// (service_id, entry_date).  Reads are plain selects.  BookedCapacity only
// changes through CommitReservation and ReleaseReservation, each of which
// runs as one transaction that also writes the matching reservation row.
type CalendarRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewCalendarRepo returns a new CalendarRepo bound to the given database.
func NewCalendarRepo(db *sql.DB) *CalendarRepo {
	return &CalendarRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock stamps rows with clk's time instead of the wall clock.
func (r *CalendarRepo) WithClock(clk clock.Clock) *CalendarRepo {
	r.now = func() time.Time { return clk.Now().UTC() }
	return r
}

// DB exposes the underlying handle for callers that need their own transaction.
func (r *CalendarRepo) DB() *sql.DB { return r.db }

const entryColumns = `service_id, entry_date, total_capacity, booked_capacity, is_open, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (model.CalendarEntry, error) {
	var e model.CalendarEntry
	err := s.Scan(&e.ServiceID, &e.Date, &e.TotalCapacity, &e.BookedCapacity, &e.IsOpen, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// Get returns the entry for one service and day, or ErrNotFound.
func (r *CalendarRepo) Get(ctx context.Context, serviceID string, day model.Day) (*model.CalendarEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM calendar_entries WHERE service_id = ? AND entry_date = ?`
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, serviceID, day))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// GetRange returns the configured entries between from and to inclusive,
// ordered by date.  Days without a row are simply absent; callers must treat
// them as closed.
func (r *CalendarRepo) GetRange(ctx context.Context, serviceID string, from, to model.Day) ([]model.CalendarEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM calendar_entries
	      WHERE service_id = ? AND entry_date >= ? AND entry_date <= ?
	      ORDER BY entry_date`
	rows, err := r.db.QueryContext(ctx, q, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]model.CalendarEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// DefaultAvailability is a provider's bulk publish request.
type DefaultAvailability struct {
	ServiceID     string
	From          model.Day
	To            model.Day
	TotalCapacity int
	IsOpen        bool
}

// UpsertResult counts what a publish did.
type UpsertResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// UpsertDefault writes total capacity and the open flag for every day in the
// range.  The whole range is applied in one transaction: if any day already
// has more booked than the new total, nothing is written and a
// *CapacityBelowCommittedError is returned.  Booked capacity is never touched.
func (r *CalendarRepo) UpsertDefault(ctx context.Context, in DefaultAvailability) (UpsertResult, error) {
	var res UpsertResult
	if in.ServiceID == "" {
		return res, fmt.Errorf("%w: service id is required", ErrInvalidRange)
	}
	if in.TotalCapacity < 0 {
		return res, ErrNegativeCapacity
	}
	if in.From.IsZero() || in.To.IsZero() || in.To.Before(in.From) {
		return res, ErrInvalidRange
	}
	if in.From.DaysUntil(in.To) >= MaxPublishDays {
		return res, fmt.Errorf("%w: at most %d days per publish", ErrInvalidRange, MaxPublishDays)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := r.now()
	const upd = `UPDATE calendar_entries
	             SET total_capacity = ?, is_open = ?, version = version + 1, updated_at = ?
	             WHERE service_id = ? AND entry_date = ? AND booked_capacity <= ?`
	const ins = `INSERT INTO calendar_entries (` + entryColumns + `) VALUES (?, ?, ?, 0, ?, 0, ?, ?)`
	for day := in.From; !day.After(in.To); day = day.AddDays(1) {
		result, err := tx.ExecContext(ctx, upd, in.TotalCapacity, in.IsOpen, now, in.ServiceID, day, in.TotalCapacity)
		if err != nil {
			return res, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return res, err
		}
		if n == 1 {
			res.Updated++
			continue
		}
		// Either the row does not exist yet or it has more booked than the
		// new total allows.
		var booked int
		err = tx.QueryRowContext(ctx,
			`SELECT booked_capacity FROM calendar_entries WHERE service_id = ? AND entry_date = ?`,
			in.ServiceID, day).Scan(&booked)
		switch {
		case err == nil:
			return UpsertResult{}, &CapacityBelowCommittedError{ServiceID: in.ServiceID, Date: day, Booked: booked, Requested: in.TotalCapacity}
		case !errors.Is(err, sql.ErrNoRows):
			return UpsertResult{}, err
		}
		if _, err := tx.ExecContext(ctx, ins, in.ServiceID, day, in.TotalCapacity, in.IsOpen, now, now); err != nil {
			return UpsertResult{}, err
		}
		res.Created++
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, err
	}
	committed = true
	return res, nil
}

// CommitReservation debits res.Quantity from the entry for res.ServiceID on
// res.EventDate and inserts res, in a single transaction.  The debit is one
// conditional update: the row must be open and have room for the quantity at
// the moment of the write.  Any number of concurrent callers can succeed as
// long as capacity lasts; when the condition fails nothing is written and
// ErrDebitRejected is returned.
func (r *CalendarRepo) CommitReservation(ctx context.Context, res *model.Reservation) error {
	if res.Quantity <= 0 {
		return fmt.Errorf("reservation quantity must be positive, got %d", res.Quantity)
	}
	if res.ServiceID == "" || res.EventDate.IsZero() {
		return errors.New("reservation needs a service id and event date")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := r.now()
	const upd = `UPDATE calendar_entries
	             SET booked_capacity = booked_capacity + ?, version = version + 1, updated_at = ?
	             WHERE service_id = ? AND entry_date = ?
	               AND is_open = ? AND booked_capacity + ? <= total_capacity`
	result, err := tx.ExecContext(ctx, upd, res.Quantity, now, res.ServiceID, res.EventDate, true, res.Quantity)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrDebitRejected
	}

	res.CreatedAt = now
	res.UpdatedAt = now
	if res.Status == "" {
		res.Status = model.ReservationPending
	}
	const ins = `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins, res.ID, res.CheckoutID, res.OwnerID, res.ServiceID, res.EventDate,
		res.Quantity, res.Status, res.CreatedAt, res.UpdatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ReleaseReservation cancels the reservation and returns its quantity to the
// calendar entry in one transaction.  The decrement is clamped at zero.  It
// reports released=false, with no writes, when the reservation was already
// cancelled, so a repeated release never returns capacity twice.
func (r *CalendarRepo) ReleaseReservation(ctx context.Context, reservationID string) (*model.Reservation, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, reservationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	if res.Status == model.ReservationCancelled {
		return &res, false, nil
	}

	now := r.now()
	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		model.ReservationCancelled, now, reservationID, model.ReservationCancelled)
	if err != nil {
		return nil, false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n != 1 {
		return &res, false, nil
	}

	if err := credit(ctx, tx, res, now); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	committed = true
	res.Status = model.ReservationCancelled
	res.UpdatedAt = now
	return &res, true, nil
}

// credit returns res.Quantity to its entry, clamped at zero.
func credit(ctx context.Context, tx *sql.Tx, res model.Reservation, now time.Time) error {
	const dec = `UPDATE calendar_entries
	             SET booked_capacity = CASE WHEN booked_capacity > ? THEN booked_capacity - ? ELSE 0 END,
	                 version = version + 1, updated_at = ?
	             WHERE service_id = ? AND entry_date = ?`
	_, err := tx.ExecContext(ctx, dec, res.Quantity, res.Quantity, now, res.ServiceID, res.EventDate)
	return err
}

// CancelPendingCheckout cancels every PENDING reservation of a checkout and
// returns their capacity, all in one transaction.  It never touches a
// confirmed reservation: if any row of the checkout is CONFIRMED, or one
// stops being PENDING while the transaction runs, nothing is written and
// ErrCheckoutSettled is returned.  A checkout with nothing left pending
// yields an empty slice.
func (r *CalendarRepo) CancelPendingCheckout(ctx context.Context, checkoutID string) ([]model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE checkout_id = ? ORDER BY service_id, id`
	rows, err := tx.QueryContext(ctx, q, checkoutID)
	if err != nil {
		return nil, err
	}
	var all, pending []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		all = append(all, res)
		if res.Status == model.ReservationPending {
			pending = append(pending, res)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	for _, res := range all {
		if res.Status == model.ReservationConfirmed {
			return nil, ErrCheckoutSettled
		}
	}
	if len(pending) == 0 {
		return []model.Reservation{}, nil
	}

	now := r.now()
	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE checkout_id = ? AND status = ?`,
		model.ReservationCancelled, now, checkoutID, model.ReservationPending)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != int64(len(pending)) {
		return nil, ErrCheckoutSettled
	}
	for i := range pending {
		if err := credit(ctx, tx, pending[i], now); err != nil {
			return nil, err
		}
		pending[i].Status = model.ReservationCancelled
		pending[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return pending, nil
}

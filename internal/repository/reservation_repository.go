package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/service-booking-engine/internal/clock"
	"github.com/iliyamo/service-booking-engine/internal/model"
)

// ReservationRepo reads reservations and moves them between statuses that do
// not affect capacity.  Creating and cancelling a reservation changes booked
// capacity, so those writes live on CalendarRepo.
type ReservationRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo {
	return &ReservationRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const reservationColumns = `id, checkout_id, owner_id, service_id, event_date, quantity, status, created_at, updated_at`

func scanReservation(s rowScanner) (model.Reservation, error) {
	var r model.Reservation
	err := s.Scan(&r.ID, &r.CheckoutID, &r.OwnerID, &r.ServiceID, &r.EventDate, &r.Quantity, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// GetByID returns a reservation or ErrNotFound.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ListByOwner returns all reservations belonging to the owner, newest first.
func (r *ReservationRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE owner_id = ? ORDER BY created_at DESC, id`
	return r.list(ctx, q, ownerID)
}

// ListByCheckout returns the reservations created by one checkout attempt,
// ordered by service id.
func (r *ReservationRepo) ListByCheckout(ctx context.Context, checkoutID string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE checkout_id = ? ORDER BY service_id, id`
	return r.list(ctx, q, checkoutID)
}

func (r *ReservationRepo) list(ctx context.Context, q string, arg any) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmCheckout moves every PENDING reservation of a checkout to
// CONFIRMED in one transaction and returns how many rows changed.  The
// checkout is confirmed whole or not at all: if any of its reservations is
// cancelled, or one stops being PENDING while the transaction runs, nothing
// is written and ErrCheckoutSettled is returned.  A checkout that is already
// fully confirmed yields 0.
func (r *ReservationRepo) ConfirmCheckout(ctx context.Context, checkoutID string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM reservations WHERE checkout_id = ? GROUP BY status`, checkoutID)
	if err != nil {
		return 0, err
	}
	counts := make(map[model.ReservationStatus]int64, 3)
	for rows.Next() {
		var status model.ReservationStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return 0, err
		}
		counts[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	switch {
	case len(counts) == 0:
		return 0, ErrNotFound
	case counts[model.ReservationCancelled] > 0:
		return 0, ErrCheckoutSettled
	case counts[model.ReservationPending] == 0:
		return 0, nil
	}

	const q = `UPDATE reservations SET status = ?, updated_at = ? WHERE checkout_id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, model.ReservationConfirmed, r.now(), checkoutID, model.ReservationPending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n != counts[model.ReservationPending] {
		return 0, ErrCheckoutSettled
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return n, nil
}

// StalePendingCheckouts lists checkouts that still hold PENDING
// reservations created before cutoff, oldest first, at most limit of them.
func (r *ReservationRepo) StalePendingCheckouts(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	const q = `SELECT checkout_id, MIN(created_at) AS oldest FROM reservations
	           WHERE status = ? AND created_at < ?
	           GROUP BY checkout_id
	           ORDER BY oldest, checkout_id
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.ReservationPending, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		var oldest any
		if err := rows.Scan(&id, &oldest); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// WithClock stamps rows with clk's time instead of the wall clock.
func (r *ReservationRepo) WithClock(clk clock.Clock) *ReservationRepo {
	r.now = func() time.Time { return clk.Now().UTC() }
	return r
}

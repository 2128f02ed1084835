package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/service-booking-engine/internal/database/dbtest"
	"github.com/iliyamo/service-booking-engine/internal/model"
	"github.com/iliyamo/service-booking-engine/internal/repository"
)

var (
	oct20 = model.NewDay(2026, 10, 20)
	oct21 = model.NewDay(2026, 10, 21)
	oct22 = model.NewDay(2026, 10, 22)
)

func publish(t *testing.T, repo *repository.CalendarRepo, service string, from, to model.Day, total int) {
	t.Helper()
	_, err := repo.UpsertDefault(context.Background(), repository.DefaultAvailability{
		ServiceID: service, From: from, To: to, TotalCapacity: total, IsOpen: true,
	})
	require.NoError(t, err)
}

func newReservation(service string, day model.Day, quantity int) *model.Reservation {
	return &model.Reservation{
		ID:         uuid.NewString(),
		CheckoutID: uuid.NewString(),
		OwnerID:    "user-1",
		ServiceID:  service,
		EventDate:  day,
		Quantity:   quantity,
	}
}

func TestUpsertDefault_CreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCalendarRepo(dbtest.Open(t))

	res, err := repo.UpsertDefault(ctx, repository.DefaultAvailability{
		ServiceID: "svc-a", From: oct20, To: oct22, TotalCapacity: 5, IsOpen: true,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.UpsertResult{Created: 3}, res)

	res, err = repo.UpsertDefault(ctx, repository.DefaultAvailability{
		ServiceID: "svc-a", From: oct21, To: oct22, TotalCapacity: 7, IsOpen: false,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.UpsertResult{Updated: 2}, res)

	entries, err := repo.GetRange(ctx, "svc-a", oct20, oct22)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Date.Equal(oct20))
	assert.Equal(t, 5, entries[0].TotalCapacity)
	assert.True(t, entries[0].IsOpen)
	assert.Equal(t, 7, entries[2].TotalCapacity)
	assert.False(t, entries[2].IsOpen)
	assert.Equal(t, int64(1), entries[2].Version)
}

func TestUpsertDefault_Validation(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCalendarRepo(dbtest.Open(t))

	_, err := repo.UpsertDefault(ctx, repository.DefaultAvailability{ServiceID: "svc-a", From: oct20, To: oct20, TotalCapacity: -1})
	assert.ErrorIs(t, err, repository.ErrNegativeCapacity)

	_, err = repo.UpsertDefault(ctx, repository.DefaultAvailability{ServiceID: "svc-a", From: oct22, To: oct20, TotalCapacity: 1})
	assert.ErrorIs(t, err, repository.ErrInvalidRange)

	_, err = repo.UpsertDefault(ctx, repository.DefaultAvailability{ServiceID: "svc-a", From: oct20, To: oct20.AddDays(repository.MaxPublishDays), TotalCapacity: 1})
	assert.ErrorIs(t, err, repository.ErrInvalidRange)
}

func TestUpsertDefault_RejectsTotalBelowBooked(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCalendarRepo(dbtest.Open(t))
	publish(t, repo, "svc-a", oct20, oct22, 4)

	require.NoError(t, repo.CommitReservation(ctx, newReservation("svc-a", oct21, 3)))

	_, err := repo.UpsertDefault(ctx, repository.DefaultAvailability{
		ServiceID: "svc-a", From: oct20, To: oct22, TotalCapacity: 2, IsOpen: true,
	})
	var below *repository.CapacityBelowCommittedError
	require.True(t, errors.As(err, &below))
	assert.True(t, below.Date.Equal(oct21))
	assert.Equal(t, 3, below.Booked)
	assert.ErrorIs(t, err, repository.ErrCapacityBelowCommitted)

	// Nothing in the range was written.
	first, err := repo.Get(ctx, "svc-a", oct20)
	require.NoError(t, err)
	assert.Equal(t, 4, first.TotalCapacity)
}

func TestGet_NotFound(t *testing.T) {
	repo := repository.NewCalendarRepo(dbtest.Open(t))
	_, err := repo.Get(context.Background(), "svc-x", oct20)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCommitReservation_DebitsUntilFullWhateverTheVersion(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.NewCalendarRepo(db)
	reservations := repository.NewReservationRepo(db)
	publish(t, repo, "svc-a", oct20, oct20, 2)

	before, err := repo.Get(ctx, "svc-a", oct20)
	require.NoError(t, err)
	// Two callers that read the same row both fit.
	require.NoError(t, repo.CommitReservation(ctx, newReservation("svc-a", oct20, 1)))
	require.NoError(t, repo.CommitReservation(ctx, newReservation("svc-a", oct20, 1)))

	loser := newReservation("svc-a", oct20, 1)
	err = repo.CommitReservation(ctx, loser)
	assert.ErrorIs(t, err, repository.ErrDebitRejected)
	_, err = reservations.GetByID(ctx, loser.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	current, err := repo.Get(ctx, "svc-a", oct20)
	require.NoError(t, err)
	assert.Equal(t, 2, current.BookedCapacity)
	assert.Equal(t, before.Version+2, current.Version)
}

func TestCommitReservation_RefusesClosedMissingAndOversized(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCalendarRepo(dbtest.Open(t))
	publish(t, repo, "svc-a", oct20, oct20, 2)
	_, err := repo.UpsertDefault(ctx, repository.DefaultAvailability{
		ServiceID: "svc-a", From: oct21, To: oct21, TotalCapacity: 5, IsOpen: false,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, repo.CommitReservation(ctx, newReservation("svc-a", oct20, 3)), repository.ErrDebitRejected)
	assert.ErrorIs(t, repo.CommitReservation(ctx, newReservation("svc-a", oct21, 1)), repository.ErrDebitRejected)
	assert.ErrorIs(t, repo.CommitReservation(ctx, newReservation("svc-a", oct22, 1)), repository.ErrDebitRejected)
}

func TestReleaseReservation_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCalendarRepo(dbtest.Open(t))
	publish(t, repo, "svc-a", oct20, oct20, 5)

	res := newReservation("svc-a", oct20, 2)
	require.NoError(t, repo.CommitReservation(ctx, res))
	assert.Equal(t, model.ReservationPending, res.Status)

	released, changed, err := repo.ReleaseReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.ReservationCancelled, released.Status)

	_, changed, err = repo.ReleaseReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	entry, err := repo.Get(ctx, "svc-a", oct20)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.BookedCapacity)

	_, _, err = repo.ReleaseReservation(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func commitCheckout(t *testing.T, repo *repository.CalendarRepo, checkout string, services ...string) {
	t.Helper()
	for _, svc := range services {
		res := newReservation(svc, oct20, 1)
		res.CheckoutID = checkout
		require.NoError(t, repo.CommitReservation(context.Background(), res))
	}
}

func TestCancelPendingCheckout_ReleasesWholeCheckout(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewCalendarRepo(dbtest.Open(t))
	publish(t, repo, "svc-a", oct20, oct20, 3)
	publish(t, repo, "svc-b", oct20, oct20, 3)
	checkout := uuid.NewString()
	commitCheckout(t, repo, checkout, "svc-b", "svc-a")

	list, err := repo.CancelPendingCheckout(ctx, checkout)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "svc-a", list[0].ServiceID)
	for _, r := range list {
		assert.Equal(t, model.ReservationCancelled, r.Status)
	}
	for _, svc := range []string{"svc-a", "svc-b"} {
		e, err := repo.Get(ctx, svc, oct20)
		require.NoError(t, err)
		assert.Equal(t, 0, e.BookedCapacity, svc)
	}

	again, err := repo.CancelPendingCheckout(ctx, checkout)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = repo.CancelPendingCheckout(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCancelPendingCheckout_NeverTouchesConfirmed(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.NewCalendarRepo(db)
	reservations := repository.NewReservationRepo(db)
	publish(t, repo, "svc-a", oct20, oct20, 3)
	checkout := uuid.NewString()
	commitCheckout(t, repo, checkout, "svc-a")

	n, err := reservations.ConfirmCheckout(ctx, checkout)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.CancelPendingCheckout(ctx, checkout)
	assert.ErrorIs(t, err, repository.ErrCheckoutSettled)
	assert.ErrorIs(t, err, repository.ErrConflict)

	list, err := reservations.ListByCheckout(ctx, checkout)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, list[0].Status)
	e, err := repo.Get(ctx, "svc-a", oct20)
	require.NoError(t, err)
	assert.Equal(t, 1, e.BookedCapacity)
}

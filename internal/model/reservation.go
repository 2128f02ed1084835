package model

import "time"

// ReservationStatus enumerates the reservations.status column.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is the durable commitment record.  A reservation and the
// capacity it debits from its calendar entry are written in the same
// transaction and cancelled in the same transaction, so one never exists
// without the other.
//
// Fields:
//
//	ID         – primary key (UUID).
//	CheckoutID – checkout attempt that produced the reservation.
//	OwnerID    – opaque identity of the shopper.
//	ServiceID  – service being reserved.
//	EventDate  – day the capacity was taken from.
//	Quantity   – units debited.
//	Status     – PENDING, CONFIRMED or CANCELLED.
//	CreatedAt  – creation timestamp.
//	UpdatedAt  – last update timestamp.
type Reservation struct {
	ID         string            `json:"id"`          // reservations.id
	CheckoutID string            `json:"checkout_id"` // reservations.checkout_id
	OwnerID    string            `json:"owner_id"`    // reservations.owner_id
	ServiceID  string            `json:"service_id"`  // reservations.service_id
	EventDate  Day               `json:"event_date"`  // reservations.event_date
	Quantity   int               `json:"quantity"`    // reservations.quantity
	Status     ReservationStatus `json:"status"`      // reservations.status
	CreatedAt  time.Time         `json:"created_at"`  // reservations.created_at
	UpdatedAt  time.Time         `json:"updated_at"`  // reservations.updated_at
}

// Terminal reports whether the reservation no longer holds capacity.
func (r Reservation) Terminal() bool { return r.Status == ReservationCancelled }

// Package queue defines message payloads exchanged over the message broker
// and the consumer that records them.
package queue

import (
	"time"

	"github.com/iliyamo/service-booking-engine/internal/model"
)

// EventsQueue is the durable queue reservation events are published to.
const EventsQueue = "booking.events"

// Reservation event types.
const (
	ReservationConfirmed = "reservation.confirmed"
	ReservationCancelled = "reservation.cancelled"
)

// ReservationEvent is published after a reservation is confirmed or
// cancelled.  It carries enough for downstream consumers to log, notify or
// feed analytics without querying the primary database.
type ReservationEvent struct {
	Type          string `json:"type"`
	ReservationID string `json:"reservation_id"`
	CheckoutID    string `json:"checkout_id"`
	OwnerID       string `json:"owner_id"`
	ServiceID     string `json:"service_id"`
	EventDate     string `json:"event_date"`
	Quantity      int    `json:"quantity"`
	Status        string `json:"status"`
	OccurredAt    string `json:"occurred_at"`
}

// NewReservationEvent builds an event of the given type from r.
func NewReservationEvent(eventType string, r model.Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          eventType,
		ReservationID: r.ID,
		CheckoutID:    r.CheckoutID,
		OwnerID:       r.OwnerID,
		ServiceID:     r.ServiceID,
		EventDate:     r.EventDate.String(),
		Quantity:      r.Quantity,
		Status:        string(r.Status),
		OccurredAt:    at.UTC().Format(time.RFC3339),
	}
}

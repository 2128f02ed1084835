package model

import "time"

// CalendarEntry is the capacity ledger row for one service on one day.
// There is exactly one row per (service_id, entry_date).  BookedCapacity is
// only changed through the commitment guard; TotalCapacity and IsOpen are
// changed by provider publishing.
//
// Fields:
//
//	ServiceID      – opaque key of the offered service.
//	Date           – provider-local calendar day.
//	TotalCapacity  – maximum units bookable that day.
//	BookedCapacity – units already committed (0 <= booked <= total).
//	IsOpen         – false blacks the day out regardless of capacity.
//	Version        – bumped on every write; used for optimistic concurrency.
type CalendarEntry struct {
	ServiceID      string    `json:"service_id"`      // calendar_entries.service_id
	Date           Day       `json:"date"`            // calendar_entries.entry_date
	TotalCapacity  int       `json:"total_capacity"`  // calendar_entries.total_capacity
	BookedCapacity int       `json:"booked_capacity"` // calendar_entries.booked_capacity
	IsOpen         bool      `json:"is_open"`         // calendar_entries.is_open
	Version        int64     `json:"version"`         // calendar_entries.version
	CreatedAt      time.Time `json:"created_at"`      // calendar_entries.created_at
	UpdatedAt      time.Time `json:"updated_at"`      // calendar_entries.updated_at
}

// Remaining returns the units still bookable, never negative.
func (e CalendarEntry) Remaining() int {
	if r := e.TotalCapacity - e.BookedCapacity; r > 0 {
		return r
	}
	return 0
}
